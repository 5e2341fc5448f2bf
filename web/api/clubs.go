package api

import (
	"encoding/json"
	"net/http"

	"caddie/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// CreateClub handles POST /api/v1/clubs
func CreateClub(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}

	var input models.ClubInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if input.Name == "" {
		return writeError(ctx, http.StatusBadRequest, "name is required")
	}

	club, err := models.CreateClub(s, input)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to create club"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to create club")
	}

	logger.Info("Club created", "id", club.ID, "name", club.Name)
	return writeSuccess(ctx, http.StatusCreated, club.ToOutput())
}

// ListClubs handles GET /api/v1/clubs
func ListClubs(ctx rweb.Context) error {
	clubs, err := models.ListClubs()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list clubs"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}

	out := make([]models.ClubOutput, 0, len(clubs))
	for i := range clubs {
		out = append(out, clubs[i].ToOutput())
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// GetClub handles GET /api/v1/clubs/:id
func GetClub(ctx rweb.Context) error {
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid club id")
	}

	club, err := models.GetClubByID(id)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get club"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	if club == nil {
		return writeError(ctx, http.StatusNotFound, "club not found")
	}
	return writeSuccess(ctx, http.StatusOK, club.ToOutput())
}

// UpdateClub handles PUT /api/v1/clubs/:id
func UpdateClub(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid club id")
	}

	var patch models.ClubPatch
	if err := json.Unmarshal(ctx.Request().Body(), &patch); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	club, err := models.UpdateClub(s, id, patch)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to update club"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to update club")
	}
	return writeSuccess(ctx, http.StatusOK, club.ToOutput())
}

// DeleteClub handles DELETE /api/v1/clubs/:id
func DeleteClub(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid club id")
	}

	if err := models.DeleteClub(s, id); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to delete club"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to delete club")
	}

	logger.Info("Club deleted", "id", id)
	return writeSuccess(ctx, http.StatusOK, map[string]int64{"deleted": id})
}
