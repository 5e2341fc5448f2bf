package api

import (
	"encoding/json"
	"net/http"

	"caddie/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// CreateRound handles POST /api/v1/rounds
// Starts a round locally; works fully offline. The response carries a
// provisional negative id until the sync engine reconciles it.
func CreateRound(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}

	var input models.RoundInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if input.CourseName == "" {
		return writeError(ctx, http.StatusBadRequest, "course_name is required")
	}

	round, err := models.CreateRound(s, input)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to create round"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to create round")
	}

	s.SetCurrentRound(round.ID)
	logger.Info("Round created", "id", round.ID, "course", round.CourseName)
	return writeSuccess(ctx, http.StatusCreated, round.ToOutput())
}

// ListRounds handles GET /api/v1/rounds
func ListRounds(ctx rweb.Context) error {
	active, err := models.ActiveRounds()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list rounds"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	past, err := models.PastRounds()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list rounds"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}

	out := make([]models.RoundOutput, 0, len(active)+len(past))
	for i := range active {
		out = append(out, active[i].ToOutput())
	}
	for i := range past {
		out = append(out, past[i].ToOutput())
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// ActiveRounds handles GET /api/v1/rounds/active
func ActiveRounds(ctx rweb.Context) error {
	rounds, err := models.ActiveRounds()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list active rounds"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	out := make([]models.RoundOutput, 0, len(rounds))
	for i := range rounds {
		out = append(out, rounds[i].ToOutput())
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// PastRounds handles GET /api/v1/rounds/past
func PastRounds(ctx rweb.Context) error {
	rounds, err := models.PastRounds()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list past rounds"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	out := make([]models.RoundOutput, 0, len(rounds))
	for i := range rounds {
		out = append(out, rounds[i].ToOutput())
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// GetRound handles GET /api/v1/rounds/:id
func GetRound(ctx rweb.Context) error {
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid round id")
	}

	round, err := models.GetRoundByID(id)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get round"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	if round == nil {
		return writeError(ctx, http.StatusNotFound, "round not found")
	}
	return writeSuccess(ctx, http.StatusOK, round.ToOutput())
}

// UpdateRound handles PUT /api/v1/rounds/:id
func UpdateRound(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid round id")
	}

	var patch models.RoundPatch
	if err := json.Unmarshal(ctx.Request().Body(), &patch); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	round, err := models.UpdateRound(s, id, patch)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to update round"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to update round")
	}

	if round.EndedAt.Valid && s.CurrentRound() == round.ID {
		s.SetCurrentRound(0)
	}
	return writeSuccess(ctx, http.StatusOK, round.ToOutput())
}

// DeleteRound handles DELETE /api/v1/rounds/:id
// The record disappears locally right away; a compensating remote delete
// is queued when the server has seen the round.
func DeleteRound(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid round id")
	}

	if err := models.DeleteRound(s, id); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to delete round"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to delete round")
	}

	if s.CurrentRound() == id {
		s.SetCurrentRound(0)
	}
	logger.Info("Round deleted", "id", id)
	return writeSuccess(ctx, http.StatusOK, map[string]int64{"deleted": id})
}

// UpsertHole handles PUT /api/v1/rounds/:id/holes
// Records or corrects one hole of the round, keyed by hole_number.
func UpsertHole(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	roundID, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid round id")
	}

	var input models.HoleInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	hole, err := models.UpsertHole(s, roundID, input)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to record hole"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to record hole")
	}
	return writeSuccess(ctx, http.StatusOK, hole.ToOutput())
}

// GetRoundHoles handles GET /api/v1/rounds/:id/holes
func GetRoundHoles(ctx rweb.Context) error {
	roundID, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid round id")
	}

	holes, err := models.GetHolesForRound(roundID)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get holes"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}

	out := make([]models.HoleOutput, 0, len(holes))
	for i := range holes {
		out = append(out, holes[i].ToOutput())
	}
	return writeSuccess(ctx, http.StatusOK, out)
}
