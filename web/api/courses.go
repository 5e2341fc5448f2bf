package api

import (
	"encoding/json"
	"net/http"

	"caddie/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// CreateCourse handles POST /api/v1/courses
// Accepts the course with its initial hole definitions, including any
// opaque geometry payloads from the course builder.
func CreateCourse(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}

	var input models.CourseInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if input.Name == "" {
		return writeError(ctx, http.StatusBadRequest, "name is required")
	}

	course, err := models.CreateCourse(s, input)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to create course"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to create course")
	}

	holes, err := models.GetCourseHoles(course.ID)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to load course holes"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}

	logger.Info("Course created", "id", course.ID, "name", course.Name)
	return writeSuccess(ctx, http.StatusCreated, course.ToOutput(holes))
}

// ListCourses handles GET /api/v1/courses
func ListCourses(ctx rweb.Context) error {
	courses, err := models.ListCourses()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list courses"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}

	out := make([]models.CourseOutput, 0, len(courses))
	for i := range courses {
		out = append(out, courses[i].ToOutput(nil))
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// GetCourse handles GET /api/v1/courses/:id
func GetCourse(ctx rweb.Context) error {
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid course id")
	}

	course, err := models.GetCourseByID(id)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get course"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	if course == nil {
		return writeError(ctx, http.StatusNotFound, "course not found")
	}

	holes, err := models.GetCourseHoles(course.ID)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to load course holes"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	return writeSuccess(ctx, http.StatusOK, course.ToOutput(holes))
}

// UpdateCourseHole handles PUT /api/v1/courses/:id/holes
// Upserts one hole definition keyed by hole_number.
func UpdateCourseHole(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	courseID, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid course id")
	}

	var input models.CourseHoleInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	hole, err := models.UpdateCourseHole(s, courseID, input)
	if err != nil {
		if models.IsValidation(err) {
			return writeError(ctx, http.StatusBadRequest, err.Error())
		}
		logger.LogErr(serr.Wrap(err, "failed to update course hole"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to update course hole")
	}
	return writeSuccess(ctx, http.StatusOK, hole.ToOutput())
}

// PublishCourse handles POST /api/v1/courses/:id/publish
// Publication is queued like any other mutation so it survives offline.
func PublishCourse(ctx rweb.Context) error {
	s, err := requireSession(ctx)
	if s == nil {
		return err
	}
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid course id")
	}

	if err := models.PublishCourse(s, id); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to queue course publish"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to queue course publish")
	}

	logger.Info("Course publish queued", "id", id)
	return writeSuccess(ctx, http.StatusAccepted, map[string]int64{"course_id": id})
}

// RefetchCourse handles POST /api/v1/courses/:id/refetch
// Forces a pull of the course from the server, bypassing the sync interval.
func RefetchCourse(ctx rweb.Context) error {
	id, ok := pathID(ctx)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "invalid course id")
	}
	if id <= 0 {
		return writeError(ctx, http.StatusBadRequest, "course has no server id yet")
	}

	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	if err := models.FetchCourseFromServer(engine.Remote(), id); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to refetch course"), "remote error")
		return writeError(ctx, http.StatusBadGateway, "failed to refetch course")
	}
	return GetCourse(ctx)
}
