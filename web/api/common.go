package api

import (
	"net/http"
	"strconv"

	"caddie/models"

	"github.com/rohanthewiz/rweb"
)

// APIResponse provides a consistent JSON response structure for all API
// endpoints. Success responses include data, error responses a message.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeSuccess sends a successful JSON response with data.
func writeSuccess(ctx rweb.Context, status int, data interface{}) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: true, Data: data})
}

// writeError sends an error JSON response.
func writeError(ctx rweb.Context, status int, message string) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: false, Error: message})
}

// pathID parses the :id route parameter. Local ids are negative, so the
// full signed range is accepted.
func pathID(ctx rweb.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Request().Param("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// requireSession fetches the device session; nil means the store is not
// initialized yet and nothing can be served.
func requireSession(ctx rweb.Context) (*models.Session, error) {
	s := models.GetSession()
	if s == nil {
		return nil, writeError(ctx, http.StatusServiceUnavailable, "device session not initialized")
	}
	return s, nil
}
