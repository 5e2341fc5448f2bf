package api

import (
	"encoding/json"
	"net/http"

	"caddie/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// Register handles POST /api/v1/auth/register
// Creates an account on the remote service and resolves the new identity
// onto the device session. Requires connectivity; there is nothing local
// about an account.
func Register(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return writeError(ctx, http.StatusBadRequest, "username and password are required")
	}

	rc := engine.Remote()
	if err := rc.RegisterUser(req.Username, req.Password); err != nil {
		logger.LogErr(serr.Wrap(err, "registration failed"), "remote error")
		if models.StatusOf(err) >= 400 && models.StatusOf(err) < 500 {
			return writeError(ctx, http.StatusConflict, "registration rejected by server")
		}
		return writeError(ctx, http.StatusBadGateway, "registration failed")
	}

	if err := rc.Me(); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to fetch user identity"), "remote error")
	}

	logger.Info("User registered", "username", req.Username)
	return writeSuccess(ctx, http.StatusCreated, map[string]string{"username": req.Username})
}

// WhoAmI handles GET /api/v1/auth/me
// Reports the identity cached on the device session; refreshes it from the
// server when it has never been resolved.
func WhoAmI(ctx rweb.Context) error {
	s := models.GetSession()
	if s == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "session not initialized")
	}

	if s.UserGUID() == "" {
		if engine := models.GetSyncEngine(); engine != nil {
			if err := engine.Remote().Me(); err != nil {
				logger.LogErr(serr.Wrap(err, "failed to fetch user identity"), "remote error")
			}
		}
	}

	return writeSuccess(ctx, http.StatusOK, map[string]string{
		"device_id": s.DeviceID,
		"user_guid": s.UserGUID(),
	})
}
