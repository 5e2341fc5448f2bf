package api

import (
	"encoding/json"
	"net/http"

	"caddie/models"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Control API Handlers
//
// These endpoints power the persistent sync indicator and its controls:
// status snapshot, "sync now", pull-only refresh, failed-task retry, the
// enable toggle, and per-entity sync.
// ============================================================================

// SyncStatus handles GET /api/v1/sync/status
// If sync is not configured, returns a minimal offline snapshot so the UI
// can render gracefully instead of erroring.
func SyncStatus(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeSuccess(ctx, http.StatusOK, models.SyncStatusReport{
			Offline: true,
			State:   "disabled",
		})
	}

	report, err := engine.StatusReport()
	if err != nil {
		return writeError(ctx, http.StatusInternalServerError, serr.Wrap(err, "status unavailable").Error())
	}
	return writeSuccess(ctx, http.StatusOK, report)
}

// SyncNow handles POST /api/v1/sync/now
// Runs a full cycle synchronously. 409 when one is already running.
func SyncNow(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	if err := engine.SyncNow(); err != nil {
		if err.Error() == "sync already in progress" || err.Error() == "sync is disabled" {
			return writeError(ctx, http.StatusConflict, err.Error())
		}
		return writeError(ctx, http.StatusBadGateway, serr.Wrap(err, "sync failed").Error())
	}

	report, err := engine.StatusReport()
	if err != nil {
		return writeError(ctx, http.StatusInternalServerError, "status unavailable")
	}
	return writeSuccess(ctx, http.StatusOK, report)
}

// SyncDown handles POST /api/v1/sync/down
// Pull-only refresh of rounds, clubs and courses.
func SyncDown(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	if err := engine.SyncDown(); err != nil {
		return writeError(ctx, http.StatusBadGateway, serr.Wrap(err, "refresh failed").Error())
	}
	return writeSuccess(ctx, http.StatusOK, map[string]bool{"refreshed": true})
}

// SyncRetryFailed handles POST /api/v1/sync/retry
// Resets every failed task's attempt budget and runs a cycle.
func SyncRetryFailed(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	if err := engine.RetryFailed(); err != nil {
		return writeError(ctx, http.StatusBadGateway, serr.Wrap(err, "retry failed").Error())
	}

	report, err := engine.StatusReport()
	if err != nil {
		return writeError(ctx, http.StatusInternalServerError, "status unavailable")
	}
	return writeSuccess(ctx, http.StatusOK, report)
}

// SyncToggle handles POST /api/v1/sync/toggle
// Request body: {"enabled": true} or {"enabled": false}
func SyncToggle(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	engine.SetEnabled(req.Enabled)
	return writeSuccess(ctx, http.StatusOK, map[string]bool{"enabled": engine.IsEnabled()})
}

// SyncEntity handles POST /api/v1/sync/entity
// Request body: {"entity_type": "round", "entity_id": -3}
// Pushes a single queued mutation immediately for save-and-sync flows.
func SyncEntity(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   int64  `json:"entity_id"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if req.EntityType == "" {
		return writeError(ctx, http.StatusBadRequest, "entity_type is required")
	}

	if err := engine.SyncEntity(req.EntityType, req.EntityID); err != nil {
		return writeError(ctx, http.StatusBadGateway, serr.Wrap(err, "entity sync failed").Error())
	}
	return writeSuccess(ctx, http.StatusOK, map[string]bool{"synced": true})
}

// SyncFailedTasks handles GET /api/v1/sync/failed
// Lists mutations that exhausted their attempts or were rejected, for the
// indicator's retry list.
func SyncFailedTasks(ctx rweb.Context) error {
	tasks, err := models.FailedTasks()
	if err != nil {
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}

	type failedOut struct {
		ID         int64  `json:"id"`
		EntityType string `json:"entity_type"`
		EntityID   int64  `json:"entity_id"`
		Operation  int32  `json:"operation"`
		Attempts   int32  `json:"attempts"`
		LastError  string `json:"last_error,omitempty"`
	}

	out := make([]failedOut, 0, len(tasks))
	for _, t := range tasks {
		f := failedOut{
			ID:         t.ID,
			EntityType: t.EntityType,
			EntityID:   t.EntityID,
			Operation:  t.Operation,
			Attempts:   t.AttemptCount,
		}
		if t.LastError.Valid {
			f.LastError = t.LastError.String
		}
		out = append(out, f)
	}
	return writeSuccess(ctx, http.StatusOK, out)
}

// SyncConflicts handles GET /api/v1/sync/conflicts
// Returns the recent conflict audit entries.
func SyncConflicts(ctx rweb.Context) error {
	conflicts, err := models.RecentConflicts(50)
	if err != nil {
		return writeError(ctx, http.StatusInternalServerError, "database error")
	}
	return writeSuccess(ctx, http.StatusOK, conflicts)
}
