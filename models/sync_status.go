package models

import (
	"time"

	"github.com/rohanthewiz/serr"
)

// SyncStatusReport is the read-only snapshot behind the persistent sync
// indicator: offline badge, pending count, spinner, failed list.
type SyncStatusReport struct {
	Offline      bool       `json:"offline"`
	Syncing      bool       `json:"syncing"`
	State        string     `json:"state"`
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// FailedTaskCount reports how many queued mutations have exhausted their
// attempts or been rejected.
func FailedTaskCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status = ?`, TaskStatusFailed).Scan(&n)
	if err != nil {
		return 0, serr.Wrap(err, "failed to count failed tasks")
	}
	return n, nil
}

// StatusReport assembles the indicator snapshot from the monitor, the queue
// and the engine's own cycle state.
func (se *SyncEngine) StatusReport() (*SyncStatusReport, error) {
	pending, err := PendingTaskCount()
	if err != nil {
		return nil, err
	}
	failed, err := FailedTaskCount()
	if err != nil {
		return nil, err
	}

	se.mu.Lock()
	state := se.state
	lastSync := se.lastSync
	lastError := se.lastError
	se.mu.Unlock()

	report := &SyncStatusReport{
		Offline:      !se.monitor.Online(),
		Syncing:      se.inProgress.Load(),
		State:        state,
		PendingCount: pending,
		FailedCount:  failed,
	}
	if !lastSync.IsZero() {
		t := lastSync
		report.LastSync = &t
	}
	if lastError != nil {
		report.LastError = lastError.Error()
	}
	return report, nil
}
