package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ============================================================================
// Sync Conflict Audit
//
// Whenever the local-wins policy discards a remote value, or a mid-flight
// local edit forces a push to be redone, the discarded comparison is
// recorded here with a readable diff. The table is diagnostic only; nothing
// reads it on the hot path.
// ============================================================================

const (
	ConflictLocalWinsPull = "LOCAL_WINS_PULL"
	ConflictMidFlightEdit = "MID_FLIGHT_EDIT"
)

const DDLCreateSyncConflictsSequence = `
CREATE SEQUENCE IF NOT EXISTS seq_sync_conflicts_id START 1;
`

const DDLCreateSyncConflictsTable = `
CREATE TABLE IF NOT EXISTS sync_conflicts (
    id          BIGINT PRIMARY KEY DEFAULT nextval('seq_sync_conflicts_id'),
    entity_type VARCHAR NOT NULL,
    entity_id   BIGINT NOT NULL,
    reason      VARCHAR NOT NULL,
    local_json  VARCHAR NOT NULL,
    remote_json VARCHAR NOT NULL,
    diff        VARCHAR NOT NULL,
    created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SyncConflict is one audited discard.
type SyncConflict struct {
	ID         int64
	EntityType string
	EntityID   int64
	Reason     string
	LocalJSON  string
	RemoteJSON string
	Diff       string
	CreatedAt  time.Time
}

// recordSyncConflict writes one audit row inside the caller's transaction.
// Best effort: an audit failure is logged, never allowed to sink the
// surrounding reconciliation.
func recordSyncConflict(tx *sql.Tx, entityType string, entityID int64, reason string, local, remote any) {
	localJSON := marshalForAudit(local)
	remoteJSON := marshalForAudit(remote)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(remoteJSON, localJSON, false)
	dmp.DiffCleanupSemantic(diffs)

	_, err := tx.Exec(
		`INSERT INTO sync_conflicts (entity_type, entity_id, reason, local_json, remote_json, diff, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityType, entityID, reason, localJSON, remoteJSON, dmp.DiffPrettyText(diffs), time.Now(),
	)
	if err != nil {
		logger.LogErr(err, "failed to record sync conflict",
			"entity_type", entityType, "entity_id", entityID, "reason", reason)
		return
	}

	logger.Debug("Sync conflict recorded",
		"entity_type", entityType, "entity_id", entityID, "reason", reason)
}

// auditLocalWins records a pulled value discarded in favor of a dirty local
// record.
func auditLocalWins(tx *sql.Tx, entityType string, entityID int64, local, remote any) {
	recordSyncConflict(tx, entityType, entityID, ConflictLocalWinsPull, local, remote)
}

func marshalForAudit(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// RecentConflicts returns the latest audited conflicts, newest first.
func RecentConflicts(limit int) ([]SyncConflict, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT id, entity_type, entity_id, reason, local_json, remote_json, diff, created_at
		 FROM sync_conflicts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapConflictQuery(err)
	}
	defer rows.Close()

	var out []SyncConflict
	for rows.Next() {
		var c SyncConflict
		err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.Reason,
			&c.LocalJSON, &c.RemoteJSON, &c.Diff, &c.CreatedAt)
		if err != nil {
			return nil, wrapConflictQuery(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapConflictQuery(err)
	}
	return out, nil
}

func wrapConflictQuery(err error) error {
	return storageFailure(err, "failed to read sync conflicts")
}
