package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// ============================================================================
// Sync Queue
//
// The queue is the durable list of local mutations awaiting confirmation by
// the remote service. One row per logical entity: enqueueing a second
// mutation for the same (entity_type, entity_id) collapses into the existing
// pending task, replacing its payload snapshot. The queue never holds two
// tasks for one entity, which is what makes per-entity ordering trivial.
//
// A task leaves the queue only after its remote call succeeds AND the local
// reconciliation transaction commits. Failures are classified (errors.go):
// transient ones increment attempt_count until the threshold flips the task
// to FAILED — surfaced to the user, retained, and retried with a fresh
// attempt budget on reconnect or explicit retry.
// ============================================================================

// Sync status values shared by all entity records.
const (
	SyncStatusPending = "PENDING"
	SyncStatusSyncing = "SYNCING"
	SyncStatusSynced  = "SYNCED"
	SyncStatusFailed  = "FAILED"
)

// Operation constants define the kind of queued mutation.
const (
	OperationCreate  = 1
	OperationUpdate  = 2
	OperationDelete  = 3
	OperationPublish = 4 // course publish, runs after the course has a server id
)

// Entity type keys used in queue rows and reconciliation.
const (
	EntityRound      = "round"
	EntityClub       = "club"
	EntityCourse     = "course"
	EntityCourseHole = "course_hole"

	// Publish gets its own entity type so a publish task never dedup-merges
	// with a pending create or update for the same course id.
	EntityCoursePublish = "course_publish"
)

// Task status values. IN_FLIGHT rows are never rewritten or deleted by
// anything except the engine worker that owns them.
const (
	TaskStatusPending  = "PENDING"
	TaskStatusInFlight = "IN_FLIGHT"
	TaskStatusFailed   = "FAILED"
)

// SyncTask is one queued mutation.
// Payload holds a msgpack-encoded wire snapshot of the entity taken at
// enqueue time; SnapshotUpdatedAt is the entity's updated_at at that same
// moment, used to detect edits that land while the task is in flight.
// ParentID is set for child tasks (course hole definitions) so dispatch can
// hold them back until the parent has a server id.
type SyncTask struct {
	ID                int64
	GUID              string
	EntityType        string
	EntityID          int64
	ParentID          sql.NullInt64
	Operation         int32
	Payload           []byte
	SnapshotUpdatedAt time.Time
	AttemptCount      int32
	LastError         sql.NullString
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const DDLCreateSyncQueueSequence = `
CREATE SEQUENCE IF NOT EXISTS sync_queue_id_seq START 1;
`

const DDLCreateSyncQueueTable = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id                  BIGINT PRIMARY KEY DEFAULT nextval('sync_queue_id_seq'),
    guid                VARCHAR NOT NULL UNIQUE,
    entity_type         VARCHAR NOT NULL,
    entity_id           BIGINT NOT NULL,
    parent_id           BIGINT,
    operation           INTEGER NOT NULL,
    payload             BLOB,
    snapshot_updated_at TIMESTAMP NOT NULL,
    attempt_count       INTEGER NOT NULL DEFAULT 0,
    last_error          VARCHAR,
    status              VARCHAR NOT NULL DEFAULT 'PENDING',
    created_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const DDLCreateSyncQueueIndexEntity = `
CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);
`

// encodePayload packs a wire snapshot for durable queue storage.
func encodePayload(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, serr.Wrap(err, "failed to encode payload snapshot")
	}
	return b, nil
}

// decodePayload unpacks a stored snapshot into out.
func decodePayload(b []byte, out any) error {
	if err := msgpack.Unmarshal(b, out); err != nil {
		return serr.Wrap(err, "failed to decode payload snapshot")
	}
	return nil
}

// enqueueTask inserts or collapses a mutation for one entity.
//
// Merge rules when a pending (or failed) task already exists for the same
// (entity_type, entity_id):
//   - the payload snapshot and snapshot_updated_at are replaced with the
//     newer state — a later mutation always wins the snapshot;
//   - create + update stays a create (the server has never seen the entity);
//   - anything + delete becomes a delete;
//   - attempt_count resets and a FAILED task goes back to PENDING, since the
//     new payload invalidates whatever the server rejected.
//
// An IN_FLIGHT task is left untouched: the fresh mutation gets its own row.
// The in-flight push then fails reconciliation on the snapshot check and
// re-enqueues itself with the newer state, absorbing that row — so the queue
// is back to one task per entity before anything dispatches again.
func enqueueTask(tx *sql.Tx, entityType string, entityID int64, parentID sql.NullInt64, operation int32, payload []byte, snapshotAt time.Time) error {
	var existingID int64
	var existingOp int32
	var existingStatus string
	err := tx.QueryRow(
		`SELECT id, operation, status FROM sync_queue
		 WHERE entity_type = ? AND entity_id = ? AND status != ?`,
		entityType, entityID, TaskStatusInFlight,
	).Scan(&existingID, &existingOp, &existingStatus)

	if err == sql.ErrNoRows {
		_, err = tx.Exec(
			`INSERT INTO sync_queue
			 (guid, entity_type, entity_id, parent_id, operation, payload, snapshot_updated_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), entityType, entityID, parentID, operation, payload, snapshotAt, time.Now(), time.Now(),
		)
		if err != nil {
			return serr.Wrap(err, "failed to enqueue sync task")
		}
		return nil
	}
	if err != nil {
		return serr.Wrap(err, "failed to check for existing sync task")
	}

	mergedOp := operation
	if existingOp == OperationCreate && operation == OperationUpdate {
		mergedOp = OperationCreate
	}

	_, err = tx.Exec(
		`UPDATE sync_queue
		 SET operation = ?, payload = ?, snapshot_updated_at = ?,
		     attempt_count = 0, last_error = NULL, status = ?, updated_at = ?
		 WHERE id = ?`,
		mergedOp, payload, snapshotAt, TaskStatusPending, time.Now(), existingID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to collapse sync task")
	}
	return nil
}

// removePendingTask deletes any queued (not in-flight) task for an entity.
// Returns whether a task was removed and whether an in-flight task remains —
// the caller uses the latter to schedule a compensating delete rather than
// silently orphaning a record on the server.
func removePendingTask(tx *sql.Tx, entityType string, entityID int64) (removed bool, inFlight bool, err error) {
	res, err := tx.Exec(
		`DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND status != ?`,
		entityType, entityID, TaskStatusInFlight,
	)
	if err != nil {
		return false, false, serr.Wrap(err, "failed to remove pending sync task")
	}
	n, _ := res.RowsAffected()

	var inFlightCount int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND status = ?`,
		entityType, entityID, TaskStatusInFlight,
	).Scan(&inFlightCount)
	if err != nil {
		return n > 0, false, serr.Wrap(err, "failed to check in-flight sync task")
	}

	return n > 0, inFlightCount > 0, nil
}

// hasQueuedDelete reports whether a compensating delete for this entity is
// still awaiting dispatch. The pull path checks it so a record deleted
// locally is not resurrected by the server's list before the delete lands.
func hasQueuedDelete(tx *sql.Tx, entityType string, entityID int64) (bool, error) {
	var n int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND operation = ?`,
		entityType, entityID, OperationDelete,
	).Scan(&n)
	if err != nil {
		return false, serr.Wrap(err, "failed to check for queued delete")
	}
	return n > 0, nil
}

// dispatchableTasks returns PENDING tasks oldest-first, holding back child
// tasks whose parent still carries a provisional id — a course-hole patch
// cannot dispatch until the course create has resolved a server id. An
// entity with an IN_FLIGHT row is excluded entirely, keeping at most one
// outbound request per entity no matter who asks for a batch.
func dispatchableTasks(limit int) ([]SyncTask, error) {
	rows, err := db.Query(
		`SELECT sq.id, sq.guid, sq.entity_type, sq.entity_id, sq.parent_id, sq.operation, sq.payload,
		        sq.snapshot_updated_at, sq.attempt_count, sq.last_error, sq.status, sq.created_at, sq.updated_at
		 FROM sync_queue sq
		 WHERE sq.status = ? AND NOT (sq.parent_id IS NOT NULL AND sq.parent_id < 0)
		   AND NOT EXISTS (
		       SELECT 1 FROM sync_queue inf
		       WHERE inf.entity_type = sq.entity_type AND inf.entity_id = sq.entity_id
		         AND inf.status = ?)
		 ORDER BY sq.created_at ASC
		 LIMIT ?`,
		TaskStatusPending, TaskStatusInFlight, limit,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query dispatchable tasks")
	}
	defer rows.Close()

	return scanTasks(rows)
}

// FailedTasks returns tasks surfaced as FAILED, oldest first, for the UI's
// retry list.
func FailedTasks() ([]SyncTask, error) {
	rows, err := db.Query(
		`SELECT id, guid, entity_type, entity_id, parent_id, operation, payload,
		        snapshot_updated_at, attempt_count, last_error, status, created_at, updated_at
		 FROM sync_queue WHERE status = ? ORDER BY created_at ASC`,
		TaskStatusFailed,
	)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query failed tasks")
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]SyncTask, error) {
	var tasks []SyncTask
	for rows.Next() {
		var t SyncTask
		err := rows.Scan(&t.ID, &t.GUID, &t.EntityType, &t.EntityID, &t.ParentID, &t.Operation,
			&t.Payload, &t.SnapshotUpdatedAt, &t.AttemptCount, &t.LastError, &t.Status,
			&t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan sync task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating sync tasks")
	}
	return tasks, nil
}

// PendingTaskCount reports how many mutations await confirmation, including
// in-flight and failed ones — "pending" from the user's point of view is
// anything not yet confirmed by the server.
func PendingTaskCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, serr.Wrap(err, "failed to count pending tasks")
	}
	return n, nil
}

// markTaskInFlight claims a task for dispatch. Returns false if the task is
// no longer PENDING (completed, claimed by another worker, or collapsed).
func markTaskInFlight(taskID int64) (bool, error) {
	res, err := db.Exec(
		`UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		TaskStatusInFlight, time.Now(), taskID, TaskStatusPending,
	)
	if err != nil {
		return false, serr.Wrap(err, "failed to mark task in flight")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// completeTask removes a confirmed task inside the reconciliation
// transaction, so confirmation and local cleanup commit together.
func completeTask(tx *sql.Tx, taskID int64) error {
	if _, err := tx.Exec(`DELETE FROM sync_queue WHERE id = ?`, taskID); err != nil {
		return serr.Wrap(err, "failed to complete sync task")
	}
	return nil
}

// recordTaskFailure books a failed attempt. Rejections go straight to
// FAILED; transient failures count up toward maxAttempts first. The
// mutation is never dropped: if an edit arrived while the task was in
// flight, its row already supersedes this one and the stale snapshot is
// retired in its favor, otherwise the task itself is retained.
func recordTaskFailure(task *SyncTask, cause error, maxAttempts int) error {
	var superseded int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND id != ?`,
		task.EntityType, task.EntityID, task.ID,
	).Scan(&superseded)
	if err != nil {
		return serr.Wrap(err, "failed to check for superseding task")
	}
	if superseded > 0 {
		if _, err := db.Exec(`DELETE FROM sync_queue WHERE id = ?`, task.ID); err != nil {
			return serr.Wrap(err, "failed to retire superseded task")
		}
		logger.Debug("Failed task superseded by a newer mutation",
			"entity_type", task.EntityType, "entity_id", task.EntityID)
		return nil
	}

	attempts := task.AttemptCount + 1
	status := TaskStatusPending
	if ErrorKindOf(cause) == KindRemoteRejected || int(attempts) >= maxAttempts {
		status = TaskStatusFailed
	}

	_, err = db.Exec(
		`UPDATE sync_queue SET status = ?, attempt_count = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, attempts, cause.Error(), time.Now(), task.ID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to record task failure")
	}

	if status == TaskStatusFailed {
		logger.Info("Sync task surfaced as failed",
			"entity_type", task.EntityType,
			"entity_id", task.EntityID,
			"attempts", attempts,
			"cause", cause.Error(),
		)
	}
	return nil
}

// resetInFlightTasks returns orphaned IN_FLIGHT rows to PENDING. Runs once
// at engine startup: a task can only be legitimately in flight while a
// worker holds it, so anything in that state after a restart is a leftover
// from a crash mid-dispatch.
func resetInFlightTasks() error {
	res, err := db.Exec(
		`UPDATE sync_queue SET status = ?, updated_at = ? WHERE status = ?`,
		TaskStatusPending, time.Now(), TaskStatusInFlight,
	)
	if err != nil {
		return serr.Wrap(err, "failed to reset in-flight tasks")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info("Recovered in-flight sync tasks from previous run", "count", n)
	}
	return nil
}

// ResetFailedTasks returns every FAILED task to PENDING with a fresh attempt
// budget. Invoked when connectivity is regained and on explicit user retry.
func ResetFailedTasks() (int, error) {
	res, err := db.Exec(
		`UPDATE sync_queue SET status = ?, attempt_count = 0, updated_at = ? WHERE status = ?`,
		TaskStatusPending, time.Now(), TaskStatusFailed,
	)
	if err != nil {
		return 0, serr.Wrap(err, "failed to reset failed tasks")
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("Failed sync tasks reset for retry", "count", n)
	}
	return int(n), nil
}

// rewriteQueueRefs repoints not-yet-dispatched tasks from a retired local id
// to the server id, both as task subject and as dispatch parent. Runs inside
// the reconciliation transaction; in-flight rows are owned by their worker
// and are deliberately skipped.
func rewriteQueueRefs(tx *sql.Tx, entityType string, oldID, newID int64) error {
	_, err := tx.Exec(
		`UPDATE sync_queue SET entity_id = ?, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND status != ?`,
		newID, time.Now(), entityType, oldID, TaskStatusInFlight,
	)
	if err != nil {
		return serr.Wrap(err, "failed to rewrite queued task ids")
	}

	// Only courses parent other tasks; a round's local id must not collide
	// with a course-hole task that happens to share the numeric value.
	if entityType == EntityCourse {
		_, err = tx.Exec(
			`UPDATE sync_queue SET parent_id = ?, updated_at = ?
			 WHERE parent_id = ? AND status != ?`,
			newID, time.Now(), oldID, TaskStatusInFlight,
		)
		if err != nil {
			return serr.Wrap(err, "failed to rewrite queued task parents")
		}

		// A pending publish names the course by id too.
		_, err = tx.Exec(
			`UPDATE sync_queue SET entity_id = ?, updated_at = ?
			 WHERE entity_type = ? AND entity_id = ? AND status != ?`,
			newID, time.Now(), EntityCoursePublish, oldID, TaskStatusInFlight,
		)
		if err != nil {
			return serr.Wrap(err, "failed to rewrite queued publish ids")
		}
	}
	return nil
}

// requeueTaskTx puts an in-flight task back to PENDING with a fresh snapshot
// of the newer local state, inside the reconciliation transaction. Any row
// the mid-flight mutation inserted for the same entity is absorbed here: the
// fresh snapshot already carries its state, and two pending tasks for one
// entity must never survive the transaction. The conflict is noted on the
// task so the queue shows why it went around again.
func requeueTaskTx(tx *sql.Tx, task *SyncTask, entityID int64, payload []byte, snapshotAt time.Time) error {
	_, err := tx.Exec(
		`DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND id != ?`,
		task.EntityType, entityID, task.ID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to absorb superseded task")
	}

	conflict := reconciliationConflict("local edit landed during push; re-snapshotted")
	_, err = tx.Exec(
		`UPDATE sync_queue
		 SET status = ?, payload = ?, snapshot_updated_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		TaskStatusPending, payload, snapshotAt, conflict.Error(), time.Now(), task.ID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to re-enqueue sync task")
	}
	return nil
}
