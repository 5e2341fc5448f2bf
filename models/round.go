package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Round Repository
//
// A Round is the record of one outing: which course, when, and the running
// total. Holes are children of a Round and travel inside its wire payload —
// the remote surface has no per-round-hole endpoint, so every hole mutation
// re-snapshots the parent round's queue task.
//
// Rounds are created with a provisional negative id and status PENDING.
// When the remote service confirms creation, the reconciliation routine
// atomically rewrites the round and all of its holes to the server id.
// Editing a SYNCED round flips it back to PENDING (dirty) and re-enqueues.
// ============================================================================

// Round mirrors one row of the rounds table. ID is the current identifier:
// negative while provisional, equal to ServerID once reconciled.
type Round struct {
	ID             int64
	ServerID       sql.NullInt64
	CourseName     string
	PlayedOn       time.Time
	TotalScore     sql.NullInt64
	SyncStatus     string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	EndedAt        sql.NullTime
}

// RoundInput carries the fields a caller supplies when starting a round.
type RoundInput struct {
	CourseName string     `json:"course_name"`
	PlayedOn   *time.Time `json:"played_on,omitempty"`
}

// RoundPatch carries a partial update; nil fields are left untouched.
type RoundPatch struct {
	CourseName *string    `json:"course_name,omitempty"`
	TotalScore *int64     `json:"total_score,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// RoundOutput is the JSON shape handed to the local UI.
type RoundOutput struct {
	ID         int64      `json:"id"`
	ServerID   *int64     `json:"server_id,omitempty"`
	CourseName string     `json:"course_name"`
	PlayedOn   time.Time  `json:"played_on"`
	TotalScore *int64     `json:"total_score,omitempty"`
	SyncStatus string     `json:"sync_status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

func (r *Round) ToOutput() RoundOutput {
	out := RoundOutput{
		ID:         r.ID,
		CourseName: r.CourseName,
		PlayedOn:   r.PlayedOn,
		SyncStatus: r.SyncStatus,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ServerID.Valid {
		v := r.ServerID.Int64
		out.ServerID = &v
	}
	if r.TotalScore.Valid {
		v := r.TotalScore.Int64
		out.TotalScore = &v
	}
	if r.EndedAt.Valid {
		v := r.EndedAt.Time
		out.EndedAt = &v
	}
	return out
}

const DDLCreateRoundsTable = `
CREATE TABLE IF NOT EXISTS rounds (
    id              BIGINT PRIMARY KEY,
    server_id       BIGINT,
    course_name     VARCHAR NOT NULL,
    played_on       TIMESTAMP NOT NULL,
    total_score     INTEGER,
    sync_status     VARCHAR NOT NULL DEFAULT 'PENDING',
    idempotency_key VARCHAR NOT NULL,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    ended_at        TIMESTAMP
);
`

const DDLCreateRoundsIndexEnded = `
CREATE INDEX IF NOT EXISTS idx_rounds_ended_at ON rounds(ended_at);
`

// roundWire is the flat snake-style payload the remote service speaks.
// The bidirectional mapping to Round lives here and only here — no inline
// renaming at call sites.
type roundWire struct {
	ID         int64      `json:"id,omitempty" msgpack:"id"`
	CourseName string     `json:"course_name" msgpack:"course_name"`
	PlayedOn   string     `json:"played_on" msgpack:"played_on"`
	TotalScore *int64     `json:"total_score,omitempty" msgpack:"total_score"`
	EndedAt    *string    `json:"ended_at,omitempty" msgpack:"ended_at"`
	Holes      []holeWire `json:"holes,omitempty" msgpack:"holes"`
}

// roundToWire maps every local field to its wire name. Provisional ids are
// never sent — the server assigns its own.
func roundToWire(r *Round, holes []Hole) roundWire {
	w := roundWire{
		CourseName: r.CourseName,
		PlayedOn:   r.PlayedOn.UTC().Format(time.RFC3339),
	}
	if r.ID > 0 {
		w.ID = r.ID
	}
	if r.TotalScore.Valid {
		score := r.TotalScore.Int64
		w.TotalScore = &score
	}
	if r.EndedAt.Valid {
		ended := r.EndedAt.Time.UTC().Format(time.RFC3339)
		w.EndedAt = &ended
	}
	for i := range holes {
		w.Holes = append(w.Holes, holeToWire(&holes[i]))
	}
	return w
}

// roundFromWire maps a server payload back to a local record. The returned
// row is SYNCED by construction: it is the server's canonical state.
func roundFromWire(w roundWire) (*Round, error) {
	playedOn, err := time.Parse(time.RFC3339, w.PlayedOn)
	if err != nil {
		return nil, serr.Wrap(err, "invalid played_on in server payload")
	}

	r := &Round{
		ID:         w.ID,
		ServerID:   sql.NullInt64{Int64: w.ID, Valid: true},
		CourseName: w.CourseName,
		PlayedOn:   playedOn,
		SyncStatus: SyncStatusSynced,
	}
	if w.TotalScore != nil {
		r.TotalScore = sql.NullInt64{Int64: *w.TotalScore, Valid: true}
	}
	if w.EndedAt != nil {
		ended, err := time.Parse(time.RFC3339, *w.EndedAt)
		if err != nil {
			return nil, serr.Wrap(err, "invalid ended_at in server payload")
		}
		r.EndedAt = sql.NullTime{Time: ended, Valid: true}
	}
	return r, nil
}

// CreateRound starts a new round locally and queues its creation for the
// remote service. Works fully offline: the returned round carries a
// provisional negative id and status PENDING.
func CreateRound(s *Session, input RoundInput) (*Round, error) {
	if input.CourseName == "" {
		return nil, validationErr("course_name is required")
	}

	now := time.Now()
	playedOn := now
	if input.PlayedOn != nil {
		playedOn = *input.PlayedOn
	}

	r := &Round{
		CourseName:     input.CourseName,
		PlayedOn:       playedOn,
		SyncStatus:     SyncStatusPending,
		IdempotencyKey: uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := WithTx(func(tx *sql.Tx) error {
		id, err := nextLocalID(tx, "rounds", EntityRound)
		if err != nil {
			return err
		}
		r.ID = id

		_, err = tx.Exec(
			`INSERT INTO rounds (id, course_name, played_on, sync_status, idempotency_key, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CourseName, r.PlayedOn, r.SyncStatus, r.IdempotencyKey, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert round")
		}

		payload, err := encodePayload(roundToWire(r, nil))
		if err != nil {
			return err
		}
		return enqueueTask(tx, EntityRound, r.ID, sql.NullInt64{}, OperationCreate, payload, r.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	s.SetCurrentRound(r.ID)
	return r, nil
}

// UpdateRound merges a patch into a round, marks it dirty if it was SYNCED,
// and collapses the change into the round's queue task. Local only — the
// network is never touched here.
func UpdateRound(s *Session, id int64, patch RoundPatch) (*Round, error) {
	var updated *Round

	err := WithTx(func(tx *sql.Tx) error {
		r, err := getRoundTx(tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return serr.New("round not found")
		}

		if patch.CourseName != nil {
			r.CourseName = *patch.CourseName
		}
		if patch.TotalScore != nil {
			r.TotalScore = sql.NullInt64{Int64: *patch.TotalScore, Valid: true}
		}
		if patch.EndedAt != nil {
			r.EndedAt = sql.NullTime{Time: *patch.EndedAt, Valid: true}
		}
		r.UpdatedAt = time.Now()
		if r.SyncStatus == SyncStatusSynced {
			r.SyncStatus = SyncStatusPending
		}

		_, err = tx.Exec(
			`UPDATE rounds SET course_name = ?, total_score = ?, ended_at = ?, sync_status = ?, updated_at = ?
			 WHERE id = ?`,
			r.CourseName, r.TotalScore, r.EndedAt, r.SyncStatus, r.UpdatedAt, r.ID,
		)
		if err != nil {
			return serr.Wrap(err, "failed to update round")
		}

		if err := enqueueRoundTask(tx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.EndedAt.Valid && s.CurrentRound() == updated.ID {
		s.SetCurrentRound(0)
	}
	return updated, nil
}

// enqueueRoundTask re-snapshots a round (with its holes) into the queue.
// Creates stay creates when the mutation collapses into an existing task.
func enqueueRoundTask(tx *sql.Tx, r *Round) error {
	holes, err := getHolesForRoundTx(tx, r.ID)
	if err != nil {
		return err
	}
	payload, err := encodePayload(roundToWire(r, holes))
	if err != nil {
		return err
	}

	op := int32(OperationUpdate)
	if r.ID < 0 {
		op = OperationCreate
	}
	return enqueueTask(tx, EntityRound, r.ID, sql.NullInt64{}, op, payload, r.UpdatedAt)
}

// DeleteRound removes a round and its holes locally and makes sure the
// server ends up without it too:
//   - never pushed and not in flight: drop the queued create, done;
//   - already on the server: queue a delete for the server id;
//   - create currently in flight: queue a delete under the provisional id —
//     when the in-flight push resolves, reconciliation finds the local rows
//     gone, skips re-inserting them, and rewrites the queued delete to the
//     freshly assigned server id so the compensating delete can dispatch.
func DeleteRound(s *Session, id int64) error {
	err := WithTx(func(tx *sql.Tx) error {
		r, err := getRoundTx(tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return serr.New("round not found")
		}

		_, inFlight, err := removePendingTask(tx, EntityRound, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM holes WHERE round_id = ?`, id); err != nil {
			return serr.Wrap(err, "failed to delete holes for round")
		}
		if _, err := tx.Exec(`DELETE FROM rounds WHERE id = ?`, id); err != nil {
			return serr.Wrap(err, "failed to delete round")
		}

		if r.ServerID.Valid || inFlight {
			if err := enqueueDeleteTask(tx, EntityRound, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.CurrentRound() == id {
		s.SetCurrentRound(0)
	}
	return nil
}

// enqueueDeleteTask directly inserts a compensating delete. Bypasses the
// dedup merge on purpose: the pending row for this entity was just removed,
// and an in-flight row must not absorb the delete.
func enqueueDeleteTask(tx *sql.Tx, entityType string, entityID int64) error {
	_, err := tx.Exec(
		`INSERT INTO sync_queue
		 (guid, entity_type, entity_id, operation, snapshot_updated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), entityType, entityID, OperationDelete, time.Now(), time.Now(), time.Now(),
	)
	if err != nil {
		return serr.Wrap(err, "failed to enqueue delete task")
	}
	return nil
}

// GetRoundByID is a local read; it never touches the network.
// Returns nil when no round exists under the id.
func GetRoundByID(id int64) (*Round, error) {
	row := db.QueryRow(roundSelect+` WHERE id = ?`, id)
	return scanRound(row)
}

// ActiveRounds returns rounds still being played, newest first.
func ActiveRounds() ([]Round, error) {
	return queryRounds(roundSelect + ` WHERE ended_at IS NULL ORDER BY played_on DESC`)
}

// PastRounds returns completed rounds, newest first.
func PastRounds() ([]Round, error) {
	return queryRounds(roundSelect + ` WHERE ended_at IS NOT NULL ORDER BY played_on DESC`)
}

const roundSelect = `
	SELECT id, server_id, course_name, played_on, total_score, sync_status,
	       idempotency_key, created_at, updated_at, ended_at
	FROM rounds`

func queryRounds(query string, args ...any) ([]Round, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query rounds")
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		var r Round
		err := rows.Scan(&r.ID, &r.ServerID, &r.CourseName, &r.PlayedOn, &r.TotalScore,
			&r.SyncStatus, &r.IdempotencyKey, &r.CreatedAt, &r.UpdatedAt, &r.EndedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan round")
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating rounds")
	}
	return rounds, nil
}

func scanRound(row *sql.Row) (*Round, error) {
	var r Round
	err := row.Scan(&r.ID, &r.ServerID, &r.CourseName, &r.PlayedOn, &r.TotalScore,
		&r.SyncStatus, &r.IdempotencyKey, &r.CreatedAt, &r.UpdatedAt, &r.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get round")
	}
	return &r, nil
}

func getRoundTx(tx *sql.Tx, id int64) (*Round, error) {
	row := tx.QueryRow(roundSelect+` WHERE id = ?`, id)
	return scanRound(row)
}

// setRoundSyncStatus flips status on a round and its holes without touching
// updated_at — status is engine bookkeeping, updated_at is the edit clock
// the conflict check depends on.
func setRoundSyncStatus(id int64, status string) error {
	return WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE rounds SET sync_status = ? WHERE id = ?`, status, id); err != nil {
			return serr.Wrap(err, "failed to set round sync status")
		}
		if _, err := tx.Exec(`UPDATE holes SET sync_status = ? WHERE round_id = ?`, status, id); err != nil {
			return serr.Wrap(err, "failed to set hole sync status")
		}
		return nil
	})
}

// FetchRoundsFromServer pulls the canonical round list and applies the
// local-wins policy: rows absent locally are inserted as SYNCED; rows that
// exist and are clean are refreshed; a locally dirty round is never
// overwritten — the pulled value is discarded (and audited) until the local
// edit itself has been confirmed.
func FetchRoundsFromServer(rc *RemoteClient) error {
	wires, err := rc.ListRounds()
	if err != nil {
		return serr.Wrap(err, "failed to fetch rounds")
	}

	for _, w := range wires {
		if err := upsertPulledRound(w); err != nil {
			return serr.Wrap(err, "failed to apply pulled round")
		}
	}
	return nil
}

func upsertPulledRound(w roundWire) error {
	incoming, err := roundFromWire(w)
	if err != nil {
		return err
	}

	return WithTx(func(tx *sql.Tx) error {
		existing, err := getRoundTx(tx, incoming.ID)
		if err != nil {
			return err
		}

		if existing != nil && existing.SyncStatus != SyncStatusSynced {
			auditLocalWins(tx, EntityRound, existing.ID, roundToWire(existing, nil), w)
			return nil
		}

		now := time.Now()
		if existing == nil {
			// Absent locally either because it is new on the server or because
			// it was deleted here and the compensating delete has not landed.
			deleted, err := hasQueuedDelete(tx, EntityRound, incoming.ID)
			if err != nil {
				return err
			}
			if deleted {
				return nil
			}
			_, err = tx.Exec(
				`INSERT INTO rounds (id, server_id, course_name, played_on, total_score, sync_status, idempotency_key, created_at, updated_at, ended_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				incoming.ID, incoming.ID, incoming.CourseName, incoming.PlayedOn, incoming.TotalScore,
				SyncStatusSynced, uuid.New().String(), now, now, incoming.EndedAt,
			)
			if err != nil {
				return serr.Wrap(err, "failed to insert pulled round")
			}
		} else {
			_, err = tx.Exec(
				`UPDATE rounds SET course_name = ?, played_on = ?, total_score = ?, ended_at = ?, sync_status = ?, updated_at = ?
				 WHERE id = ?`,
				incoming.CourseName, incoming.PlayedOn, incoming.TotalScore, incoming.EndedAt,
				SyncStatusSynced, now, incoming.ID,
			)
			if err != nil {
				return serr.Wrap(err, "failed to refresh pulled round")
			}
		}

		return replaceHolesFromWire(tx, incoming.ID, w.Holes)
	})
}

// pushRound dispatches one queued round mutation and reconciles the result.
// Called by the sync engine with the task already claimed IN_FLIGHT.
func pushRound(rc *RemoteClient, task *SyncTask) error {
	switch task.Operation {
	case OperationCreate:
		r, err := GetRoundByID(task.EntityID)
		if err != nil {
			return err
		}
		if r == nil {
			// Deleted locally before dispatch and the server never saw it;
			// nothing to create and nothing to compensate.
			return WithTx(func(tx *sql.Tx) error { return completeTask(tx, task.ID) })
		}

		var w roundWire
		if err := decodePayload(task.Payload, &w); err != nil {
			return err
		}

		resp, err := rc.CreateRound(w, r.IdempotencyKey)
		if err != nil {
			return err
		}
		return applyServerRound(task, resp)

	case OperationUpdate:
		var w roundWire
		if err := decodePayload(task.Payload, &w); err != nil {
			return err
		}
		resp, err := rc.UpdateRound(task.EntityID, w)
		if err != nil {
			return err
		}
		return applyServerRound(task, resp)

	case OperationDelete:
		if err := rc.DeleteRound(task.EntityID); err != nil && StatusOf(err) != 404 {
			// A 404 means the record is already gone server-side, which is
			// the outcome the delete wanted.
			return err
		}
		return WithTx(func(tx *sql.Tx) error { return completeTask(tx, task.ID) })
	}

	return serr.New("unknown round operation")
}
