package models

import (
	"database/sql"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Reconciliation
//
// After the remote confirms a push, one transaction makes the local store
// agree with the server's identity without ever losing a local edit:
//
//   1. re-read the entity and compare its updated_at against the snapshot
//      taken when the task was enqueued. A newer timestamp means the user
//      edited mid-flight; the server's echo is stale and must not clobber.
//   2. if the server assigned a new id, delete the provisional rows and
//      insert rows under the server id, dependents included;
//   3. rewrite not-yet-dispatched queue tasks that still name the old id;
//   4. confirm SYNCED (clean) or put the task back PENDING with a fresh
//      snapshot of the newer local state (mid-flight edit).
//
// Completion of the queue task rides in the same transaction, so either
// everything lands or nothing does.
// ============================================================================

// applyServerRound reconciles a round push against the server's response.
func applyServerRound(task *SyncTask, resp roundWire) error {
	if resp.ID <= 0 {
		return serr.New("server returned no id for round")
	}

	return WithTx(func(tx *sql.Tx) error {
		r, err := getRoundTx(tx, task.EntityID)
		if err != nil {
			return err
		}

		if r == nil {
			// Deleted locally while the push was in flight. The server row
			// now exists, so point the compensating delete at the id the
			// server knows.
			if resp.ID != task.EntityID {
				if err := rewriteQueueRefs(tx, EntityRound, task.EntityID, resp.ID); err != nil {
					return err
				}
			}
			return completeTask(tx, task.ID)
		}

		dirty := r.UpdatedAt.After(task.SnapshotUpdatedAt)

		// Update confirmed in place, no id change.
		if resp.ID == task.EntityID {
			if dirty {
				holes, err := getHolesForRoundTx(tx, r.ID)
				if err != nil {
					return err
				}
				w := roundToWire(r, holes)
				payload, err := encodePayload(w)
				if err != nil {
					return err
				}
				recordSyncConflict(tx, EntityRound, r.ID, ConflictMidFlightEdit, w, resp)
				return requeueTaskTx(tx, task, r.ID, payload, r.UpdatedAt)
			}

			if _, err := tx.Exec(`UPDATE rounds SET sync_status = ? WHERE id = ?`, SyncStatusSynced, r.ID); err != nil {
				return serr.Wrap(err, "failed to confirm round")
			}
			if err := replaceHolesFromWire(tx, r.ID, resp.Holes); err != nil {
				return err
			}
			return completeTask(tx, task.ID)
		}

		// Create confirmed: retire the provisional id.
		oldID, newID := task.EntityID, resp.ID

		localHoles, err := getHolesForRoundTx(tx, oldID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM holes WHERE round_id = ?`, oldID); err != nil {
			return serr.Wrap(err, "failed to retire provisional holes")
		}
		if _, err := tx.Exec(`DELETE FROM rounds WHERE id = ?`, oldID); err != nil {
			return serr.Wrap(err, "failed to retire provisional round")
		}

		status := SyncStatusSynced
		if dirty {
			status = SyncStatusPending
		}
		_, err = tx.Exec(
			`INSERT INTO rounds (id, server_id, course_name, played_on, total_score, sync_status, idempotency_key, created_at, updated_at, ended_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newID, newID, r.CourseName, r.PlayedOn, r.TotalScore, status,
			r.IdempotencyKey, r.CreatedAt, r.UpdatedAt, r.EndedAt,
		)
		if err != nil {
			return serr.Wrap(err, "failed to adopt server round id")
		}

		if dirty {
			// Keep the newer local holes; the follow-up push carries them.
			for i := range localHoles {
				h := localHoles[i]
				_, err = tx.Exec(
					`INSERT INTO holes (id, round_id, hole_number, par, score, putts, fairway_status,
					                    gir_status, proximity_to_hole, club_ids, sync_status, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					h.ID, newID, h.HoleNumber, h.Par, h.Score, h.Putts, h.FairwayStatus,
					h.GirStatus, h.ProximityToHole, h.ClubIDs, SyncStatusPending, h.CreatedAt, h.UpdatedAt,
				)
				if err != nil {
					return serr.Wrap(err, "failed to reparent hole")
				}
			}
		} else {
			if err := replaceHolesFromWire(tx, newID, resp.Holes); err != nil {
				return err
			}
		}

		if err := rewriteQueueRefs(tx, EntityRound, oldID, newID); err != nil {
			return err
		}

		if dirty {
			r.ID = newID
			w := roundToWire(r, localHoles)
			payload, err := encodePayload(w)
			if err != nil {
				return err
			}
			recordSyncConflict(tx, EntityRound, newID, ConflictMidFlightEdit, w, resp)

			// The task itself was skipped by the rewrite (it is IN_FLIGHT and
			// owned by this worker); repoint it and turn it into an update.
			_, err = tx.Exec(`UPDATE sync_queue SET entity_id = ?, operation = ? WHERE id = ?`,
				newID, OperationUpdate, task.ID)
			if err != nil {
				return serr.Wrap(err, "failed to repoint sync task")
			}
			return requeueTaskTx(tx, task, newID, payload, r.UpdatedAt)
		}

		logger.Debug("Round reconciled", "local_id", oldID, "server_id", newID)
		return completeTask(tx, task.ID)
	})
}

// applyServerClub reconciles a club push. Clubs have no child rows, but
// holes reference club ids and must follow an id adoption.
func applyServerClub(task *SyncTask, resp clubWire) error {
	if resp.ID <= 0 {
		return serr.New("server returned no id for club")
	}

	return WithTx(func(tx *sql.Tx) error {
		c, err := getClubTx(tx, task.EntityID)
		if err != nil {
			return err
		}

		if c == nil {
			if resp.ID != task.EntityID {
				if err := rewriteQueueRefs(tx, EntityClub, task.EntityID, resp.ID); err != nil {
					return err
				}
			}
			return completeTask(tx, task.ID)
		}

		dirty := c.UpdatedAt.After(task.SnapshotUpdatedAt)

		if resp.ID == task.EntityID {
			if dirty {
				w := clubToWire(c)
				payload, err := encodePayload(w)
				if err != nil {
					return err
				}
				recordSyncConflict(tx, EntityClub, c.ID, ConflictMidFlightEdit, w, resp)
				return requeueTaskTx(tx, task, c.ID, payload, c.UpdatedAt)
			}

			if _, err := tx.Exec(`UPDATE clubs SET sync_status = ? WHERE id = ?`, SyncStatusSynced, c.ID); err != nil {
				return serr.Wrap(err, "failed to confirm club")
			}
			return completeTask(tx, task.ID)
		}

		oldID, newID := task.EntityID, resp.ID

		if _, err := tx.Exec(`DELETE FROM clubs WHERE id = ?`, oldID); err != nil {
			return serr.Wrap(err, "failed to retire provisional club")
		}

		status := SyncStatusSynced
		if dirty {
			status = SyncStatusPending
		}
		_, err = tx.Exec(
			`INSERT INTO clubs (id, server_id, name, club_type, brand, sync_status, idempotency_key, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newID, newID, c.Name, c.ClubType, c.Brand, status, c.IdempotencyKey, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return serr.Wrap(err, "failed to adopt server club id")
		}

		if err := rewriteHoleClubRefs(tx, oldID, newID); err != nil {
			return err
		}
		if err := rewriteQueueRefs(tx, EntityClub, oldID, newID); err != nil {
			return err
		}

		if dirty {
			c.ID = newID
			w := clubToWire(c)
			payload, err := encodePayload(w)
			if err != nil {
				return err
			}
			recordSyncConflict(tx, EntityClub, newID, ConflictMidFlightEdit, w, resp)

			_, err = tx.Exec(`UPDATE sync_queue SET entity_id = ?, operation = ? WHERE id = ?`,
				newID, OperationUpdate, task.ID)
			if err != nil {
				return serr.Wrap(err, "failed to repoint sync task")
			}
			return requeueTaskTx(tx, task, newID, payload, c.UpdatedAt)
		}

		logger.Debug("Club reconciled", "local_id", oldID, "server_id", newID)
		return completeTask(tx, task.ID)
	})
}

// applyServerCourse reconciles a course create. The course row itself is
// immutable after creation (hole definitions change through their own
// tasks), so there is no mid-flight-edit branch: adoption reparents the
// hole definitions and unblocks their queued patches and any publish.
func applyServerCourse(task *SyncTask, resp courseWire) error {
	if resp.ID <= 0 {
		return serr.New("server returned no id for course")
	}

	return WithTx(func(tx *sql.Tx) error {
		c, err := getCourseTx(tx, task.EntityID)
		if err != nil {
			return err
		}

		if c == nil {
			if resp.ID != task.EntityID {
				if err := rewriteQueueRefs(tx, EntityCourse, task.EntityID, resp.ID); err != nil {
					return err
				}
			}
			return completeTask(tx, task.ID)
		}

		oldID, newID := task.EntityID, resp.ID

		if newID != oldID {
			if _, err := tx.Exec(`DELETE FROM courses WHERE id = ?`, oldID); err != nil {
				return serr.Wrap(err, "failed to retire provisional course")
			}
			_, err = tx.Exec(
				`INSERT INTO courses (id, server_id, name, location, published, sync_status, idempotency_key, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				newID, newID, c.Name, c.Location, c.Published, SyncStatusSynced,
				c.IdempotencyKey, c.CreatedAt, c.UpdatedAt,
			)
			if err != nil {
				return serr.Wrap(err, "failed to adopt server course id")
			}

			// Hole definitions keep their rows; only the parent pointer moves.
			if _, err := tx.Exec(`UPDATE course_holes SET course_id = ? WHERE course_id = ?`, newID, oldID); err != nil {
				return serr.Wrap(err, "failed to reparent course holes")
			}

			// Definitions the create payload carried are now server-side.
			// Ones edited after the snapshot have their own queued patch and
			// stay PENDING until it confirms.
			_, err = tx.Exec(
				`UPDATE course_holes SET sync_status = ? WHERE course_id = ? AND updated_at <= ?`,
				SyncStatusSynced, newID, task.SnapshotUpdatedAt,
			)
			if err != nil {
				return serr.Wrap(err, "failed to confirm course holes")
			}

			if err := rewriteQueueRefs(tx, EntityCourse, oldID, newID); err != nil {
				return err
			}
			logger.Debug("Course reconciled", "local_id", oldID, "server_id", newID)
		} else {
			if _, err := tx.Exec(`UPDATE courses SET sync_status = ? WHERE id = ?`, SyncStatusSynced, newID); err != nil {
				return serr.Wrap(err, "failed to confirm course")
			}
		}

		return completeTask(tx, task.ID)
	})
}
