package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Hole Repository
//
// Holes are children of a Round. Their round_id always refers to the
// parent's CURRENT identifier — provisional while the round is unsynced,
// server-assigned after reconciliation; never a retired id. Hole mutations
// mark the parent dirty and collapse into the parent round's queue task,
// because holes travel inside the round's wire payload.
// ============================================================================

// Hole mirrors one row of the holes table.
type Hole struct {
	ID              int64
	RoundID         int64
	HoleNumber      int
	Par             int
	Score           sql.NullInt64
	Putts           sql.NullInt64
	FairwayStatus   sql.NullString // HIT | MISSED_LEFT | MISSED_RIGHT | SHORT | LONG
	GirStatus       sql.NullString // HIT | MISSED
	ProximityToHole sql.NullFloat64
	ClubIDs         string // JSON array of club ids in the current id space
	SyncStatus      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HoleInput carries the per-hole fields recorded by the scoring flow.
type HoleInput struct {
	HoleNumber      int      `json:"hole_number"`
	Par             int      `json:"par"`
	Score           *int64   `json:"score,omitempty"`
	Putts           *int64   `json:"putts,omitempty"`
	FairwayStatus   *string  `json:"fairway_status,omitempty"`
	GirStatus       *string  `json:"gir_status,omitempty"`
	ProximityToHole *float64 `json:"proximity_to_hole,omitempty"`
	ClubIDs         []int64  `json:"club_ids,omitempty"`
}

// HoleOutput is the JSON shape handed to the local UI.
type HoleOutput struct {
	ID              int64     `json:"id"`
	RoundID         int64     `json:"round_id"`
	HoleNumber      int       `json:"hole_number"`
	Par             int       `json:"par"`
	Score           *int64    `json:"score,omitempty"`
	Putts           *int64    `json:"putts,omitempty"`
	FairwayStatus   *string   `json:"fairway_status,omitempty"`
	GirStatus       *string   `json:"gir_status,omitempty"`
	ProximityToHole *float64  `json:"proximity_to_hole,omitempty"`
	ClubIDs         []int64   `json:"club_ids,omitempty"`
	SyncStatus      string    `json:"sync_status"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (h *Hole) ToOutput() HoleOutput {
	out := HoleOutput{
		ID:         h.ID,
		RoundID:    h.RoundID,
		HoleNumber: h.HoleNumber,
		Par:        h.Par,
		ClubIDs:    decodeClubIDs(h.ClubIDs),
		SyncStatus: h.SyncStatus,
		UpdatedAt:  h.UpdatedAt,
	}
	if h.Score.Valid {
		v := h.Score.Int64
		out.Score = &v
	}
	if h.Putts.Valid {
		v := h.Putts.Int64
		out.Putts = &v
	}
	if h.FairwayStatus.Valid {
		v := h.FairwayStatus.String
		out.FairwayStatus = &v
	}
	if h.GirStatus.Valid {
		v := h.GirStatus.String
		out.GirStatus = &v
	}
	if h.ProximityToHole.Valid {
		v := h.ProximityToHole.Float64
		out.ProximityToHole = &v
	}
	return out
}

const DDLCreateHolesTable = `
CREATE TABLE IF NOT EXISTS holes (
    id                BIGINT PRIMARY KEY,
    round_id          BIGINT NOT NULL,
    hole_number       INTEGER NOT NULL,
    par               INTEGER NOT NULL,
    score             INTEGER,
    putts             INTEGER,
    fairway_status    VARCHAR,
    gir_status        VARCHAR,
    proximity_to_hole DOUBLE,
    club_ids          VARCHAR NOT NULL DEFAULT '[]',
    sync_status       VARCHAR NOT NULL DEFAULT 'PENDING',
    created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const DDLCreateHolesIndexRound = `
CREATE INDEX IF NOT EXISTS idx_holes_round_id ON holes(round_id);
`

// holeWire is the flat snake-style payload for one hole.
type holeWire struct {
	ID              int64    `json:"id,omitempty" msgpack:"id"`
	HoleNumber      int      `json:"hole_number" msgpack:"hole_number"`
	Par             int      `json:"par" msgpack:"par"`
	Score           *int64   `json:"score,omitempty" msgpack:"score"`
	Putts           *int64   `json:"putts,omitempty" msgpack:"putts"`
	FairwayStatus   *string  `json:"fairway_status,omitempty" msgpack:"fairway_status"`
	GirStatus       *string  `json:"gir_status,omitempty" msgpack:"gir_status"`
	ProximityToHole *float64 `json:"proximity_to_hole,omitempty" msgpack:"proximity_to_hole"`
	ClubIDs         []int64  `json:"club_ids,omitempty" msgpack:"club_ids"`
}

func holeToWire(h *Hole) holeWire {
	w := holeWire{
		HoleNumber: h.HoleNumber,
		Par:        h.Par,
		ClubIDs:    decodeClubIDs(h.ClubIDs),
	}
	if h.ID > 0 {
		w.ID = h.ID
	}
	if h.Score.Valid {
		v := h.Score.Int64
		w.Score = &v
	}
	if h.Putts.Valid {
		v := h.Putts.Int64
		w.Putts = &v
	}
	if h.FairwayStatus.Valid {
		v := h.FairwayStatus.String
		w.FairwayStatus = &v
	}
	if h.GirStatus.Valid {
		v := h.GirStatus.String
		w.GirStatus = &v
	}
	if h.ProximityToHole.Valid {
		v := h.ProximityToHole.Float64
		w.ProximityToHole = &v
	}
	return w
}

func holeFromWire(w holeWire, roundID int64) *Hole {
	h := &Hole{
		ID:         w.ID,
		RoundID:    roundID,
		HoleNumber: w.HoleNumber,
		Par:        w.Par,
		ClubIDs:    encodeClubIDs(w.ClubIDs),
		SyncStatus: SyncStatusSynced,
	}
	if w.Score != nil {
		h.Score = sql.NullInt64{Int64: *w.Score, Valid: true}
	}
	if w.Putts != nil {
		h.Putts = sql.NullInt64{Int64: *w.Putts, Valid: true}
	}
	if w.FairwayStatus != nil {
		h.FairwayStatus = sql.NullString{String: *w.FairwayStatus, Valid: true}
	}
	if w.GirStatus != nil {
		h.GirStatus = sql.NullString{String: *w.GirStatus, Valid: true}
	}
	if w.ProximityToHole != nil {
		h.ProximityToHole = sql.NullFloat64{Float64: *w.ProximityToHole, Valid: true}
	}
	return h
}

// encodeClubIDs serializes club id references for the club_ids column.
func encodeClubIDs(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeClubIDs parses the club_ids column; malformed data reads as empty.
func decodeClubIDs(s string) []int64 {
	if s == "" || s == "[]" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

// UpsertHole records (or corrects) one hole of a round. Keyed by
// (round_id, hole_number): scoring the same hole twice updates in place.
// The parent round is marked dirty and its queue task re-snapshotted in the
// same transaction.
func UpsertHole(s *Session, roundID int64, input HoleInput) (*Hole, error) {
	if input.HoleNumber < 1 || input.HoleNumber > 18 {
		return nil, validationErr("hole_number must be between 1 and 18")
	}
	if input.Par < 3 || input.Par > 6 {
		return nil, validationErr("par must be between 3 and 6")
	}

	var result *Hole
	err := WithTx(func(tx *sql.Tx) error {
		r, err := getRoundTx(tx, roundID)
		if err != nil {
			return err
		}
		if r == nil {
			return serr.New("round not found")
		}

		now := time.Now()
		existing, err := getHoleByNumberTx(tx, roundID, input.HoleNumber)
		if err != nil {
			return err
		}

		h := existing
		if h == nil {
			id, err := nextLocalID(tx, "holes", "hole")
			if err != nil {
				return err
			}
			h = &Hole{ID: id, RoundID: roundID, HoleNumber: input.HoleNumber, CreatedAt: now}
		}

		h.Par = input.Par
		h.Score = nullInt64(input.Score)
		h.Putts = nullInt64(input.Putts)
		h.FairwayStatus = nullString(input.FairwayStatus)
		h.GirStatus = nullString(input.GirStatus)
		h.ProximityToHole = nullFloat64(input.ProximityToHole)
		h.ClubIDs = encodeClubIDs(input.ClubIDs)
		h.SyncStatus = SyncStatusPending
		h.UpdatedAt = now

		if existing == nil {
			_, err = tx.Exec(
				`INSERT INTO holes (id, round_id, hole_number, par, score, putts, fairway_status,
				                    gir_status, proximity_to_hole, club_ids, sync_status, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				h.ID, h.RoundID, h.HoleNumber, h.Par, h.Score, h.Putts, h.FairwayStatus,
				h.GirStatus, h.ProximityToHole, h.ClubIDs, h.SyncStatus, h.CreatedAt, h.UpdatedAt,
			)
			if err != nil {
				return serr.Wrap(err, "failed to insert hole")
			}
		} else {
			_, err = tx.Exec(
				`UPDATE holes SET par = ?, score = ?, putts = ?, fairway_status = ?, gir_status = ?,
				                  proximity_to_hole = ?, club_ids = ?, sync_status = ?, updated_at = ?
				 WHERE id = ?`,
				h.Par, h.Score, h.Putts, h.FairwayStatus, h.GirStatus,
				h.ProximityToHole, h.ClubIDs, h.SyncStatus, h.UpdatedAt, h.ID,
			)
			if err != nil {
				return serr.Wrap(err, "failed to update hole")
			}
		}

		// The hole rides in the round payload: dirty the parent and
		// re-snapshot its task.
		r.UpdatedAt = now
		if r.SyncStatus == SyncStatusSynced {
			r.SyncStatus = SyncStatusPending
		}
		_, err = tx.Exec(
			`UPDATE rounds SET sync_status = ?, updated_at = ? WHERE id = ?`,
			r.SyncStatus, r.UpdatedAt, r.ID,
		)
		if err != nil {
			return serr.Wrap(err, "failed to dirty parent round")
		}

		if err := enqueueRoundTask(tx, r); err != nil {
			return err
		}
		result = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetHolesForRound is a local read keyed by the round's current id.
func GetHolesForRound(roundID int64) ([]Hole, error) {
	rows, err := db.Query(holeSelect+` WHERE round_id = ? ORDER BY hole_number ASC`, roundID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query holes")
	}
	defer rows.Close()
	return scanHoles(rows)
}

const holeSelect = `
	SELECT id, round_id, hole_number, par, score, putts, fairway_status, gir_status,
	       proximity_to_hole, club_ids, sync_status, created_at, updated_at
	FROM holes`

func getHolesForRoundTx(tx *sql.Tx, roundID int64) ([]Hole, error) {
	rows, err := tx.Query(holeSelect+` WHERE round_id = ? ORDER BY hole_number ASC`, roundID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query holes")
	}
	defer rows.Close()
	return scanHoles(rows)
}

func getHoleByNumberTx(tx *sql.Tx, roundID int64, holeNumber int) (*Hole, error) {
	rows, err := tx.Query(holeSelect+` WHERE round_id = ? AND hole_number = ?`, roundID, holeNumber)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query hole")
	}
	defer rows.Close()

	holes, err := scanHoles(rows)
	if err != nil {
		return nil, err
	}
	if len(holes) == 0 {
		return nil, nil
	}
	return &holes[0], nil
}

func scanHoles(rows *sql.Rows) ([]Hole, error) {
	var holes []Hole
	for rows.Next() {
		var h Hole
		err := rows.Scan(&h.ID, &h.RoundID, &h.HoleNumber, &h.Par, &h.Score, &h.Putts,
			&h.FairwayStatus, &h.GirStatus, &h.ProximityToHole, &h.ClubIDs, &h.SyncStatus,
			&h.CreatedAt, &h.UpdatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan hole")
		}
		holes = append(holes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating holes")
	}
	return holes, nil
}

// replaceHolesFromWire swaps a round's hole rows for the server's canonical
// set. Used by the pull path once the parent has been judged clean.
func replaceHolesFromWire(tx *sql.Tx, roundID int64, wires []holeWire) error {
	if _, err := tx.Exec(`DELETE FROM holes WHERE round_id = ?`, roundID); err != nil {
		return serr.Wrap(err, "failed to clear holes for pulled round")
	}

	now := time.Now()
	for _, hw := range wires {
		h := holeFromWire(hw, roundID)
		_, err := tx.Exec(
			`INSERT INTO holes (id, round_id, hole_number, par, score, putts, fairway_status,
			                    gir_status, proximity_to_hole, club_ids, sync_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.RoundID, h.HoleNumber, h.Par, h.Score, h.Putts, h.FairwayStatus,
			h.GirStatus, h.ProximityToHole, h.ClubIDs, h.SyncStatus, now, now,
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert pulled hole")
		}
	}
	return nil
}

// rewriteHoleClubRefs repoints club id references inside holes when a club
// is reconciled from a provisional id to its server id. Runs inside the
// club's reconciliation transaction.
func rewriteHoleClubRefs(tx *sql.Tx, oldID, newID int64) error {
	rows, err := tx.Query(`SELECT id, club_ids FROM holes WHERE club_ids != '[]'`)
	if err != nil {
		return serr.Wrap(err, "failed to query holes for club rewrite")
	}
	defer rows.Close()

	type refUpdate struct {
		holeID  int64
		clubIDs string
	}
	var updates []refUpdate

	for rows.Next() {
		var holeID int64
		var raw string
		if err := rows.Scan(&holeID, &raw); err != nil {
			return serr.Wrap(err, "failed to scan hole club refs")
		}

		ids := decodeClubIDs(raw)
		changed := false
		for i, id := range ids {
			if id == oldID {
				ids[i] = newID
				changed = true
			}
		}
		if changed {
			updates = append(updates, refUpdate{holeID: holeID, clubIDs: encodeClubIDs(ids)})
		}
	}
	if err := rows.Err(); err != nil {
		return serr.Wrap(err, "error iterating hole club refs")
	}

	for _, u := range updates {
		if _, err := tx.Exec(`UPDATE holes SET club_ids = ? WHERE id = ?`, u.clubIDs, u.holeID); err != nil {
			return serr.Wrap(err, "failed to rewrite hole club refs")
		}
	}
	return nil
}

// Nullable conversion helpers shared by the repositories.

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
