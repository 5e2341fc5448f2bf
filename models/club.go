package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Club Repository
//
// Clubs are flat entities with no children. They follow the same lifecycle
// as rounds: provisional negative id on create, PENDING until the push is
// reconciled, local edits win over pulled values until confirmed.
// ============================================================================

type Club struct {
	ID             int64
	ServerID       sql.NullInt64
	Name           string
	ClubType       string // DRIVER | WOOD | HYBRID | IRON | WEDGE | PUTTER
	Brand          sql.NullString
	SyncStatus     string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ClubInput struct {
	Name     string  `json:"name"`
	ClubType string  `json:"club_type"`
	Brand    *string `json:"brand,omitempty"`
}

type ClubPatch struct {
	Name     *string `json:"name,omitempty"`
	ClubType *string `json:"club_type,omitempty"`
	Brand    *string `json:"brand,omitempty"`
}

// ClubOutput is the JSON shape handed to the local UI.
type ClubOutput struct {
	ID         int64     `json:"id"`
	ServerID   *int64    `json:"server_id,omitempty"`
	Name       string    `json:"name"`
	ClubType   string    `json:"club_type"`
	Brand      *string   `json:"brand,omitempty"`
	SyncStatus string    `json:"sync_status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Club) ToOutput() ClubOutput {
	out := ClubOutput{
		ID:         c.ID,
		Name:       c.Name,
		ClubType:   c.ClubType,
		SyncStatus: c.SyncStatus,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.ServerID.Valid {
		v := c.ServerID.Int64
		out.ServerID = &v
	}
	if c.Brand.Valid {
		v := c.Brand.String
		out.Brand = &v
	}
	return out
}

const DDLCreateClubsTable = `
CREATE TABLE IF NOT EXISTS clubs (
    id              BIGINT PRIMARY KEY,
    server_id       BIGINT,
    name            VARCHAR NOT NULL,
    club_type       VARCHAR NOT NULL,
    brand           VARCHAR,
    sync_status     VARCHAR NOT NULL DEFAULT 'PENDING',
    idempotency_key VARCHAR NOT NULL,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

type clubWire struct {
	ID       int64   `json:"id,omitempty" msgpack:"id"`
	Name     string  `json:"name" msgpack:"name"`
	ClubType string  `json:"club_type" msgpack:"club_type"`
	Brand    *string `json:"brand,omitempty" msgpack:"brand"`
}

func clubToWire(c *Club) clubWire {
	w := clubWire{Name: c.Name, ClubType: c.ClubType}
	if c.ID > 0 {
		w.ID = c.ID
	}
	if c.Brand.Valid {
		v := c.Brand.String
		w.Brand = &v
	}
	return w
}

func clubFromWire(w clubWire) *Club {
	c := &Club{
		ID:         w.ID,
		ServerID:   sql.NullInt64{Int64: w.ID, Valid: w.ID > 0},
		Name:       w.Name,
		ClubType:   w.ClubType,
		Brand:      nullString(w.Brand),
		SyncStatus: SyncStatusSynced,
	}
	return c
}

func validClubType(t string) bool {
	switch t {
	case "DRIVER", "WOOD", "HYBRID", "IRON", "WEDGE", "PUTTER":
		return true
	}
	return false
}

// CreateClub inserts a club under a provisional id and enqueues its push.
func CreateClub(s *Session, input ClubInput) (*Club, error) {
	if input.Name == "" {
		return nil, validationErr("club name is required")
	}
	if !validClubType(input.ClubType) {
		return nil, validationErr("invalid club type: " + input.ClubType)
	}

	now := time.Now()
	c := &Club{
		Name:           input.Name,
		ClubType:       input.ClubType,
		Brand:          nullString(input.Brand),
		SyncStatus:     SyncStatusPending,
		IdempotencyKey: uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := WithTx(func(tx *sql.Tx) error {
		id, err := nextLocalID(tx, "clubs", EntityClub)
		if err != nil {
			return err
		}
		c.ID = id

		_, err = tx.Exec(
			`INSERT INTO clubs (id, server_id, name, club_type, brand, sync_status, idempotency_key, created_at, updated_at)
			 VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.ClubType, c.Brand, c.SyncStatus, c.IdempotencyKey, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert club")
		}
		return enqueueClubTask(tx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateClub applies a patch, dirties the row and re-snapshots its task.
func UpdateClub(s *Session, id int64, patch ClubPatch) (*Club, error) {
	var result *Club
	err := WithTx(func(tx *sql.Tx) error {
		c, err := getClubTx(tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return serr.New("club not found")
		}

		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.ClubType != nil {
			if !validClubType(*patch.ClubType) {
				return validationErr("invalid club type: " + *patch.ClubType)
			}
			c.ClubType = *patch.ClubType
		}
		if patch.Brand != nil {
			c.Brand = sql.NullString{String: *patch.Brand, Valid: *patch.Brand != ""}
		}

		c.UpdatedAt = time.Now()
		if c.SyncStatus == SyncStatusSynced {
			c.SyncStatus = SyncStatusPending
		}

		_, err = tx.Exec(
			`UPDATE clubs SET name = ?, club_type = ?, brand = ?, sync_status = ?, updated_at = ? WHERE id = ?`,
			c.Name, c.ClubType, c.Brand, c.SyncStatus, c.UpdatedAt, c.ID,
		)
		if err != nil {
			return serr.Wrap(err, "failed to update club")
		}

		if err := enqueueClubTask(tx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// enqueueClubTask snapshots the club and merges it into the queue.
func enqueueClubTask(tx *sql.Tx, c *Club) error {
	payload, err := encodePayload(clubToWire(c))
	if err != nil {
		return err
	}
	op := int32(OperationUpdate)
	if c.ID < 0 {
		op = OperationCreate
	}
	return enqueueTask(tx, EntityClub, c.ID, sql.NullInt64{}, op, payload, c.UpdatedAt)
}

// DeleteClub removes the club locally right away. Queued work for it is
// withdrawn; a compensating remote delete is scheduled when the server
// already knows the record or a create is in flight.
func DeleteClub(s *Session, id int64) error {
	return WithTx(func(tx *sql.Tx) error {
		c, err := getClubTx(tx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return serr.New("club not found")
		}

		_, inFlight, err := removePendingTask(tx, EntityClub, id)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM clubs WHERE id = ?`, id); err != nil {
			return serr.Wrap(err, "failed to delete club")
		}

		if c.ServerID.Valid || inFlight {
			return enqueueDeleteTask(tx, EntityClub, id)
		}
		return nil
	})
}

const clubSelect = `
	SELECT id, server_id, name, club_type, brand, sync_status, idempotency_key, created_at, updated_at
	FROM clubs`

func GetClubByID(id int64) (*Club, error) {
	row := db.QueryRow(clubSelect+` WHERE id = ?`, id)
	return scanClub(row)
}

func getClubTx(tx *sql.Tx, id int64) (*Club, error) {
	row := tx.QueryRow(clubSelect+` WHERE id = ?`, id)
	return scanClub(row)
}

// ListClubs returns every club in the bag, name order.
func ListClubs() ([]Club, error) {
	rows, err := db.Query(clubSelect + ` ORDER BY name ASC`)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query clubs")
	}
	defer rows.Close()

	var clubs []Club
	for rows.Next() {
		var c Club
		err := rows.Scan(&c.ID, &c.ServerID, &c.Name, &c.ClubType, &c.Brand,
			&c.SyncStatus, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan club")
		}
		clubs = append(clubs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating clubs")
	}
	return clubs, nil
}

func scanClub(row *sql.Row) (*Club, error) {
	var c Club
	err := row.Scan(&c.ID, &c.ServerID, &c.Name, &c.ClubType, &c.Brand,
		&c.SyncStatus, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to scan club")
	}
	return &c, nil
}

// FetchClubsFromServer pulls the canonical club list with the same
// local-wins policy the round pull uses.
func FetchClubsFromServer(rc *RemoteClient) error {
	wires, err := rc.ListClubs()
	if err != nil {
		return serr.Wrap(err, "failed to fetch clubs")
	}

	for _, w := range wires {
		if err := upsertPulledClub(w); err != nil {
			return serr.Wrap(err, "failed to apply pulled club")
		}
	}
	return nil
}

func upsertPulledClub(w clubWire) error {
	incoming := clubFromWire(w)

	return WithTx(func(tx *sql.Tx) error {
		existing, err := getClubTx(tx, incoming.ID)
		if err != nil {
			return err
		}

		if existing != nil && existing.SyncStatus != SyncStatusSynced {
			auditLocalWins(tx, EntityClub, existing.ID, clubToWire(existing), w)
			return nil
		}

		now := time.Now()
		if existing == nil {
			deleted, err := hasQueuedDelete(tx, EntityClub, incoming.ID)
			if err != nil {
				return err
			}
			if deleted {
				return nil
			}
			_, err = tx.Exec(
				`INSERT INTO clubs (id, server_id, name, club_type, brand, sync_status, idempotency_key, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				incoming.ID, incoming.ID, incoming.Name, incoming.ClubType, incoming.Brand,
				SyncStatusSynced, uuid.New().String(), now, now,
			)
			if err != nil {
				return serr.Wrap(err, "failed to insert pulled club")
			}
			return nil
		}

		_, err = tx.Exec(
			`UPDATE clubs SET name = ?, club_type = ?, brand = ?, sync_status = ?, updated_at = ? WHERE id = ?`,
			incoming.Name, incoming.ClubType, incoming.Brand, SyncStatusSynced, now, incoming.ID,
		)
		if err != nil {
			return serr.Wrap(err, "failed to refresh pulled club")
		}
		return nil
	})
}

// pushClub dispatches one queued club mutation.
func pushClub(rc *RemoteClient, task *SyncTask) error {
	switch task.Operation {
	case OperationCreate:
		c, err := GetClubByID(task.EntityID)
		if err != nil {
			return err
		}
		if c == nil {
			return WithTx(func(tx *sql.Tx) error { return completeTask(tx, task.ID) })
		}

		var w clubWire
		if err := decodePayload(task.Payload, &w); err != nil {
			return err
		}
		resp, err := rc.CreateClub(w, c.IdempotencyKey)
		if err != nil {
			return err
		}
		return applyServerClub(task, resp)

	case OperationUpdate:
		var w clubWire
		if err := decodePayload(task.Payload, &w); err != nil {
			return err
		}
		resp, err := rc.UpdateClub(task.EntityID, w)
		if err != nil {
			return err
		}
		return applyServerClub(task, resp)

	case OperationDelete:
		if err := rc.DeleteClub(task.EntityID); err != nil && StatusOf(err) != 404 {
			return err
		}
		return WithTx(func(tx *sql.Tx) error { return completeTask(tx, task.ID) })
	}

	return serr.New("unknown club operation")
}
