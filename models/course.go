package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Course Repository
//
// A Course owns its hole definitions (course_holes). Unlike round holes,
// course holes have a dedicated remote PATCH endpoint and so carry their own
// queue tasks, gated on the parent course holding a server id. Course rows
// reconcile ids the usual way; course_hole rows keep their local ids for
// good because the remote addresses them by (course id, hole number).
// ============================================================================

type Course struct {
	ID             int64
	ServerID       sql.NullInt64
	Name           string
	Location       sql.NullString
	Published      bool
	SyncStatus     string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CourseHole is one hole definition on a course.
type CourseHole struct {
	ID          int64
	CourseID    int64
	HoleNumber  int
	Par         int
	Yards       sql.NullInt64
	StrokeIndex sql.NullInt64
	Features    string // opaque geometry payload from the course builder
	SyncStatus  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CourseInput struct {
	Name     string            `json:"name"`
	Location *string           `json:"location,omitempty"`
	Holes    []CourseHoleInput `json:"holes"`
}

type CourseHoleInput struct {
	HoleNumber  int     `json:"hole_number"`
	Par         int     `json:"par"`
	Yards       *int64  `json:"yards,omitempty"`
	StrokeIndex *int64  `json:"stroke_index,omitempty"`
	Features    *string `json:"features,omitempty"`
}

// CourseOutput is the JSON shape handed to the local UI.
type CourseOutput struct {
	ID         int64              `json:"id"`
	ServerID   *int64             `json:"server_id,omitempty"`
	Name       string             `json:"name"`
	Location   *string            `json:"location,omitempty"`
	Published  bool               `json:"published"`
	SyncStatus string             `json:"sync_status"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Holes      []CourseHoleOutput `json:"holes,omitempty"`
}

type CourseHoleOutput struct {
	ID          int64  `json:"id"`
	HoleNumber  int    `json:"hole_number"`
	Par         int    `json:"par"`
	Yards       *int64 `json:"yards,omitempty"`
	StrokeIndex *int64 `json:"stroke_index,omitempty"`
	Features    string `json:"features,omitempty"`
	SyncStatus  string `json:"sync_status"`
}

func (c *Course) ToOutput(holes []CourseHole) CourseOutput {
	out := CourseOutput{
		ID:         c.ID,
		Name:       c.Name,
		Published:  c.Published,
		SyncStatus: c.SyncStatus,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.ServerID.Valid {
		v := c.ServerID.Int64
		out.ServerID = &v
	}
	if c.Location.Valid {
		v := c.Location.String
		out.Location = &v
	}
	for i := range holes {
		out.Holes = append(out.Holes, holes[i].ToOutput())
	}
	return out
}

func (ch *CourseHole) ToOutput() CourseHoleOutput {
	out := CourseHoleOutput{
		ID:         ch.ID,
		HoleNumber: ch.HoleNumber,
		Par:        ch.Par,
		Features:   ch.Features,
		SyncStatus: ch.SyncStatus,
	}
	if ch.Yards.Valid {
		v := ch.Yards.Int64
		out.Yards = &v
	}
	if ch.StrokeIndex.Valid {
		v := ch.StrokeIndex.Int64
		out.StrokeIndex = &v
	}
	return out
}

const DDLCreateCoursesTable = `
CREATE TABLE IF NOT EXISTS courses (
    id              BIGINT PRIMARY KEY,
    server_id       BIGINT,
    name            VARCHAR NOT NULL,
    location        VARCHAR,
    published       BOOLEAN NOT NULL DEFAULT FALSE,
    sync_status     VARCHAR NOT NULL DEFAULT 'PENDING',
    idempotency_key VARCHAR NOT NULL,
    created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const DDLCreateCourseHolesTable = `
CREATE TABLE IF NOT EXISTS course_holes (
    id           BIGINT PRIMARY KEY,
    course_id    BIGINT NOT NULL,
    hole_number  INTEGER NOT NULL,
    par          INTEGER NOT NULL,
    yards        INTEGER,
    stroke_index INTEGER,
    features     VARCHAR NOT NULL DEFAULT '',
    sync_status  VARCHAR NOT NULL DEFAULT 'PENDING',
    created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const DDLCreateCourseHolesIndexCourse = `
CREATE INDEX IF NOT EXISTS idx_course_holes_course_id ON course_holes(course_id);
`

type courseWire struct {
	ID        int64            `json:"id,omitempty" msgpack:"id"`
	Name      string           `json:"name" msgpack:"name"`
	Location  *string          `json:"location,omitempty" msgpack:"location"`
	Published bool             `json:"published" msgpack:"published"`
	Holes     []courseHoleWire `json:"holes,omitempty" msgpack:"holes"`
}

type courseHoleWire struct {
	HoleNumber  int     `json:"hole_number" msgpack:"hole_number"`
	Par         int     `json:"par" msgpack:"par"`
	Yards       *int64  `json:"yards,omitempty" msgpack:"yards"`
	StrokeIndex *int64  `json:"stroke_index,omitempty" msgpack:"stroke_index"`
	Features    *string `json:"features,omitempty" msgpack:"features"`
}

func courseToWire(c *Course, holes []CourseHole) courseWire {
	w := courseWire{Name: c.Name, Published: c.Published}
	if c.ID > 0 {
		w.ID = c.ID
	}
	if c.Location.Valid {
		v := c.Location.String
		w.Location = &v
	}
	for i := range holes {
		w.Holes = append(w.Holes, courseHoleToWire(&holes[i]))
	}
	return w
}

func courseHoleToWire(ch *CourseHole) courseHoleWire {
	w := courseHoleWire{HoleNumber: ch.HoleNumber, Par: ch.Par}
	if ch.Yards.Valid {
		v := ch.Yards.Int64
		w.Yards = &v
	}
	if ch.StrokeIndex.Valid {
		v := ch.StrokeIndex.Int64
		w.StrokeIndex = &v
	}
	if ch.Features != "" {
		v := ch.Features
		w.Features = &v
	}
	return w
}

// CreateCourse inserts a course with its hole definitions and enqueues a
// single create task carrying the whole set. Hole definitions added or
// changed later go through UpdateCourseHole.
func CreateCourse(s *Session, input CourseInput) (*Course, error) {
	if input.Name == "" {
		return nil, validationErr("course name is required")
	}

	now := time.Now()
	c := &Course{
		Name:           input.Name,
		Location:       nullString(input.Location),
		SyncStatus:     SyncStatusPending,
		IdempotencyKey: uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := WithTx(func(tx *sql.Tx) error {
		id, err := nextLocalID(tx, "courses", EntityCourse)
		if err != nil {
			return err
		}
		c.ID = id

		_, err = tx.Exec(
			`INSERT INTO courses (id, server_id, name, location, published, sync_status, idempotency_key, created_at, updated_at)
			 VALUES (?, NULL, ?, ?, FALSE, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Location, c.SyncStatus, c.IdempotencyKey, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return serr.Wrap(err, "failed to insert course")
		}

		var holes []CourseHole
		for _, hi := range input.Holes {
			hid, err := nextLocalID(tx, "course_holes", EntityCourseHole)
			if err != nil {
				return err
			}
			ch := CourseHole{
				ID:          hid,
				CourseID:    c.ID,
				HoleNumber:  hi.HoleNumber,
				Par:         hi.Par,
				Yards:       nullInt64(hi.Yards),
				StrokeIndex: nullInt64(hi.StrokeIndex),
				SyncStatus:  SyncStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if hi.Features != nil {
				ch.Features = *hi.Features
			}
			if err := insertCourseHoleTx(tx, &ch); err != nil {
				return err
			}
			holes = append(holes, ch)
		}

		payload, err := encodePayload(courseToWire(c, holes))
		if err != nil {
			return err
		}
		return enqueueTask(tx, EntityCourse, c.ID, sql.NullInt64{}, OperationCreate, payload, c.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func insertCourseHoleTx(tx *sql.Tx, ch *CourseHole) error {
	_, err := tx.Exec(
		`INSERT INTO course_holes (id, course_id, hole_number, par, yards, stroke_index, features, sync_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.CourseID, ch.HoleNumber, ch.Par, ch.Yards, ch.StrokeIndex,
		ch.Features, ch.SyncStatus, ch.CreatedAt, ch.UpdatedAt,
	)
	if err != nil {
		return serr.Wrap(err, "failed to insert course hole")
	}
	return nil
}

// UpdateCourseHole upserts one hole definition and enqueues a patch task
// for it. The task's parent id is the course, so the engine holds the patch
// back until the course itself has a server id.
func UpdateCourseHole(s *Session, courseID int64, input CourseHoleInput) (*CourseHole, error) {
	if input.HoleNumber < 1 {
		return nil, validationErr("hole_number must be positive")
	}

	var result *CourseHole
	err := WithTx(func(tx *sql.Tx) error {
		c, err := getCourseTx(tx, courseID)
		if err != nil {
			return err
		}
		if c == nil {
			return serr.New("course not found")
		}

		now := time.Now()
		existing, err := getCourseHoleByNumberTx(tx, courseID, input.HoleNumber)
		if err != nil {
			return err
		}

		ch := existing
		if ch == nil {
			id, err := nextLocalID(tx, "course_holes", EntityCourseHole)
			if err != nil {
				return err
			}
			ch = &CourseHole{ID: id, CourseID: courseID, HoleNumber: input.HoleNumber, CreatedAt: now}
		}

		ch.Par = input.Par
		ch.Yards = nullInt64(input.Yards)
		ch.StrokeIndex = nullInt64(input.StrokeIndex)
		if input.Features != nil {
			ch.Features = *input.Features
		}
		ch.SyncStatus = SyncStatusPending
		ch.UpdatedAt = now

		if existing == nil {
			if err := insertCourseHoleTx(tx, ch); err != nil {
				return err
			}
		} else {
			_, err = tx.Exec(
				`UPDATE course_holes SET par = ?, yards = ?, stroke_index = ?, features = ?, sync_status = ?, updated_at = ?
				 WHERE id = ?`,
				ch.Par, ch.Yards, ch.StrokeIndex, ch.Features, ch.SyncStatus, ch.UpdatedAt, ch.ID,
			)
			if err != nil {
				return serr.Wrap(err, "failed to update course hole")
			}
		}

		payload, err := encodePayload(courseHoleToWire(ch))
		if err != nil {
			return err
		}
		parent := sql.NullInt64{Int64: courseID, Valid: true}
		if err := enqueueTask(tx, EntityCourseHole, ch.ID, parent, OperationUpdate, payload, ch.UpdatedAt); err != nil {
			return err
		}
		result = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PublishCourse marks the course for publication. The publish rides the
// queue like any mutation and is gated behind the course's server id.
func PublishCourse(s *Session, courseID int64) error {
	return WithTx(func(tx *sql.Tx) error {
		c, err := getCourseTx(tx, courseID)
		if err != nil {
			return err
		}
		if c == nil {
			return serr.New("course not found")
		}
		if c.Published {
			return nil
		}

		parent := sql.NullInt64{Int64: courseID, Valid: true}
		return enqueueTask(tx, EntityCoursePublish, courseID, parent, OperationPublish, nil, time.Now())
	})
}

const courseSelect = `
	SELECT id, server_id, name, location, published, sync_status, idempotency_key, created_at, updated_at
	FROM courses`

func GetCourseByID(id int64) (*Course, error) {
	row := db.QueryRow(courseSelect+` WHERE id = ?`, id)
	return scanCourse(row)
}

func getCourseTx(tx *sql.Tx, id int64) (*Course, error) {
	row := tx.QueryRow(courseSelect+` WHERE id = ?`, id)
	return scanCourse(row)
}

func scanCourse(row *sql.Row) (*Course, error) {
	var c Course
	err := row.Scan(&c.ID, &c.ServerID, &c.Name, &c.Location, &c.Published,
		&c.SyncStatus, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to scan course")
	}
	return &c, nil
}

// ListCourses returns all locally known courses, name order.
func ListCourses() ([]Course, error) {
	rows, err := db.Query(courseSelect + ` ORDER BY name ASC`)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query courses")
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var c Course
		err := rows.Scan(&c.ID, &c.ServerID, &c.Name, &c.Location, &c.Published,
			&c.SyncStatus, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan course")
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating courses")
	}
	return courses, nil
}

const courseHoleSelect = `
	SELECT id, course_id, hole_number, par, yards, stroke_index, features, sync_status, created_at, updated_at
	FROM course_holes`

// GetCourseHoles returns the hole definitions for a course in play order.
func GetCourseHoles(courseID int64) ([]CourseHole, error) {
	rows, err := db.Query(courseHoleSelect+` WHERE course_id = ? ORDER BY hole_number ASC`, courseID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query course holes")
	}
	defer rows.Close()
	return scanCourseHoles(rows)
}

func getCourseHolesTx(tx *sql.Tx, courseID int64) ([]CourseHole, error) {
	rows, err := tx.Query(courseHoleSelect+` WHERE course_id = ? ORDER BY hole_number ASC`, courseID)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query course holes")
	}
	defer rows.Close()
	return scanCourseHoles(rows)
}

func getCourseHoleByNumberTx(tx *sql.Tx, courseID int64, holeNumber int) (*CourseHole, error) {
	rows, err := tx.Query(courseHoleSelect+` WHERE course_id = ? AND hole_number = ?`, courseID, holeNumber)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query course hole")
	}
	defer rows.Close()

	holes, err := scanCourseHoles(rows)
	if err != nil {
		return nil, err
	}
	if len(holes) == 0 {
		return nil, nil
	}
	return &holes[0], nil
}

func scanCourseHoles(rows *sql.Rows) ([]CourseHole, error) {
	var holes []CourseHole
	for rows.Next() {
		var ch CourseHole
		err := rows.Scan(&ch.ID, &ch.CourseID, &ch.HoleNumber, &ch.Par, &ch.Yards,
			&ch.StrokeIndex, &ch.Features, &ch.SyncStatus, &ch.CreatedAt, &ch.UpdatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan course hole")
		}
		holes = append(holes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating course holes")
	}
	return holes, nil
}

// FetchCourseFromServer pulls one course with its hole definitions, applying
// the local-wins policy to the course row and refreshing clean hole rows.
func FetchCourseFromServer(rc *RemoteClient, courseID int64) error {
	// The classified error is returned as-is; the engine's pull loop needs
	// its status code to tolerate courses deleted server side.
	w, err := rc.GetCourse(courseID)
	if err != nil {
		return err
	}
	return upsertPulledCourse(w)
}

func upsertPulledCourse(w courseWire) error {
	return WithTx(func(tx *sql.Tx) error {
		existing, err := getCourseTx(tx, w.ID)
		if err != nil {
			return err
		}

		if existing != nil && existing.SyncStatus != SyncStatusSynced {
			holes, err := getCourseHolesTx(tx, existing.ID)
			if err != nil {
				return err
			}
			auditLocalWins(tx, EntityCourse, existing.ID, courseToWire(existing, holes), w)
			return nil
		}

		now := time.Now()
		if existing == nil {
			_, err = tx.Exec(
				`INSERT INTO courses (id, server_id, name, location, published, sync_status, idempotency_key, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				w.ID, w.ID, w.Name, nullString(w.Location), w.Published,
				SyncStatusSynced, uuid.New().String(), now, now,
			)
			if err != nil {
				return serr.Wrap(err, "failed to insert pulled course")
			}
		} else {
			_, err = tx.Exec(
				`UPDATE courses SET name = ?, location = ?, published = ?, sync_status = ?, updated_at = ? WHERE id = ?`,
				w.Name, nullString(w.Location), w.Published, SyncStatusSynced, now, w.ID,
			)
			if err != nil {
				return serr.Wrap(err, "failed to refresh pulled course")
			}
		}

		return replaceCourseHolesFromWire(tx, w.ID, w.Holes)
	})
}

// replaceCourseHolesFromWire swaps a clean course's hole definitions for the
// server's set, keeping any locally dirty definition untouched.
func replaceCourseHolesFromWire(tx *sql.Tx, courseID int64, wires []courseHoleWire) error {
	existing, err := getCourseHolesTx(tx, courseID)
	if err != nil {
		return err
	}

	dirty := make(map[int]bool)
	for _, ch := range existing {
		if ch.SyncStatus != SyncStatusSynced {
			dirty[ch.HoleNumber] = true
		}
	}

	now := time.Now()
	for _, hw := range wires {
		if dirty[hw.HoleNumber] {
			continue
		}

		prev, err := getCourseHoleByNumberTx(tx, courseID, hw.HoleNumber)
		if err != nil {
			return err
		}

		features := ""
		if hw.Features != nil {
			features = *hw.Features
		}

		if prev == nil {
			id, err := nextLocalID(tx, "course_holes", EntityCourseHole)
			if err != nil {
				return err
			}
			ch := CourseHole{
				ID:          id,
				CourseID:    courseID,
				HoleNumber:  hw.HoleNumber,
				Par:         hw.Par,
				Yards:       nullInt64(hw.Yards),
				StrokeIndex: nullInt64(hw.StrokeIndex),
				Features:    features,
				SyncStatus:  SyncStatusSynced,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := insertCourseHoleTx(tx, &ch); err != nil {
				return err
			}
			continue
		}

		_, err = tx.Exec(
			`UPDATE course_holes SET par = ?, yards = ?, stroke_index = ?, features = ?, sync_status = ?, updated_at = ?
			 WHERE id = ?`,
			hw.Par, nullInt64(hw.Yards), nullInt64(hw.StrokeIndex), features,
			SyncStatusSynced, now, prev.ID,
		)
		if err != nil {
			return serr.Wrap(err, "failed to refresh pulled course hole")
		}
	}
	return nil
}

// pushCourse dispatches one queued course mutation.
func pushCourse(rc *RemoteClient, task *SyncTask) error {
	switch task.Operation {
	case OperationCreate:
		c, err := GetCourseByID(task.EntityID)
		if err != nil {
			return err
		}
		if c == nil {
			return WithTx(func(tx *sql.Tx) error { return completeTask(tx, task.ID) })
		}

		var w courseWire
		if err := decodePayload(task.Payload, &w); err != nil {
			return err
		}
		resp, err := rc.CreateCourse(w, c.IdempotencyKey)
		if err != nil {
			return err
		}
		return applyServerCourse(task, resp)

	case OperationDelete:
		if err := rc.DeleteCourse(task.EntityID); err != nil && StatusOf(err) != 404 {
			return err
		}
		return WithTx(func(tx *sql.Tx) error { return completeTask(tx, task.ID) })
	}

	return serr.New("unknown course operation")
}

// pushCourseHole dispatches one hole-definition patch. Course holes never
// reconcile ids: the remote addresses them by course id and hole number.
func pushCourseHole(rc *RemoteClient, task *SyncTask) error {
	if !task.ParentID.Valid || task.ParentID.Int64 < 0 {
		return serr.New("course hole task dispatched without a server-side course")
	}

	var w courseHoleWire
	if err := decodePayload(task.Payload, &w); err != nil {
		return err
	}

	if _, err := rc.PatchCourseHole(task.ParentID.Int64, w.HoleNumber, w); err != nil {
		return err
	}

	return WithTx(func(tx *sql.Tx) error {
		row, err := getCourseHoleByNumberTx(tx, task.ParentID.Int64, w.HoleNumber)
		if err != nil {
			return err
		}
		if row != nil {
			// Confirm only if no further local edit landed since the snapshot.
			if !row.UpdatedAt.After(task.SnapshotUpdatedAt) {
				_, err = tx.Exec(`UPDATE course_holes SET sync_status = ? WHERE id = ?`, SyncStatusSynced, row.ID)
				if err != nil {
					return serr.Wrap(err, "failed to confirm course hole")
				}
			}
		}
		return completeTask(tx, task.ID)
	})
}

// pushCoursePublish runs the publish call once the course has a server id.
func pushCoursePublish(rc *RemoteClient, task *SyncTask) error {
	if err := rc.PublishCourse(task.EntityID); err != nil {
		return err
	}

	return WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE courses SET published = TRUE WHERE id = ?`, task.EntityID); err != nil {
			return serr.Wrap(err, "failed to mark course published")
		}
		return completeTask(tx, task.ID)
	})
}
