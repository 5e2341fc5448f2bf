package models

import (
	"database/sql"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// migrateDB applies the schema. Every statement is idempotent so the whole
// list runs on each startup.
func migrateDB(conn *sql.DB) error {
	stmts := []struct {
		name string
		ddl  string
	}{
		{"device_state", DDLCreateDeviceStateTable},
		{"rounds", DDLCreateRoundsTable},
		{"rounds ended index", DDLCreateRoundsIndexEnded},
		{"holes", DDLCreateHolesTable},
		{"holes round index", DDLCreateHolesIndexRound},
		{"clubs", DDLCreateClubsTable},
		{"courses", DDLCreateCoursesTable},
		{"course_holes", DDLCreateCourseHolesTable},
		{"course_holes course index", DDLCreateCourseHolesIndexCourse},
		{"sync_queue sequence", DDLCreateSyncQueueSequence},
		{"sync_queue", DDLCreateSyncQueueTable},
		{"sync_queue entity index", DDLCreateSyncQueueIndexEntity},
		{"sync_conflicts sequence", DDLCreateSyncConflictsSequence},
		{"sync_conflicts", DDLCreateSyncConflictsTable},
	}

	for _, s := range stmts {
		if _, err := conn.Exec(s.ddl); err != nil {
			return serr.Wrap(err, "migration failed", "object", s.name)
		}
	}

	logger.Debug("Database schema is current")
	return nil
}
