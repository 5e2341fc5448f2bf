package models

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// db is the package-level handle to the on-device DuckDB store.
// All entity tables, the sync queue and device state live in this one
// database so that cross-table writes can share a single transaction.
var (
	db   *sql.DB
	dbMu sync.Mutex // serializes write transactions; DuckDB allows one writer
)

// DefaultDBPath is where the store lives unless overridden.
const DefaultDBPath = "./data/caddie.db"

// InitDB opens the on-device store and runs migrations.
// Call once at application startup.
func InitDB(path string) error {
	if path == "" {
		path = DefaultDBPath
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return serr.Wrap(err, "failed to create data directory")
		}
	}

	var err error
	db, err = sql.Open("duckdb", path)
	if err != nil {
		return serr.Wrap(err, "failed to open local store")
	}

	if err := migrateDB(db); err != nil {
		return serr.Wrap(err, "failed to migrate local store")
	}

	logger.Info("Local store initialized", "path", path)
	return nil
}

// InitTestDB opens a throwaway store at the given path for tests.
func InitTestDB(path string) error {
	var err error
	db, err = sql.Open("duckdb", path)
	if err != nil {
		return serr.Wrap(err, "failed to open test store")
	}
	return migrateDB(db)
}

// CloseDB closes the store.
func CloseDB() {
	if db != nil {
		db.Close()
		db = nil
	}
}

// WithTx runs fn inside a single transaction. Every write inside fn becomes
// visible atomically or not at all — this is the only sanctioned way to touch
// more than one table in one logical operation (round + holes, entity row +
// queue task, reconciliation). A failed commit aborts the whole operation;
// no partial state is ever visible.
func WithTx(fn func(tx *sql.Tx) error) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return storageFailure(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageFailure(err, "failed to commit transaction")
	}
	return nil
}

// nextLocalID hands out the next provisional identifier for a table.
// Local ids are negative and count downward; server-assigned ids are
// positive, so the two ranges can never collide in the shared id column.
// The sync queue is consulted too so an id still referenced by an
// in-flight task is never reissued after its row was deleted.
func nextLocalID(tx *sql.Tx, table, entityType string) (int64, error) {
	var minID sql.NullInt64
	err := tx.QueryRow(
		"SELECT MIN(id) FROM ("+
			"SELECT id FROM "+table+" WHERE id < 0 "+
			"UNION ALL SELECT entity_id AS id FROM sync_queue WHERE entity_type = ? AND entity_id < 0)",
		entityType,
	).Scan(&minID)
	if err != nil {
		return 0, serr.Wrap(err, "failed to allocate local id for "+table)
	}
	if minID.Valid {
		return minID.Int64 - 1, nil
	}
	return -1, nil
}
