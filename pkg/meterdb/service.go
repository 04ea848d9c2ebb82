// MeterDB stores sensor readings published by the meter engines.
// It is written by one process at a time, either meter_reader with the
// database enabled or meter_collector, and can be read by any service.
package meterdb

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// dbmigrator keeps the database type globally.
var migrateMu sync.Mutex

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.Warn().Err(err).Msg("Could not enable WAL journal")
	}

	migrateMu.Lock()
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
	migrateMu.Unlock()

	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }
