package eventstore

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store holds the two database handles the engine needs: Events is the
// DuckDB columnar store the analytical queries run against, App is the
// SQLite application database (jobs, cache, logs, entity group registry).
// The lazy double-checked-locking connect for Events mirrors the
// teacher's GetAnalyticsDB, generalized from "one DuckDB file per
// facility" to "one DuckDB file, opened once, reused for the process
// lifetime" since MAUDE is a single corpus, not a multi-facility store.
type Store struct {
	mu     sync.RWMutex
	events *sql.DB
	App    *sql.DB

	duckPath string
}

// New constructs a Store. Open must be called before use.
func New(duckPath, appPath string) *Store {
	return &Store{duckPath: duckPath}
}

// Open lazily connects both handles and applies schema, matching the
// teacher's Initialize(baseDuckPath, facilities, appPath) shape.
func (s *Store) Open(appPath string) error {
	app, err := sql.Open("sqlite3", appPath+"?_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("eventstore: open app db: %w", err)
	}
	if _, err := app.Exec(appSchemaSQLite); err != nil {
		return fmt.Errorf("eventstore: apply app schema: %w", err)
	}
	s.App = app

	if _, err := s.Events(); err != nil {
		return err
	}
	return nil
}

// Events returns the DuckDB handle, opening and schema-applying it on
// first use (double-checked locking, as in the teacher's GetAnalyticsDB).
func (s *Store) Events() (*sql.DB, error) {
	s.mu.RLock()
	if s.events != nil {
		defer s.mu.RUnlock()
		return s.events, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		return s.events, nil
	}

	db, err := sql.Open("duckdb", s.duckPath)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open duckdb: %w", err)
	}
	if _, err := db.Exec(eventsSchemaDuckDB); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: apply events schema: %w", err)
	}
	s.events = db
	log.Info().Str("component", "eventstore").Str("path", s.duckPath).Msg("opened events store")
	return s.events, nil
}

// Close releases both handles; safe to call even if Open failed partway.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			firstErr = err
		}
	}
	if s.App != nil {
		if err := s.App.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
