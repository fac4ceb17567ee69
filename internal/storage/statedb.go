package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"mediamirror/internal/common"
)

// StateDB is the SQLite-backed sync state database. It holds remote
// listing snapshots, the retry ledger, run checkpoints and the persisted
// local inventory for every project mirrored into a state directory.
type StateDB struct {
	path  string
	db    *sql.DB
	bun   *bun.DB
	clock clockwork.Clock
}

// SetClock replaces the wall clock, for tests.
func (s *StateDB) SetClock(clock clockwork.Clock) {
	s.clock = clock
}

// StateFileName is the database file name inside the state directory.
const StateFileName = "mediamirror.db"

// Open opens (creating if necessary) the state database in stateDir.
// Any failure here is ErrStorageUnavailable: a run cannot proceed
// without durable state.
func Open(stateDir string) (*StateDB, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create state dir: %v", common.ErrStorageUnavailable, err)
	}
	path := filepath.Join(stateDir, StateFileName)

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", common.ErrStorageUnavailable, err)
	}

	// All PRAGMAs must be explicit — libsql ignores DSN-based parameters.
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}

	// Create schema (execute statements individually for libsql compatibility)
	if err := execStatements(db, stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", common.ErrStorageUnavailable, err)
	}
	if err := execStatements(db, initState, SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initialize state file: %v", common.ErrStorageUnavailable, err)
	}

	return &StateDB{
		path:  path,
		db:    db,
		bun:   bun.NewDB(db, sqlitedialect.New()),
		clock: clockwork.NewRealClock(),
	}, nil
}

// Path returns the database file path.
func (s *StateDB) Path() string {
	return s.path
}

// Close closes the database.
func (s *StateDB) Close() error {
	return s.db.Close()
}

// BeginRun allocates the next run sequence number for a project and
// records the run attempt. The sequence is the clock the retry ledger's
// suppression windows are measured against.
func (s *StateDB) BeginRun(ctx context.Context, project, mode string) (runID string, runSeq int64, err error) {
	runID = uuid.New().String()
	model := &SyncRunModel{
		RunID:     runID,
		Project:   project,
		Mode:      mode,
		StartedAt: s.clock.Now().Unix(),
	}
	// RETURNING because libsql does not support LastInsertId
	_, err = s.bun.NewInsert().
		Model(model).
		Returning("seq").
		Exec(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("%w: begin run: %v", common.ErrStorageUnavailable, err)
	}
	return runID, model.Seq, nil
}

// FinishRun records final counts for a run.
func (s *StateDB) FinishRun(ctx context.Context, runID string, added, removed, failed int) error {
	now := s.clock.Now().Unix()
	_, err := s.bun.NewUpdate().
		Model((*SyncRunModel)(nil)).
		Set("finished_at = ?", now).
		Set("added = ?", added).
		Set("removed = ?", removed).
		Set("failed = ?", failed).
		Where("run_id = ?", runID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: finish run: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// LastRunSeq returns the most recent run sequence for a project, or 0 if
// the project has never been synced.
func (s *StateDB) LastRunSeq(ctx context.Context, project string) (int64, error) {
	var seq sql.NullInt64
	err := s.bun.NewRaw(`SELECT MAX(seq) FROM sync_runs WHERE project = ?`, project).Scan(ctx, &seq)
	if err != nil {
		return 0, fmt.Errorf("%w: last run seq: %v", common.ErrStorageUnavailable, err)
	}
	if seq.Valid {
		return seq.Int64, nil
	}
	return 0, nil
}

func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
func applyPragmas(db *sql.DB) error {
	// Busy timeout first — subsequent PRAGMAs (journal_mode=WAL needs
	// exclusive access) will wait for locks instead of failing.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", DefaultBusyTimeout)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	// WAL with NORMAL sync is safe against process crashes
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}
