package history

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Run statuses recorded in the ledger.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DB is the local run ledger. It lives outside the managed mount point
// and is strictly best-effort: callers treat failures as warnings.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

func Open(path string, logger *slog.Logger) (*DB, error) {
	logger = logger.With("component", "history")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db := &DB{
		conn:   conn,
		logger: logger,
	}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Debug("history database ready", "path", path)
	return db, nil
}

func (db *DB) init() error {
	if _, err := db.conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	return db.runMigrations()
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Run is one recorded invocation.
type Run struct {
	ID        int64
	RunID     string
	StartedAt time.Time
	Mode      string
	Status    string
	Archived  string // archive name, empty when nothing rotated
	Eligible  int
	Removed   int
	Failed    int
	Error     string // fatal error text for failed runs
	Prunes    []Prune
}

// Prune is one deletion attempt within a run.
type Prune struct {
	Name    string
	Path    string
	Outcome string
	Error   string
}

// RecordRun inserts a run and its prune rows in one transaction.
func (db *DB) RecordRun(run *Run) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO rotation_runs (run_id, started_at, mode, status, archived, eligible, removed, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.StartedAt.Unix(), run.Mode, run.Status, run.Archived,
		run.Eligible, run.Removed, run.Failed, run.Error)
	if err != nil {
		return err
	}

	for _, p := range run.Prunes {
		if _, err := tx.Exec(`
			INSERT INTO rotation_prunes (run_id, name, path, outcome, error)
			VALUES (?, ?, ?, ?, ?)
		`, run.RunID, p.Name, p.Path, p.Outcome, p.Error); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first. Prune rows are
// not attached; use GetRunPrunes for one run's detail.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, started_at, mode, status,
		       COALESCE(archived, ''), eligible, removed, failed, COALESCE(error, '')
		FROM rotation_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var startedAt int64
		if err := rows.Scan(&run.ID, &run.RunID, &startedAt, &run.Mode, &run.Status,
			&run.Archived, &run.Eligible, &run.Removed, &run.Failed, &run.Error); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(startedAt, 0)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRunPrunes returns the prune rows of one run in insertion order.
func (db *DB) GetRunPrunes(runID string) ([]Prune, error) {
	rows, err := db.conn.Query(`
		SELECT name, path, outcome, COALESCE(error, '')
		FROM rotation_prunes
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prunes []Prune
	for rows.Next() {
		var p Prune
		if err := rows.Scan(&p.Name, &p.Path, &p.Outcome, &p.Error); err != nil {
			return nil, err
		}
		prunes = append(prunes, p)
	}
	return prunes, rows.Err()
}
