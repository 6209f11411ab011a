package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/postpilot/internal/types"
)

// Run is one finished posting or login run
type Run struct {
	ID             string         `json:"id"`
	Platform       types.Platform `json:"platform"`
	Kind           string         `json:"kind"`
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	FailureKind    string         `json:"failure_kind,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	AttemptsUsed   int            `json:"attempts_used"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Steps          []types.Step   `json:"steps,omitempty"`
}

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// parallel runs share one writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		kind TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		message TEXT,
		failure_kind TEXT,
		screenshot_path TEXT,
		attempts_used INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_steps (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT,
		timestamp DATETIME NOT NULL,
		screenshot_path TEXT,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_platform ON runs(platform);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts a run and its steps. Saving the same ID again replaces it.
func (s *Store) SaveRun(r *Run) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, platform, kind, success, message, failure_kind,
			screenshot_path, attempts_used, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			success = excluded.success,
			message = excluded.message,
			failure_kind = excluded.failure_kind,
			screenshot_path = excluded.screenshot_path,
			attempts_used = excluded.attempts_used,
			finished_at = excluded.finished_at
	`, r.ID, string(r.Platform), r.Kind, r.Success, r.Message, r.FailureKind,
		r.ScreenshotPath, r.AttemptsUsed, r.StartedAt.UTC(), r.FinishedAt.UTC())
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM run_steps WHERE run_id = ?`, r.ID); err != nil {
		return err
	}
	for i, st := range r.Steps {
		_, err := tx.Exec(`
			INSERT INTO run_steps (run_id, seq, name, success, error, timestamp, screenshot_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, i, st.Name, st.Success, st.Error, st.Timestamp.UTC(), st.ScreenshotPath)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentRuns returns the newest runs first. An empty platform matches all.
func (s *Store) RecentRuns(platform types.Platform, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, platform, kind, success, message, failure_kind,
			screenshot_path, attempts_used, started_at, finished_at
		FROM runs
		WHERE ? = '' OR platform = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, string(platform), string(platform), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetRun returns a run with its steps, or sql.ErrNoRows
func (s *Store) GetRun(id string) (*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, platform, kind, success, message, failure_kind,
			screenshot_path, attempts_used, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, sql.ErrNoRows
	}

	r := runs[0]
	r.Steps, err = s.RunSteps(id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunSteps returns the recorded steps of a run in order
func (s *Store) RunSteps(runID string) ([]types.Step, error) {
	rows, err := s.db.Query(`
		SELECT name, success, error, timestamp, screenshot_path
		FROM run_steps WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []types.Step
	for rows.Next() {
		var st types.Step
		var errText, shot sql.NullString
		if err := rows.Scan(&st.Name, &st.Success, &errText, &st.Timestamp, &shot); err != nil {
			return nil, err
		}
		st.Error = errText.String
		st.ScreenshotPath = shot.String
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var platform string
		var message, failureKind, shot sql.NullString
		var attempts sql.NullInt64

		err := rows.Scan(
			&r.ID, &platform, &r.Kind, &r.Success, &message, &failureKind,
			&shot, &attempts, &r.StartedAt, &r.FinishedAt,
		)
		if err != nil {
			return nil, err
		}

		r.Platform = types.Platform(platform)
		r.Message = message.String
		r.FailureKind = failureKind.String
		r.ScreenshotPath = shot.String
		r.AttemptsUsed = int(attempts.Int64)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
