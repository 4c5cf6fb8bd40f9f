package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Execution is one recorded archive run.
type Execution struct {
	ID         string
	Date       string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Manual     bool
	Detail     string
}

// Store persists archive run history in a local sqlite database. The
// catch-up check on startup reads it to find days the nightly job
// missed while the process was down.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	date        TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	success     INTEGER NOT NULL,
	manual      INTEGER NOT NULL,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_executions_date ON executions(date);
`

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// Record inserts the execution, assigning an ID when absent.
func (s *Store) Record(e *Execution) error {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := s.db.Exec(
		`INSERT INTO executions (id, date, started_at, finished_at, success, manual, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.StartedAt, e.FinishedAt, e.Success, e.Manual, e.Detail,
	)
	return err
}

// Succeeded reports whether date has at least one successful run.
func (s *Store) Succeeded(date string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM executions WHERE date = ? AND success = 1`, date,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Recent returns the newest executions, most recent first.
func (s *Store) Recent(limit int) ([]Execution, error) {
	rows, err := s.db.Query(
		`SELECT id, date, started_at, finished_at, success, manual, detail
		 FROM executions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.Date, &e.StartedAt, &e.FinishedAt, &e.Success, &e.Manual, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
