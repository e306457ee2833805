// Package recorder persists per-cycle controller diagnostics to SQLite for
// offline weight tuning.
package recorder

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Recorder wraps the diagnostics database. *sql.DB is safe for concurrent
// sessions.
type Recorder struct {
	db *sql.DB
}

// Cycle is one recorded control cycle.
type Cycle struct {
	SessionID   string
	Index       int
	Speed       float64
	CTE         float64
	EPsi        float64
	Steer       float64 // normalized command
	Throttle    float64
	SolveStatus string // "ok", "diverged", "transform", "fit"
	SolveTime   time.Duration
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cycles (
			session_id TEXT,
			cycle INTEGER,
			speed DOUBLE,
			cte DOUBLE,
			epsi DOUBLE,
			steer DOUBLE,
			throttle DOUBLE,
			solve_status TEXT,
			solve_ms DOUBLE,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Recorder{db: db}, nil
}

// RecordCycle inserts one cycle row.
func (r *Recorder) RecordCycle(c Cycle) error {
	_, err := r.db.Exec(
		`INSERT INTO cycles (session_id, cycle, speed, cte, epsi, steer, throttle, solve_status, solve_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Index, c.Speed, c.CTE, c.EPsi, c.Steer, c.Throttle,
		c.SolveStatus, float64(c.SolveTime.Microseconds())/1000.0,
	)
	return err
}

// SessionCycleCount reports how many cycles a session has recorded.
func (r *Recorder) SessionCycleCount(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM cycles WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (r *Recorder) Close() error {
	return r.db.Close()
}
