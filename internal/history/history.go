// Package history persists beam current samples, mode transitions, and
// fault events to SQLite for trend queries and post-mortem review.
package history

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one periodic reading of the beam.
type Sample struct {
	ID             int64
	BeamCurrentAvg float64
	MachineMode    string
	InjectionPhase string
	Timestamp      time.Time
}

// Transition is one machine mode change.
type Transition struct {
	ID        int64
	FromMode  string
	ToMode    string
	Reason    string
	Timestamp time.Time
}

// Fault is one recorded Down event.
type Fault struct {
	ID          int64
	Mode        string
	PriorMode   string
	Reason      string
	Description string
	Timestamp   time.Time
}

// Store wraps the SQLite history database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the history database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite requires single-connection mode for :memory: databases
	// (each pool connection gets its own in-memory DB otherwise).
	// For file-based DBs this also avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS current_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    beam_current_avg REAL NOT NULL,
    machine_mode TEXT NOT NULL,
    injection_phase TEXT NOT NULL,
    timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mode_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    from_mode TEXT NOT NULL,
    to_mode TEXT NOT NULL,
    reason TEXT DEFAULT '',
    timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fault_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mode TEXT NOT NULL,
    prior_mode TEXT DEFAULT '',
    reason TEXT DEFAULT '',
    description TEXT DEFAULT '',
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_current_samples_ts ON current_samples(timestamp);
CREATE INDEX IF NOT EXISTS idx_mode_transitions_ts ON mode_transitions(timestamp);
CREATE INDEX IF NOT EXISTS idx_fault_events_ts ON fault_events(timestamp);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by packages that need direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ---------------------------------------------------------------------------
// Samples
// ---------------------------------------------------------------------------

func (s *Store) RecordSample(avg float64, mode, phase string) error {
	_, err := s.db.Exec(
		`INSERT INTO current_samples (beam_current_avg, machine_mode, injection_phase, timestamp) VALUES (?, ?, ?, ?)`,
		avg, mode, phase, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// QuerySamples returns samples after since, oldest first, capped at limit
// (0 means no cap).
func (s *Store) QuerySamples(since time.Time, limit int) ([]Sample, error) {
	q := `SELECT id, beam_current_avg, machine_mode, injection_phase, timestamp
	      FROM current_samples WHERE timestamp > ? ORDER BY timestamp ASC`
	args := []interface{}{since.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var sm Sample
		var ts string
		if err := rows.Scan(&sm.ID, &sm.BeamCurrentAvg, &sm.MachineMode, &sm.InjectionPhase, &ts); err != nil {
			return nil, err
		}
		sm.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// PruneSamples deletes samples older than before. Returns the rows removed.
func (s *Store) PruneSamples(before time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM current_samples WHERE timestamp < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Mode Transitions
// ---------------------------------------------------------------------------

func (s *Store) RecordTransition(from, to, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO mode_transitions (from_mode, to_mode, reason, timestamp) VALUES (?, ?, ?, ?)`,
		from, to, reason, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) QueryTransitions(since time.Time) ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT id, from_mode, to_mode, reason, timestamp
		 FROM mode_transitions WHERE timestamp > ? ORDER BY timestamp ASC`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var tr Transition
		var ts string
		if err := rows.Scan(&tr.ID, &tr.FromMode, &tr.ToMode, &tr.Reason, &ts); err != nil {
			return nil, err
		}
		tr.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// ---------------------------------------------------------------------------
// Fault Events
// ---------------------------------------------------------------------------

func (s *Store) RecordFault(mode, priorMode, reason, description string) error {
	_, err := s.db.Exec(
		`INSERT INTO fault_events (mode, prior_mode, reason, description, timestamp) VALUES (?, ?, ?, ?, ?)`,
		mode, priorMode, reason, description, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) QueryFaults(since time.Time) ([]Fault, error) {
	rows, err := s.db.Query(
		`SELECT id, mode, prior_mode, reason, description, timestamp
		 FROM fault_events WHERE timestamp > ? ORDER BY timestamp ASC`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faults := []Fault{}
	for rows.Next() {
		var f Fault
		var ts string
		if err := rows.Scan(&f.ID, &f.Mode, &f.PriorMode, &f.Reason, &f.Description, &ts); err != nil {
			return nil, err
		}
		f.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		faults = append(faults, f)
	}
	return faults, rows.Err()
}
