// Package store implements the job store: a relational table of jobs
// and config that lives entirely in process memory, durable only through
// periodic write-temp-then-rename snapshots.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"queuectl/internal/config"
	"queuectl/internal/job"
)

// Sentinel errors surfaced to callers.
var (
	ErrConflict = errors.New("job id already exists")
	ErrNotFound = errors.New("no matching job")
	ErrEmptyID  = errors.New("job id must not be empty")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER,
	run_after INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state_run_after ON jobs(state, run_after);
CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store owns the in-memory SQLite database and its on-disk snapshot.
type Store struct {
	db       *sql.DB
	path     string // canonical snapshot path, e.g. data/queue.db
	dirty    atomic.Bool
}

// Open creates the in-memory database, applies schema, and loads path if
// it already exists on disk. path is the canonical snapshot file; the
// live dataset is never read from or written to it except via Load/Snapshot.
func Open(path string) (*Store, error) {
	// A shared-cache in-memory database is identified by name: without a
	// unique name every Store in the process would alias the same
	// anonymous database and corrupt each other's rows.
	dsn := fmt.Sprintf("file:queuectl-%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, path: path}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := s.load(path); err != nil {
			db.Close()
			return nil, fmt.Errorf("load snapshot %s: %w", path, err)
		}
	}
	return s, nil
}

// Close releases the in-memory database.
func (s *Store) Close() error {
	return s.db.Close()
}

// load restores jobs and config from an on-disk snapshot into the live
// in-memory database via ATTACH + INSERT SELECT, the mirror image of
// Snapshot's VACUUM INTO.
func (s *Store) load(path string) error {
	if _, err := s.db.Exec(`ATTACH DATABASE ? AS disk`, path); err != nil {
		return err
	}
	defer s.db.Exec(`DETACH DATABASE disk`)

	if _, err := s.db.Exec(`INSERT INTO jobs SELECT * FROM disk.jobs`); err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO config SELECT * FROM disk.config`); err != nil {
		return fmt.Errorf("restore config: %w", err)
	}
	return nil
}

// Dirty reports whether the store has unsaved mutations.
func (s *Store) Dirty() bool {
	return s.dirty.Load()
}

func (s *Store) markDirty() {
	s.dirty.Store(true)
}

// Snapshot serializes the live database to a temp file via VACUUM INTO,
// then atomically renames it over the canonical path, clearing the dirty
// flag only on success. Safe to call from a dedicated snapshotter
// goroutine; callers that mutate concurrently will simply see the flag
// set again on their next write.
func (s *Store) Snapshot(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	os.Remove(tmp) // VACUUM INTO refuses to overwrite an existing file

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return fmt.Errorf("vacuum into %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	s.dirty.Store(false)
	return nil
}

// Enqueue inserts a new pending job. If j.ID is empty a UUID is generated.
func (s *Store) Enqueue(j job.Job, nowMS int64) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	j.State = job.StatePending
	j.Attempts = 0
	j.CreatedAt = nowMS
	j.UpdatedAt = nowMS

	_, err := s.db.Exec(
		`INSERT INTO jobs(id, command, state, attempts, max_retries, run_after, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		j.ID, j.Command, string(j.State), j.Attempts, j.MaxRetries, j.RunAfter, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return job.Job{}, ErrConflict
		}
		return job.Job{}, err
	}
	s.markDirty()
	return j, nil
}

// ClaimNext atomically claims the oldest eligible pending job, transitioning
// it to processing. Returns (nil, nil) when nothing is eligible.
func (s *Store) ClaimNext(nowMS int64) (*job.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT id, command, state, attempts, max_retries, run_after, created_at, updated_at
		 FROM jobs WHERE state = ? AND run_after <= ?
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		string(job.StatePending), nowMS,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if !job.ValidTransition(job.StatePending, job.StateProcessing) {
		return nil, &job.ErrInvalidTransition{From: job.StatePending, To: job.StateProcessing}
	}

	res, err := tx.Exec(
		`UPDATE jobs SET state=?, updated_at=? WHERE id=? AND state=?`,
		string(job.StateProcessing), nowMS, j.ID, string(job.StatePending),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// lost the race to another claimant between SELECT and UPDATE.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	j.State = job.StateProcessing
	j.UpdatedAt = nowMS
	s.markDirty()
	return &j, nil
}

// Complete marks a processing job completed.
func (s *Store) Complete(id string, nowMS int64) error {
	return s.transitionFromProcessing(id, job.StateCompleted,
		`UPDATE jobs SET state=?, updated_at=? WHERE id=? AND state=?`,
		string(job.StateCompleted), nowMS, id, string(job.StateProcessing))
}

// Fail applies a retry/backoff or DLQ decision computed by internal/retry.
func (s *Store) Fail(id string, newAttempts int, newState job.State, newRunAfter, nowMS int64) error {
	return s.transitionFromProcessing(id, newState,
		`UPDATE jobs SET state=?, attempts=?, run_after=?, updated_at=? WHERE id=? AND state=?`,
		string(newState), newAttempts, newRunAfter, nowMS, id, string(job.StateProcessing))
}

// ResetProcessing returns a crashed worker's job to pending without
// incrementing attempts; conditional on the row still being processing so
// a later legitimate transition is never clobbered.
func (s *Store) ResetProcessing(id string, nowMS int64) error {
	return s.transitionFromProcessing(id, job.StatePending,
		`UPDATE jobs SET state=?, updated_at=? WHERE id=? AND state=?`,
		string(job.StatePending), nowMS, id, string(job.StateProcessing))
}

// transitionFromProcessing validates processing -> to against the lifecycle
// table before issuing query, which must condition its UPDATE on the row
// still being in processing.
func (s *Store) transitionFromProcessing(id string, to job.State, query string, args ...any) error {
	if !job.ValidTransition(job.StateProcessing, to) {
		return &job.ErrInvalidTransition{From: job.StateProcessing, To: to}
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	s.markDirty()
	return nil
}

// Get reads a single job by id.
func (s *Store) Get(id string) (job.Job, error) {
	row := s.db.QueryRow(
		`SELECT id, command, state, attempts, max_retries, run_after, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, ErrNotFound
	}
	return j, err
}

// List returns jobs, optionally filtered by state, newest first.
func (s *Store) List(stateFilter string) ([]job.Job, error) {
	query := `SELECT id, command, state, attempts, max_retries, run_after, created_at, updated_at FROM jobs`
	args := []any{}
	if stateFilter != "" {
		query += ` WHERE state = ?`
		args = append(args, stateFilter)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Summarize counts jobs per state.
func (s *Store) Summarize() (map[job.State]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[job.State]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		out[job.State(state)] = count
	}
	return out, rows.Err()
}

// RequeueDead moves a single dead job back to pending, resetting
// attempts and run_after. Affects only rows currently in dead.
func (s *Store) RequeueDead(id string, nowMS int64) error {
	if id == "" {
		return ErrEmptyID
	}
	if !job.ValidTransition(job.StateDead, job.StatePending) {
		return &job.ErrInvalidTransition{From: job.StateDead, To: job.StatePending}
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET state=?, attempts=0, run_after=0, updated_at=? WHERE id=? AND state=?`,
		string(job.StatePending), nowMS, id, string(job.StateDead),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.markDirty()
	return nil
}

// RequeueAllDead moves every dead job back to pending and returns how many.
func (s *Store) RequeueAllDead(nowMS int64) (int, error) {
	if !job.ValidTransition(job.StateDead, job.StatePending) {
		return 0, &job.ErrInvalidTransition{From: job.StateDead, To: job.StatePending}
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET state=?, attempts=0, run_after=0, updated_at=? WHERE state=?`,
		string(job.StatePending), nowMS, string(job.StateDead),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, ErrNotFound
	}
	s.markDirty()
	return int(n), nil
}

// GetConfig reads a single config value; ok is false if unset.
func (s *Store) GetConfig(key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM config WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return value, err == nil, err
}

// SetConfig validates and upserts a config value.
func (s *Store) SetConfig(key, value string) (string, error) {
	canonical, err := config.Validate(key, value)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		`INSERT INTO config(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, canonical,
	)
	if err != nil {
		return "", err
	}
	s.markDirty()
	return canonical, nil
}

// ListConfig returns every stored config key/value.
func (s *Store) ListConfig() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ConfigSnapshot reads the full config table into a typed config.Snapshot.
func (s *Store) ConfigSnapshot() (config.Snapshot, error) {
	raw, err := s.ListConfig()
	if err != nil {
		return config.Snapshot{}, err
	}
	return config.FromMap(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var j job.Job
	var state string
	var maxRetries sql.NullInt64
	if err := row.Scan(&j.ID, &j.Command, &state, &j.Attempts, &maxRetries, &j.RunAfter, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return job.Job{}, err
	}
	j.State = job.State(state)
	if maxRetries.Valid {
		v := int(maxRetries.Int64)
		j.MaxRetries = &v
	}
	return j, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
