// Package snapshot persists job records to SQLite so the orchestrator can
// recover its queue after a restart. Persistence is best-effort: a failed
// snapshot is logged and retried on the next interval, never fatal.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trainhub/internal/job"
)

// Store writes and reads job snapshots from a SQLite database file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (creating if necessary) the snapshot database at path.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging snapshot database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "snapshot"),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `CREATE TABLE IF NOT EXISTS jobs (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		payload    TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating jobs table: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with the given job set in one transaction.
// Replacing wholesale keeps the table an exact mirror of the in-memory store,
// including jobs that were deleted or never reached a terminal state.
func (s *Store) Save(jobs []job.Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM jobs`); err != nil {
		return fmt.Errorf("clearing jobs table: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO jobs (id, status, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range jobs {
		payload, err := json.Marshal(&jobs[i])
		if err != nil {
			return fmt.Errorf("encoding job %s: %w", jobs[i].ID, err)
		}
		if _, err := stmt.Exec(jobs[i].ID, string(jobs[i].Status), string(payload), jobs[i].CreatedAt.UTC(), now); err != nil {
			return fmt.Errorf("inserting job %s: %w", jobs[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Load reads back the last saved snapshot, oldest jobs first so queued
// work is re-admitted in its original submission order.
func (s *Store) Load() ([]job.Job, error) {
	rows, err := s.db.Query(`SELECT payload FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		var j job.Job
		if err := json.Unmarshal([]byte(payload), &j); err != nil {
			// A corrupt row loses one job, not the whole snapshot.
			s.logger.Warn("skipping undecodable snapshot row", "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return jobs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Source yields the current job set to snapshot. Satisfied by the queue manager.
type Source interface {
	Snapshot() []job.Job
}

// Snapshotter periodically persists the job set from a Source.
type Snapshotter struct {
	store    *Store
	source   Source
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSnapshotter creates a snapshotter; call Run to start it.
func NewSnapshotter(store *Store, source Source, interval time.Duration, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		store:    store,
		source:   source,
		interval: interval,
		logger:   logger.With("component", "snapshot"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, saving a snapshot every interval until Close is called.
// Intended to be launched in its own goroutine.
func (sn *Snapshotter) Run() {
	defer close(sn.done)

	ticker := time.NewTicker(sn.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sn.save()
		case <-sn.stop:
			return
		}
	}
}

func (sn *Snapshotter) save() {
	jobs := sn.source.Snapshot()
	if err := sn.store.Save(jobs); err != nil {
		sn.logger.Error("snapshot save failed", "error", err, "jobs", len(jobs))
		return
	}
	sn.logger.Debug("snapshot saved", "jobs", len(jobs))
}

// Close stops the periodic loop and writes one final snapshot, bounded by ctx.
func (sn *Snapshotter) Close(ctx context.Context) error {
	close(sn.stop)

	select {
	case <-sn.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	jobs := sn.source.Snapshot()
	if err := sn.store.Save(jobs); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return nil
}
