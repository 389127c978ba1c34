package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rchub/internal/config"
	"rchub/internal/jobs"
)

// Store persists terminal jobs to SQLite so history survives restarts and
// backend switches. Job ids repeat across backends, so rows carry the
// backend name and are keyed by their own rowid.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open initializes or connects to the history database under the data
// directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Daemon.DataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	backend TEXT NOT NULL,
	kind TEXT NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	remote TEXT NOT NULL,
	profile TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	stats TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_job_history_backend ON job_history(backend);
CREATE INDEX IF NOT EXISTS idx_job_history_finished ON job_history(finished_at);
`
	if err := s.execWithRetry(ctx, schema); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// RecordTerminal stores one finished job. Implements the job monitor's
// recorder hook.
func (s *Store) RecordTerminal(ctx context.Context, job jobs.Job) error {
	const insert = `
INSERT INTO job_history
	(job_id, backend, kind, source, destination, remote, profile, task_id, status, error, stats, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := s.execWithRetry(ctx, insert,
		int64(job.ID), job.Backend, job.Kind, job.Source, job.Destination,
		job.Remote, job.Profile, job.TaskID, string(job.Status), job.Error,
		string(job.Stats), job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("record job %d: %w", job.ID, err)
	}
	return nil
}

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	Backend string
	Remote  string
	Status  string
	Limit   int
}

// List returns recorded jobs newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]jobs.Job, error) {
	ctx = ensureContext(ctx)

	query := strings.Builder{}
	query.WriteString(`
SELECT job_id, backend, kind, source, destination, remote, profile, task_id, status, error, stats, started_at, finished_at
FROM job_history`)
	var (
		clauses []string
		args    []any
	)
	if filter.Backend != "" {
		clauses = append(clauses, "backend = ?")
		args = append(args, filter.Backend)
	}
	if filter.Remote != "" {
		clauses = append(clauses, "remote = ?")
		args = append(args, filter.Remote)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if len(clauses) > 0 {
		query.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	query.WriteString(" ORDER BY row_id DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var (
			job        jobs.Job
			jobID      int64
			status     string
			stats      string
			startedAt  sql.NullTime
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&jobID, &job.Backend, &job.Kind, &job.Source, &job.Destination,
			&job.Remote, &job.Profile, &job.TaskID, &status, &job.Error, &stats,
			&startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		job.ID = uint64(jobID)
		if parsed, ok := jobs.ParseStatus(status); ok {
			job.Status = parsed
		}
		if stats != "" {
			job.Stats = []byte(stats)
		}
		if startedAt.Valid {
			job.StartedAt = startedAt.Time
		}
		if finishedAt.Valid {
			job.FinishedAt = finishedAt.Time
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}

// Prune deletes rows that finished more than retention ago. Returns how many
// rows were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	ctx = ensureContext(ctx)
	cutoff := time.Now().Add(-retention)

	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, "DELETE FROM job_history WHERE finished_at < ?", cutoff)
		return execErr
	}); err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune history: rows affected: %w", err)
	}
	return removed, nil
}
