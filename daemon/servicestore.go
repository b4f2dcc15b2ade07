package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const serviceSchema = `
CREATE TABLE IF NOT EXISTS repo_state (
	repo_id             TEXT PRIMARY KEY,
	last_refresh_at     DATETIME,
	last_status         TEXT NOT NULL DEFAULT 'never_run',
	last_error          TEXT NOT NULL DEFAULT '',
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);
`

// ServiceStore is the daemon's global, cross-repo service-state record and
// persistent failure store, kept at workspace.FailureStorePath() — distinct
// from each repo's own per-repo span store, since this data must survive
// and be queryable even for repos the daemon hasn't touched this process
// lifetime.
type ServiceStore struct {
	db *sql.DB
}

// OpenServiceStore opens (creating if needed) the service store at path.
func OpenServiceStore(path string) (*ServiceStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("daemon: opening service store: %w", err)
	}
	db.SetMaxOpenConns(2)
	if _, err := db.Exec(serviceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("daemon: applying service store schema: %w", err)
	}
	return &ServiceStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *ServiceStore) Close() error { return s.db.Close() }

// RepoState is one repo's last-known refresh outcome.
type RepoState struct {
	RepoID              string
	LastRefreshAt       *time.Time
	LastStatus          string // "never_run", "ok", "failed", "skipped_locked"
	LastError           string
	ConsecutiveFailures int
}

// GetRepoState reads a repo's state, returning the zero "never_run" state
// (not an error) if the repo has never been recorded.
func (s *ServiceStore) GetRepoState(ctx context.Context, repoID string) (RepoState, error) {
	var st RepoState
	var lastRefresh sql.NullTime
	st.RepoID = repoID
	err := s.db.QueryRowContext(ctx, `
		SELECT last_refresh_at, last_status, last_error, consecutive_failures
		FROM repo_state WHERE repo_id = ?
	`, repoID).Scan(&lastRefresh, &st.LastStatus, &st.LastError, &st.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		st.LastStatus = "never_run"
		return st, nil
	}
	if err != nil {
		return RepoState{}, err
	}
	if lastRefresh.Valid {
		st.LastRefreshAt = &lastRefresh.Time
	}
	return st, nil
}

// RecordSuccess marks a refresh cycle as successful, resetting the
// consecutive-failure counter.
func (s *ServiceStore) RecordSuccess(ctx context.Context, repoID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_state (repo_id, last_refresh_at, last_status, last_error, consecutive_failures)
		VALUES (?, ?, 'ok', '', 0)
		ON CONFLICT(repo_id) DO UPDATE SET
			last_refresh_at = excluded.last_refresh_at,
			last_status = 'ok',
			last_error = '',
			consecutive_failures = 0
	`, repoID, at)
	return err
}

// RecordFailure marks a refresh cycle as failed, incrementing the
// consecutive-failure counter.
func (s *ServiceStore) RecordFailure(ctx context.Context, repoID string, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_state (repo_id, last_refresh_at, last_status, last_error, consecutive_failures)
		VALUES (?, ?, 'failed', ?, 1)
		ON CONFLICT(repo_id) DO UPDATE SET
			last_refresh_at = excluded.last_refresh_at,
			last_status = 'failed',
			last_error = excluded.last_error,
			consecutive_failures = repo_state.consecutive_failures + 1
	`, repoID, at, errMsg)
	return err
}

// RecordSkipped marks a pass where the repo's lock could not be acquired
// within the configured wait, without touching the failure counter: a
// busy lock is not the repo's fault.
func (s *ServiceStore) RecordSkipped(ctx context.Context, repoID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_state (repo_id, last_refresh_at, last_status, last_error, consecutive_failures)
		VALUES (?, ?, 'skipped_locked', '', 0)
		ON CONFLICT(repo_id) DO UPDATE SET
			last_refresh_at = excluded.last_refresh_at,
			last_status = 'skipped_locked'
	`, repoID, at)
	return err
}
