package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bkose/ocr-relay/pkg/models"
)

// SQLiteStore implements Store on a local SQLite file, for single-host
// deployments where running Redis is not worth it. The pending list is a
// table ordered by an autoincrement sequence; pop is a transactional
// select-and-delete of the head row. SQLite has no blocking read, so Pop
// polls on a short ticker until the timeout elapses.
type SQLiteStore struct {
	db        *sql.DB
	resultTTL time.Duration
}

// popPollInterval is how often a blocking Pop re-checks the table.
const popPollInterval = 100 * time.Millisecond

// NewSQLiteStore opens (and initializes) a SQLite-backed store.
func NewSQLiteStore(dbPath string, resultTTL time.Duration) (*SQLiteStore, error) {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}

	// WAL for concurrent readers, immediate tx lock so the pop transaction
	// conflicts early instead of failing at commit.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writes to avoid SQLITE_BUSY under competing consumers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db, resultTTL: resultTTL}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_jobs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		task_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_expires ON results(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Push appends the job to the tail of the pending list.
func (s *SQLiteStore) Push(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO pending_jobs (payload) VALUES (?)", string(data)); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// Pop removes and returns the head of the pending list.
func (s *SQLiteStore) Pop(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	job, err := s.tryPop(ctx)
	if err != nil || job != nil {
		return job, err
	}
	if timeout <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(popPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := s.tryPop(ctx)
			if err != nil || job != nil {
				return job, err
			}
			if time.Now().After(deadline) {
				return nil, nil
			}
		}
	}
}

// tryPop atomically removes the head row inside one transaction, so two
// competing consumers can never take the same row.
func (s *SQLiteStore) tryPop(ctx context.Context) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	var payload string
	err = tx.QueryRowContext(ctx, "SELECT seq, payload FROM pending_jobs ORDER BY seq LIMIT 1").Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_jobs WHERE seq = ?", seq); err != nil {
		return nil, fmt.Errorf("failed to delete queue head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pop: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// PutResult stores the result and purges expired entries opportunistically.
func (s *SQLiteStore) PutResult(ctx context.Context, taskID string, result *models.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	expiresAt := time.Now().Add(s.resultTTL).UTC()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO results (task_id, payload, expires_at) VALUES (?, ?, ?)",
		taskID, string(data), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	// Lazy expiry sweep; errors here don't matter for the write.
	s.db.ExecContext(ctx, "DELETE FROM results WHERE expires_at <= ?", time.Now().UTC())
	return nil
}

// GetResult returns the stored result or (nil, nil) when absent or expired.
func (s *SQLiteStore) GetResult(ctx context.Context, taskID string) (*models.Result, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM results WHERE task_id = ? AND expires_at > ?",
		taskID, time.Now().UTC()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result models.Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Size returns the number of pending jobs.
func (s *SQLiteStore) Size(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_jobs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return count, nil
}

// Healthy pings the database.
func (s *SQLiteStore) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Clear drops all pending jobs.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_jobs"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
