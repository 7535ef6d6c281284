package cacheindex

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. The index only holds
// derived data, so a mismatch drops and rebuilds the tables.
const schemaVersion = 1

// FileName is the index database name inside the output root.
const FileName = ".solasola_index.db"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry describes one result directory.
type Entry struct {
	Name        string
	Fingerprint string
	TaskID      string
	CreatedAt   time.Time
}

// Store manages the index database.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the index database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure index dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists > 0 {
		var version int
		err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
		if err == nil && version == schemaVersion {
			return nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read schema version: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS result_dirs; DROP TABLE IF EXISTS schema_version;"); err != nil {
			return fmt.Errorf("drop stale schema: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record inserts or replaces the entry for a result directory.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Name) == "" || strings.TrimSpace(entry.Fingerprint) == "" {
		return errors.New("cache index: name and fingerprint are required")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return s.execWithRetry(ctx,
		`INSERT INTO result_dirs (name, fingerprint, task_id, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET fingerprint = excluded.fingerprint,
             task_id = excluded.task_id, created_at = excluded.created_at`,
		entry.Name, entry.Fingerprint, nullableString(entry.TaskID), created.UTC().Format(time.RFC3339Nano),
	)
}

// Forget removes a result directory from the index.
func (s *Store) Forget(ctx context.Context, name string) error {
	return s.execWithRetry(ctx, `DELETE FROM result_dirs WHERE name = ?`, name)
}

// ListByFingerprint returns every indexed directory for fingerprint, newest first.
func (s *Store) ListByFingerprint(ctx context.Context, fingerprint string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT name, fingerprint, task_id, created_at FROM result_dirs
         WHERE fingerprint = ? ORDER BY created_at DESC, name DESC`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("list by fingerprint: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			taskID  sql.NullString
			created string
		)
		if err := rows.Scan(&entry.Name, &entry.Fingerprint, &taskID, &created); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.TaskID = taskID.String
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CreatedAt returns the recorded creation time for each known name.
// Unknown names are absent from the result.
func (s *Store) CreatedAt(ctx context.Context, names []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(names))
	if s == nil || s.db == nil || len(names) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = name
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT name, created_at FROM result_dirs WHERE name IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query created_at: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, created string
		if err := rows.Scan(&name, &created); err != nil {
			return nil, fmt.Errorf("scan created_at: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			out[name] = ts
		}
	}
	return out, rows.Err()
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

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

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
