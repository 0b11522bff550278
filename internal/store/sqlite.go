// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/conversation/memory persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is RFC3339 with fixed-width nanoseconds. The fixed width keeps
// lexicographic order equal to chronological order, which the memory
// eviction query relies on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			channel_id TEXT PRIMARY KEY,
			runtime_session_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_active
			ON sessions(is_active);

		CREATE TABLE IF NOT EXISTS conversations (
			channel_id TEXT PRIMARY KEY,
			last_interaction TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			external_id TEXT,
			author TEXT NOT NULL,
			content TEXT NOT NULL,
			is_bot INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (channel_id) REFERENCES conversations(channel_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_seq
			ON messages(channel_id, seq);

		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			scope TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE (key, scope, username),
			CHECK (scope IN ('global', 'user'))
		);

		CREATE INDEX IF NOT EXISTS idx_memories_bucket
			ON memories(scope, username, updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
		table  string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'external_id'`,
			apply:  `ALTER TABLE messages ADD COLUMN external_id TEXT`,
			column: "external_id",
			table:  "messages",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('memories') WHERE name = 'created_by'`,
			apply:  `ALTER TABLE memories ADD COLUMN created_by TEXT NOT NULL DEFAULT ''`,
			column: "created_by",
			table:  "memories",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		// Column doesn't exist, apply migration
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// UpsertSession inserts or updates the session record for a channel.
// CreatedAt is preserved on repeat upserts for the same channel.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO sessions (channel_id, runtime_session_id, created_at, last_used_at, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			runtime_session_id = excluded.runtime_session_id,
			last_used_at = excluded.last_used_at,
			is_active = excluded.is_active
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ChannelID,
		rec.RuntimeSessionID,
		rec.CreatedAt.UTC().Format(timeFormat),
		rec.LastUsedAt.UTC().Format(timeFormat),
		boolToInt(rec.Active),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	s.logger.Debug("upserted session", "channel_id", rec.ChannelID, "session_id", rec.RuntimeSessionID)
	return nil
}

// GetSession retrieves the session record for a channel.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) GetSession(ctx context.Context, channelID string) (*SessionRecord, error) {
	query := `
		SELECT channel_id, runtime_session_id, created_at, last_used_at, is_active
		FROM sessions
		WHERE channel_id = ?
	`

	rec, err := scanSession(s.db.QueryRowContext(ctx, query, channelID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return rec, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAtStr, lastUsedAtStr string
	var active int

	if err := row.Scan(
		&rec.ChannelID,
		&rec.RuntimeSessionID,
		&createdAtStr,
		&lastUsedAtStr,
		&active,
	); err != nil {
		return nil, err
	}

	var err error
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.LastUsedAt, err = time.Parse(time.RFC3339, lastUsedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}
	rec.Active = active != 0

	return &rec, nil
}

// ListSessions returns all session records ordered by most recent use.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	return s.listSessions(ctx, `
		SELECT channel_id, runtime_session_id, created_at, last_used_at, is_active
		FROM sessions
		ORDER BY last_used_at DESC
	`)
}

// ListActiveSessions returns session records with is_active=1, ordered by
// most recent use. Used for resume-on-startup.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*SessionRecord, error) {
	return s.listSessions(ctx, `
		SELECT channel_id, runtime_session_id, created_at, last_used_at, is_active
		FROM sessions
		WHERE is_active = 1
		ORDER BY last_used_at DESC
	`)
}

func (s *SQLiteStore) listSessions(ctx context.Context, query string) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var recs []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return recs, nil
}

// TouchSession refreshes the last-used timestamp for a channel's session.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) TouchSession(ctx context.Context, channelID string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = ? WHERE channel_id = ?`,
		usedAt.UTC().Format(timeFormat), channelID,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateSession flips is_active to false for a channel's session.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) DeactivateSession(ctx context.Context, channelID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = 0 WHERE channel_id = ?`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deactivated session", "channel_id", channelID)
	return nil
}

// DeleteSession removes a channel's session record entirely.
// Administrative operation; normal invalidation uses DeactivateSession.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) DeleteSession(ctx context.Context, channelID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE channel_id = ?`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "channel_id", channelID)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
