// ABOUTME: Memory persistence for SQLiteStore
// ABOUTME: Key/value facts with per-scope caps and LRU-by-write eviction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertMemory inserts or updates a memory entry. Values longer than
// MaxMemoryValueLen are truncated. When an insert would push a
// (scope, username) bucket past MaxMemoriesPerScope, the least-recently-
// updated entry in that bucket is evicted first.
func (s *SQLiteStore) UpsertMemory(ctx context.Context, mem *Memory) error {
	value := truncateValue(mem.Value)
	now := time.Now()

	// Existing entry: refresh value and updated_at, keep identity
	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM memories WHERE key = ? AND scope = ? AND username = ?`,
		mem.Key, string(mem.Scope), mem.Username,
	).Scan(&existingID)

	if err == nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE memories SET value = ?, updated_at = ? WHERE id = ?`,
			value, now.UTC().Format(timeFormat), existingID,
		)
		if err != nil {
			return fmt.Errorf("updating memory: %w", err)
		}
		mem.ID = existingID
		mem.Value = value
		mem.UpdatedAt = now
		s.logger.Debug("updated memory", "key", mem.Key, "scope", mem.Scope, "username", mem.Username)
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("querying existing memory: %w", err)
	}

	// New entry: evict the least-recently-updated entry if the bucket is full
	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE scope = ? AND username = ?`,
		string(mem.Scope), mem.Username,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("counting memories: %w", err)
	}

	if count >= MaxMemoriesPerScope {
		var evictedKey string
		err = s.db.QueryRowContext(ctx, `
			DELETE FROM memories
			WHERE id = (
				SELECT id FROM memories
				WHERE scope = ? AND username = ?
				ORDER BY updated_at ASC, id ASC
				LIMIT 1
			)
			RETURNING key
		`, string(mem.Scope), mem.Username).Scan(&evictedKey)
		if err != nil {
			return fmt.Errorf("evicting memory: %w", err)
		}
		s.logger.Debug("evicted memory", "key", evictedKey, "scope", mem.Scope, "username", mem.Username)
	}

	id := mem.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, key, value, scope, username, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		mem.Key,
		value,
		string(mem.Scope),
		mem.Username,
		mem.CreatedBy,
		now.UTC().Format(timeFormat),
		now.UTC().Format(timeFormat),
	)
	if err != nil {
		// A concurrent writer may have inserted the same triple between the
		// existence check and this insert; fall back to an update.
		if isConstraintViolation(err) {
			_, uerr := s.db.ExecContext(ctx, `
				UPDATE memories SET value = ?, updated_at = ?
				WHERE key = ? AND scope = ? AND username = ?
			`, value, now.UTC().Format(timeFormat), mem.Key, string(mem.Scope), mem.Username)
			if uerr != nil {
				return fmt.Errorf("updating memory after insert race: %w", uerr)
			}
			mem.Value = value
			mem.UpdatedAt = now
			return nil
		}
		return fmt.Errorf("inserting memory: %w", err)
	}

	mem.ID = id
	mem.Value = value
	mem.CreatedAt = now
	mem.UpdatedAt = now

	s.logger.Debug("created memory", "key", mem.Key, "scope", mem.Scope, "username", mem.Username)
	return nil
}

// truncateValue caps a memory value at MaxMemoryValueLen runes
func truncateValue(v string) string {
	runes := []rune(v)
	if len(runes) <= MaxMemoryValueLen {
		return v
	}
	return string(runes[:MaxMemoryValueLen])
}

// GetMemory retrieves a memory by its unique (key, scope, username) triple.
// Returns ErrNotFound if no entry exists.
func (s *SQLiteStore) GetMemory(ctx context.Context, key string, scope MemoryScope, username string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key, value, scope, username, created_by, created_at, updated_at
		FROM memories
		WHERE key = ? AND scope = ? AND username = ?
	`, key, string(scope), username)

	mem, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	return mem, nil
}

func scanMemory(row rowScanner) (*Memory, error) {
	var mem Memory
	var scope, createdAtStr, updatedAtStr string

	if err := row.Scan(
		&mem.ID,
		&mem.Key,
		&mem.Value,
		&scope,
		&mem.Username,
		&mem.CreatedBy,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	mem.Scope = MemoryScope(scope)

	var err error
	mem.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	mem.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &mem, nil
}

// ListMemories returns all memories in a (scope, username) bucket, most
// recently updated first.
func (s *SQLiteStore) ListMemories(ctx context.Context, scope MemoryScope, username string) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, value, scope, username, created_by, created_at, updated_at
		FROM memories
		WHERE scope = ? AND username = ?
		ORDER BY updated_at DESC
	`, string(scope), username)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		memories = append(memories, mem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory rows: %w", err)
	}
	return memories, nil
}

// DeleteMemory removes a memory by its unique (key, scope, username) triple.
// Returns ErrNotFound if no entry exists.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, key string, scope MemoryScope, username string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE key = ? AND scope = ? AND username = ?`,
		key, string(scope), username,
	)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted memory", "key", key, "scope", scope, "username", username)
	return nil
}
