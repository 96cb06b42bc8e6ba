// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// PhotoCache holds photo payloads pending upload, keyed by caller-supplied
// identifier (typically a checklist point id or a generated UUID). The
// cache exclusively owns the payload bytes until a photo is promoted to
// remote storage, at which point the entry is evicted.
//
// All operations are idempotent: getting or deleting a missing id is an
// absent result, not an error.
type PhotoCache struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex
}

// NewPhotoCache creates a photo cache on db, creating its table if needed.
func NewPhotoCache(db *sql.DB, logger *slog.Logger) (*PhotoCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS photo_cache (
			id      TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create photo_cache table: %w", err)
	}
	return &PhotoCache{db: db, logger: logger}, nil
}

// Put stores or replaces the payload for id.
func (c *PhotoCache) Put(ctx context.Context, id string, payload DataURI) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO photo_cache (id, payload) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload
	`, id, string(payload))
	if err != nil {
		return fmt.Errorf("failed to store photo %s: %w", id, err)
	}
	return nil
}

// Get returns the payload for id. A missing id reports ok=false with no
// error.
func (c *PhotoCache) Get(ctx context.Context, id string) (DataURI, bool, error) {
	var payload string
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM photo_cache WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load photo %s: %w", id, err)
	}
	return DataURI(payload), true, nil
}

// Delete removes the payload for id. Deleting a missing id is a no-op.
func (c *PhotoCache) Delete(ctx context.Context, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM photo_cache WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete photo %s: %w", id, err)
	}
	return nil
}

// Clear removes every cached payload.
func (c *PhotoCache) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM photo_cache`); err != nil {
		return fmt.Errorf("failed to clear photo cache: %w", err)
	}
	return nil
}
