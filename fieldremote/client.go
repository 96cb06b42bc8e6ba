// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fieldremote talks to the authoritative backend: record tables in
// Postgres and photo/report blobs in S3-compatible object storage. An
// unconfigured or unreachable backend is expected steady state for a field
// device, so callers gate every remote call on Available() instead of
// treating connection failures as errors.
package fieldremote

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const onlineProbeTimeout = 3 * time.Second

// Client holds the Postgres pool and the object store handle plus the
// current reachability flag. All methods are safe for concurrent use.
type Client struct {
	pool    *pgxpool.Pool
	storage *minio.Client
	cfg     Config
	logger  *slog.Logger

	online atomic.Bool
	ready  atomic.Bool // remote tables and bucket ensured
}

// NewClient builds a client for cfg. An unconfigured cfg yields an inert
// client that reports unavailable forever, which is not an error. The
// constructor performs no network I/O; reachability comes from CheckOnline
// or StartStatusWatcher.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg, logger: logger}
	if !cfg.Configured() {
		logger.Info("remote backend not configured, staying local-only")
		return c, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	storage, err := minio.New(cfg.StorageEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		Secure: cfg.StorageUseSSL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	c.pool = pool
	c.storage = storage
	return c, nil
}

// Close releases the database pool. Safe on an inert client.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Configured reports whether remote credentials were supplied at all.
func (c *Client) Configured() bool { return c.cfg.Configured() }

// Online returns the result of the most recent reachability probe.
func (c *Client) Online() bool { return c.online.Load() }

// Available reports whether remote calls may be attempted right now.
func (c *Client) Available() bool { return c.Configured() && c.Online() }

// CheckOnline probes the backend once and updates the availability flag.
// The first successful probe also creates the remote tables and the blob
// bucket if they do not exist yet.
func (c *Client) CheckOnline(ctx context.Context) bool {
	if c.pool == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, onlineProbeTimeout)
	defer cancel()
	if err := c.pool.Ping(probeCtx); err != nil {
		if c.online.Swap(false) {
			c.logger.Warn("remote backend went offline", "error", err)
		}
		return false
	}
	if !c.ready.Load() {
		if err := c.initRemote(ctx); err != nil {
			c.logger.Warn("remote reachable but initialization failed", "error", err)
			c.online.Store(false)
			return false
		}
		c.ready.Store(true)
	}
	if !c.online.Swap(true) {
		c.logger.Info("remote backend online", "endpoint", c.cfg.StorageEndpoint)
	}
	return true
}

// StartStatusWatcher probes the backend once, then keeps re-probing every
// interval on a background goroutine until ctx is cancelled. The initial
// probe runs before returning so Available is meaningful immediately.
func (c *Client) StartStatusWatcher(ctx context.Context, interval time.Duration) {
	c.CheckOnline(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CheckOnline(ctx)
			}
		}
	}()
}

func (c *Client) initRemote(ctx context.Context) error {
	if err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		return initializeTablesInTx(ctx, tx)
	}); err != nil {
		return fmt.Errorf("failed to initialize remote tables: %w", err)
	}
	if err := c.ensureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure blob bucket: %w", err)
	}
	return nil
}

// initializeTablesInTx creates the record tables. Each record travels as a
// whole JSON document; the inspections table additionally lifts the fields
// that report listings query on into their own columns.
func initializeTablesInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sites (
			id   TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS inspections (
			id             TEXT PRIMARY KEY,
			site_name      TEXT NOT NULL DEFAULT '',
			inspector_name TEXT NOT NULL DEFAULT '',
			date           TEXT NOT NULL DEFAULT '',
			pdf_url        TEXT,
			data           JSONB NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS inspections_date_idx
			ON inspections (date)`,
	}

	for i, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.storage.BucketExists(ctx, c.cfg.StorageBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", c.cfg.StorageBucket, err)
	}
	if !exists {
		if err := c.storage.MakeBucket(ctx, c.cfg.StorageBucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.cfg.StorageBucket, err)
		}
		c.logger.Info("created blob bucket", "bucket", c.cfg.StorageBucket)
	}
	return nil
}
