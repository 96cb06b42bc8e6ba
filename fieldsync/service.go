// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fieldsync reconciles the local record store with the remote
// backend. It downloads and merges remote snapshots, uploads pending local
// records, promotes cached photos to remote blob storage, and drives the
// report finalization flow. All of it degrades to local-only operation when
// the backend is unreachable; connectivity is a precondition checked before
// every remote call, never an error.
package fieldsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldrover/go-fieldsync/fieldstore"
	"github.com/fieldrover/go-fieldsync/inspection"
)

// RemoteStore is the remote backend surface the engine needs: record tables
// addressed by id plus a blob store addressed by path. fieldremote.Client
// implements it; tests substitute an in-memory fake.
type RemoteStore interface {
	Available() bool
	FetchSites(ctx context.Context) ([]inspection.Site, error)
	FetchLogs(ctx context.Context) ([]inspection.InspectionLog, error)
	UpsertSite(ctx context.Context, site inspection.Site) error
	UpsertLog(ctx context.Context, log inspection.InspectionLog) error
	DeleteSite(ctx context.Context, id string) error
	DeleteLog(ctx context.Context, id string) error
	PutBlob(ctx context.Context, path string, payload []byte, contentType string) error
	PublicURL(path string) string
}

// Config holds sync engine tuning.
type Config struct {
	// SyncInterval is the cadence of periodic full sync cycles.
	SyncInterval time.Duration
	// BackoffMin is the delay after the first failed cycle; each further
	// failure doubles it up to BackoffMax.
	BackoffMin time.Duration
	BackoffMax time.Duration
	// PromoteConcurrency caps parallel photo uploads within one log.
	PromoteConcurrency int
	// StageMetrics receives per-stage timings of sync and promotion passes
	// when set.
	StageMetrics StageMetricsRecorder
	// LogStageTimings additionally logs those timings at debug level.
	LogStageTimings bool
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval:       30 * time.Second,
		BackoffMin:         1 * time.Second,
		BackoffMax:         2 * time.Minute,
		PromoteConcurrency: 4,
	}
}

// Service owns the background sync loop and exposes the individual sync
// passes for direct use. One Service per store; methods are safe for
// concurrent use.
type Service struct {
	store  *fieldstore.Store
	cache  *fieldstore.PhotoCache
	remote RemoteStore
	config Config
	logger *slog.Logger

	kick   chan struct{}
	syncMu sync.Mutex // one full sync cycle at a time

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the engine to its store, photo cache and remote backend.
// Zero config fields fall back to defaults; a nil logger falls back to
// slog.Default().
func NewService(store *fieldstore.Store, cache *fieldstore.PhotoCache, remote RemoteStore, config Config, logger *slog.Logger) *Service {
	defaults := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.BackoffMin <= 0 {
		config.BackoffMin = defaults.BackoffMin
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.PromoteConcurrency <= 0 {
		config.PromoteConcurrency = defaults.PromoteConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cache:  cache,
		remote: remote,
		config: config,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Start launches the background sync loop. The loop wakes on the periodic
// interval, on Kick, and on every local collection change, and runs one
// full sync cycle per wakeup. Calling Start twice without Stop is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runLoop(loopCtx, s.done)
	s.Kick() // first cycle runs right away
}

// Stop terminates the background loop and waits for the in-flight cycle, if
// any, to finish. Safe to call without a prior Start.
func (s *Service) Stop() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Kick schedules a sync cycle as soon as the loop is idle. Kicks coalesce.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	sites := s.store.Notifier().Subscribe(fieldstore.TopicSites)
	defer sites.Close()
	logs := s.store.Notifier().Subscribe(fieldstore.TopicInspections)
	defer logs.Close()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	s.logger.Info("sync loop started", "interval", s.config.SyncInterval)
	backoff := s.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
		case <-s.kick:
		case <-sites.C:
		case <-logs.C:
		}

		if err := s.SyncOnce(ctx); err != nil {
			s.logger.Warn("sync cycle failed", "error", err, "retry_in", backoff)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return
			}
			backoff = backoff * 2
			if backoff > s.config.BackoffMax {
				backoff = s.config.BackoffMax
			}
			s.Kick()
			continue
		}
		backoff = s.config.BackoffMin
	}
}

// sleepWithContext sleeps for the given duration or until the context is
// cancelled, whichever comes first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DeleteSite removes the site locally and mirrors the delete remotely when
// the backend is reachable. The local removal is never blocked by a remote
// failure; a failed remote delete is only logged.
func (s *Service) DeleteSite(ctx context.Context, id string) error {
	if err := s.store.DeleteSite(ctx, id); err != nil {
		return err
	}
	if s.remote.Available() {
		if err := s.remote.DeleteSite(ctx, id); err != nil {
			s.logger.Warn("remote site delete failed", "id", id, "error", err)
		}
	}
	return nil
}

// DeleteLog removes the inspection log locally and mirrors the delete
// remotely when the backend is reachable.
func (s *Service) DeleteLog(ctx context.Context, id string) error {
	if err := s.store.DeleteLog(ctx, id); err != nil {
		return err
	}
	if s.remote.Available() {
		if err := s.remote.DeleteLog(ctx, id); err != nil {
			s.logger.Warn("remote inspection delete failed", "id", id, "error", err)
		}
	}
	return nil
}
