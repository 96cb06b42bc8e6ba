// Package fieldstore implements the local storage tier: a SQLite-backed
// record store persisting whole collections as JSON arrays, a photo cache
// for binary payloads pending upload, and a notifier broadcasting
// collection-updated signals.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/fieldrover/go-fieldsync/inspection"
)

// Collection keys in the collections table.
const (
	collectionSites       = "sites"
	collectionInspections = "inspections"
)

// ErrStorageFull is returned when a collection write fails for capacity even
// after stripping heavy photo references from already-synced records. The
// caller's in-memory copy is unaffected; no persisted record is dropped.
var ErrStorageFull = errors.New("fieldstore: local storage full")

var errCollectionTooLarge = errors.New("collection exceeds byte budget")

// Config holds tuning for the record store.
type Config struct {
	MaxCollectionBytes int64 // soft byte budget per persisted collection, 0 = unlimited
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{MaxCollectionBytes: 0}
}

// Store is the structured record store. It exclusively owns the canonical
// local copy of sites and inspection logs; every mutation is a full
// read-modify-write cycle over one collection, serialized by a write lock,
// and followed by exactly one collection-updated notification.
type Store struct {
	db       *sql.DB
	config   *Config
	logger   *slog.Logger
	notifier *Notifier
	writeMu  sync.Mutex // serialize read-modify-write cycles
}

// OpenDB opens the local SQLite database shared by the record store and the
// photo cache, enabling WAL mode and a busy timeout.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	return db, nil
}

// NewStore creates a record store on db, creating its table if needed.
// A nil config or logger falls back to defaults.
func NewStore(db *sql.DB, config *Config, logger *slog.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create collections table: %w", err)
	}
	return &Store{db: db, config: config, logger: logger, notifier: NewNotifier()}, nil
}

// Notifier returns the store's change notifier.
func (s *Store) Notifier() *Notifier { return s.notifier }

// ListSites returns the persisted sites collection in insertion order.
// Malformed persisted data degrades to an empty collection, never an error.
func (s *Store) ListSites(ctx context.Context) ([]inspection.Site, error) {
	raw, err := s.readCollection(ctx, s.db, collectionSites)
	if err != nil {
		return nil, err
	}
	return s.decodeSites(raw), nil
}

// ListLogs returns the persisted inspections collection in insertion order.
func (s *Store) ListLogs(ctx context.Context) ([]inspection.InspectionLog, error) {
	raw, err := s.readCollection(ctx, s.db, collectionInspections)
	if err != nil {
		return nil, err
	}
	return s.decodeLogs(raw), nil
}

// SaveSite inserts or replaces a site by id. The synced flag is cleared
// before the write - a local mutation always takes priority over any
// in-flight remote state. The whole collection is persisted as one write
// and one sites-updated notification is raised.
func (s *Store) SaveSite(ctx context.Context, site *inspection.Site) error {
	site.Synced = false
	saved := *site
	_, err := s.UpdateSites(ctx, func(current []inspection.Site) ([]inspection.Site, bool) {
		return replaceOrAppendSite(current, saved), true
	})
	return err
}

// SaveLog inserts or replaces an inspection log by id, clearing its synced
// flag before the write.
func (s *Store) SaveLog(ctx context.Context, log *inspection.InspectionLog) error {
	log.Synced = false
	saved := *log
	_, err := s.UpdateLogs(ctx, func(current []inspection.InspectionLog) ([]inspection.InspectionLog, bool) {
		return replaceOrAppendLog(current, saved), true
	})
	return err
}

// DeleteSite removes a site by id and notifies. Deleting a missing id is a
// no-op without notification.
func (s *Store) DeleteSite(ctx context.Context, id string) error {
	_, err := s.UpdateSites(ctx, func(current []inspection.Site) ([]inspection.Site, bool) {
		for i := range current {
			if current[i].ID == id {
				out := make([]inspection.Site, 0, len(current)-1)
				out = append(out, current[:i]...)
				out = append(out, current[i+1:]...)
				return out, true
			}
		}
		return current, false
	})
	return err
}

// DeleteLog removes an inspection log by id and notifies.
func (s *Store) DeleteLog(ctx context.Context, id string) error {
	_, err := s.UpdateLogs(ctx, func(current []inspection.InspectionLog) ([]inspection.InspectionLog, bool) {
		for i := range current {
			if current[i].ID == id {
				out := make([]inspection.InspectionLog, 0, len(current)-1)
				out = append(out, current[:i]...)
				out = append(out, current[i+1:]...)
				return out, true
			}
		}
		return current, false
	})
	return err
}

// UpdateSites runs fn against the current persisted sites collection. When
// fn reports a change, the returned collection is persisted as a single
// write and one sites-updated notification is raised. fn runs under the
// store's write lock: the read-modify-write window is the unit of
// atomicity, so fn must be pure and must not call back into the store.
func (s *Store) UpdateSites(ctx context.Context, fn func(current []inspection.Site) ([]inspection.Site, bool)) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	raw, err := s.readCollection(ctx, tx, collectionSites)
	if err != nil {
		return false, err
	}
	merged, changed := fn(s.decodeSites(raw))
	if !changed {
		return false, nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("failed to marshal sites collection: %w", err)
	}
	if err := s.writeCollection(ctx, tx, collectionSites, data); err != nil {
		if isCapacityError(err) {
			s.logger.Warn("sites collection write failed for capacity", "bytes", len(data), "error", err)
			return false, ErrStorageFull
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit sites write: %w", err)
	}
	s.notifier.Publish(TopicSites)
	return true, nil
}

// UpdateLogs is the inspections counterpart of UpdateSites. On a capacity
// failure it strips heavy inline photo references from already-synced logs
// and retries the write once; records themselves are never dropped to make
// room. If the retry still fails the error is ErrStorageFull and the
// previously persisted collection is left intact.
func (s *Store) UpdateLogs(ctx context.Context, fn func(current []inspection.InspectionLog) ([]inspection.InspectionLog, bool)) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	raw, err := s.readCollection(ctx, tx, collectionInspections)
	if err != nil {
		return false, err
	}
	merged, changed := fn(s.decodeLogs(raw))
	if !changed {
		return false, nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("failed to marshal inspections collection: %w", err)
	}
	writeErr := s.writeCollection(ctx, tx, collectionInspections, data)
	if writeErr != nil && isCapacityError(writeErr) {
		stripped, n := stripHeavyPhotoRefs(merged)
		if n > 0 {
			s.logger.Warn("stripping heavy photo references from synced logs to free space",
				"stripped", n, "bytes", len(data))
			data, err = json.Marshal(stripped)
			if err != nil {
				return false, fmt.Errorf("failed to marshal stripped inspections collection: %w", err)
			}
			writeErr = s.writeCollection(ctx, tx, collectionInspections, data)
		}
	}
	if writeErr != nil {
		if isCapacityError(writeErr) {
			s.logger.Warn("inspections collection write failed for capacity", "bytes", len(data), "error", writeErr)
			return false, ErrStorageFull
		}
		return false, writeErr
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit inspections write: %w", err)
	}
	s.notifier.Publish(TopicInspections)
	return true, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readCollection(ctx context.Context, q rowQuerier, name string) ([]byte, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM collections WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	return []byte(value), nil
}

func (s *Store) writeCollection(ctx context.Context, tx *sql.Tx, name string, data []byte) error {
	if max := s.config.MaxCollectionBytes; max > 0 && int64(len(data)) > max {
		return errCollectionTooLarge
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("failed to write collection %s: %w", name, err)
	}
	return nil
}

// coerceElements splits a persisted collection payload into its elements.
// A lone JSON object is coerced into a singleton collection; anything that
// is neither an array nor an object degrades to empty.
func coerceElements(raw []byte, logger *slog.Logger, name string) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err == nil {
		return elems
	}
	var single map[string]json.RawMessage
	if err := json.Unmarshal(raw, &single); err == nil {
		logger.Warn("coercing lone object into singleton collection", "collection", name)
		return []json.RawMessage{json.RawMessage(raw)}
	}
	logger.Warn("discarding corrupt collection payload", "collection", name, "bytes", len(raw))
	return nil
}

func (s *Store) decodeSites(raw []byte) []inspection.Site {
	elems := coerceElements(raw, s.logger, collectionSites)
	var out []inspection.Site
	for _, elem := range elems {
		var site inspection.Site
		if err := json.Unmarshal(elem, &site); err != nil {
			s.logger.Warn("dropping undecodable site record", "error", err)
			continue
		}
		out = append(out, site)
	}
	return out
}

func (s *Store) decodeLogs(raw []byte) []inspection.InspectionLog {
	elems := coerceElements(raw, s.logger, collectionInspections)
	var out []inspection.InspectionLog
	for _, elem := range elems {
		var log inspection.InspectionLog
		if err := json.Unmarshal(elem, &log); err != nil {
			s.logger.Warn("dropping undecodable inspection record", "error", err)
			continue
		}
		out = append(out, log)
	}
	return out
}

func replaceOrAppendSite(sites []inspection.Site, site inspection.Site) []inspection.Site {
	out := make([]inspection.Site, len(sites))
	copy(out, sites)
	for i := range out {
		if out[i].ID == site.ID {
			out[i] = site
			return out
		}
	}
	return append(out, site)
}

func replaceOrAppendLog(logs []inspection.InspectionLog, log inspection.InspectionLog) []inspection.InspectionLog {
	out := make([]inspection.InspectionLog, len(logs))
	copy(out, logs)
	for i := range out {
		if out[i].ID == log.ID {
			out[i] = log
			return out
		}
	}
	return append(out, log)
}

// stripHeavyPhotoRefs drops legacy inline photo payloads from records the
// remote store already holds a confirmed copy of. Unsynced records are
// never touched and no record is removed.
func stripHeavyPhotoRefs(logs []inspection.InspectionLog) ([]inspection.InspectionLog, int) {
	stripped := 0
	out := make([]inspection.InspectionLog, len(logs))
	copy(out, logs)
	for i := range out {
		if !out[i].Synced {
			continue
		}
		var answers []inspection.Answer
		for j := range out[i].Answers {
			if !out[i].Answers[j].Photo.IsHeavy() {
				continue
			}
			if answers == nil {
				answers = out[i].CloneAnswers()
			}
			answers[j].Photo = inspection.NoPhoto()
			stripped++
		}
		if answers != nil {
			out[i].Answers = answers
		}
	}
	return out, stripped
}

func isCapacityError(err error) bool {
	if errors.Is(err, errCollectionTooLarge) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrFull || sqliteErr.Code == sqlite3.ErrTooBig
	}
	return false
}
