// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"

	"github.com/fieldrover/go-fieldsync/inspection"
)

// SyncOnce runs one full cycle: download and reconcile the remote snapshot,
// then upload pending local records. Downloads run first so an upload of
// stale local state can never clobber fresher remote state within the same
// cycle. With the backend unavailable the cycle is a no-op.
func (s *Service) SyncOnce(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if !s.remote.Available() {
		return nil
	}
	total := s.stageStart()
	if err := s.DownloadOnce(ctx); err != nil {
		s.observeStage(ctx, MetricsOpSync, MetricsStageTotal, total, 0, true)
		return err
	}
	err := s.UploadOnce(ctx)
	s.observeStage(ctx, MetricsOpSync, MetricsStageTotal, total, 0, err != nil)
	return err
}

// UploadOnce pushes every unsynced local record to the remote backend. A
// log's cached photos are promoted before its upload, so the uploaded
// payload carries remote URLs wherever promotion succeeded. One record's
// failure does not stop the others; the first error is returned after the
// pass completes.
func (s *Service) UploadOnce(ctx context.Context) (err error) {
	if !s.remote.Available() {
		return nil
	}
	start := s.stageStart()
	pending := 0
	defer func() {
		s.observeStage(ctx, MetricsOpSync, MetricsStageUpload, start, pending, err != nil)
	}()
	var firstErr error

	sites, listErr := s.store.ListSites(ctx)
	if listErr != nil {
		return fmt.Errorf("failed to list sites for upload: %w", listErr)
	}
	for _, site := range sites {
		if site.Synced {
			continue
		}
		pending++
		if err := s.uploadSite(ctx, site); err != nil {
			s.logger.Warn("site upload failed", "id", site.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	logs, listErr := s.store.ListLogs(ctx)
	if listErr != nil {
		return fmt.Errorf("failed to list inspections for upload: %w", listErr)
	}
	for _, log := range logs {
		if log.Synced {
			continue
		}
		pending++
		if err := s.uploadLog(ctx, log); err != nil {
			s.logger.Warn("inspection upload failed", "id", log.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// uploadSite upserts one site remotely, then flips the stored record's
// synced flag. The flag flips only if the stored content still equals the
// uploaded snapshot; an edit that landed mid-upload keeps the record
// pending for the next pass.
func (s *Service) uploadSite(ctx context.Context, site inspection.Site) error {
	uploaded := site
	uploaded.Synced = true
	if err := s.remote.UpsertSite(ctx, uploaded); err != nil {
		return err
	}

	_, err := s.store.UpdateSites(ctx, func(local []inspection.Site) ([]inspection.Site, bool) {
		for i := range local {
			if local[i].ID != site.ID {
				continue
			}
			if local[i].Synced || !local[i].ContentEqual(site) {
				return local, false
			}
			local[i].Synced = true
			return local, true
		}
		return local, false
	})
	if err != nil {
		return fmt.Errorf("failed to confirm site upload: %w", err)
	}
	s.logger.Debug("uploaded site", "id", site.ID)
	return nil
}

// uploadLog promotes the log's cached photos, upserts the promoted record
// remotely, then writes the promoted record with its synced flag back into
// the store. The write-back only lands if the stored content still equals
// the pre-promotion snapshot.
func (s *Service) uploadLog(ctx context.Context, log inspection.InspectionLog) error {
	promoted, err := s.PromotePhotos(ctx, log)
	if err != nil {
		return err
	}

	uploaded := promoted
	uploaded.Synced = true
	if err := s.remote.UpsertLog(ctx, uploaded); err != nil {
		return err
	}

	_, err = s.store.UpdateLogs(ctx, func(local []inspection.InspectionLog) ([]inspection.InspectionLog, bool) {
		for i := range local {
			if local[i].ID != log.ID {
				continue
			}
			if !local[i].ContentEqual(log) {
				return local, false
			}
			if local[i].Synced && local[i].ContentEqual(uploaded) {
				return local, false
			}
			local[i] = uploaded
			return local, true
		}
		return local, false
	})
	if err != nil {
		return fmt.Errorf("failed to confirm inspection upload: %w", err)
	}
	s.logger.Debug("uploaded inspection", "id", log.ID)
	return nil
}
