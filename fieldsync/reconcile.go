// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"

	"github.com/fieldrover/go-fieldsync/inspection"
)

// DownloadOnce fetches the remote snapshot of both collections and merges
// it into the local store. Remote content wins wherever it differs from the
// local copy; records that exist only locally are upload candidates and
// stay untouched. Absence from the remote snapshot never implies deletion.
// Each collection persists as at most one write with at most one
// notification, and a merge that changes nothing writes nothing.
func (s *Service) DownloadOnce(ctx context.Context) (err error) {
	if !s.remote.Available() {
		return nil
	}
	start := s.stageStart()
	fetched := 0
	defer func() {
		s.observeStage(ctx, MetricsOpSync, MetricsStageDownload, start, fetched, err != nil)
	}()

	remoteSites, err := s.remote.FetchSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote sites: %w", err)
	}
	fetched += len(remoteSites)
	changed, err := s.store.UpdateSites(ctx, func(local []inspection.Site) ([]inspection.Site, bool) {
		return mergeSites(local, remoteSites)
	})
	if err != nil {
		return fmt.Errorf("failed to merge sites: %w", err)
	}
	if changed {
		s.logger.Debug("merged remote sites into local store", "remote", len(remoteSites))
	}

	remoteLogs, err := s.remote.FetchLogs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote inspections: %w", err)
	}
	fetched += len(remoteLogs)
	changed, err = s.store.UpdateLogs(ctx, func(local []inspection.InspectionLog) ([]inspection.InspectionLog, bool) {
		return mergeLogs(local, remoteLogs)
	})
	if err != nil {
		return fmt.Errorf("failed to merge inspections: %w", err)
	}
	if changed {
		s.logger.Debug("merged remote inspections into local store", "remote", len(remoteLogs))
	}
	return nil
}

// mergeSites folds a remote snapshot into the local collection, in place.
// A remote record lands in the local slot, marked synced, when the slot is
// empty or holds different content. Equal content leaves the slot untouched
// so an unconfirmed upload stays pending rather than being absorbed.
func mergeSites(local []inspection.Site, remote []inspection.Site) ([]inspection.Site, bool) {
	index := make(map[string]int, len(local))
	for i := range local {
		index[local[i].ID] = i
	}
	changed := false
	for _, site := range remote {
		site.Synced = true
		if i, ok := index[site.ID]; ok {
			if local[i].ContentEqual(site) {
				continue
			}
			local[i] = site
		} else {
			index[site.ID] = len(local)
			local = append(local, site)
		}
		changed = true
	}
	return local, changed
}

// mergeLogs is the inspections counterpart of mergeSites.
func mergeLogs(local []inspection.InspectionLog, remote []inspection.InspectionLog) ([]inspection.InspectionLog, bool) {
	index := make(map[string]int, len(local))
	for i := range local {
		index[local[i].ID] = i
	}
	changed := false
	for _, log := range remote {
		log.Synced = true
		if i, ok := index[log.ID]; ok {
			if local[i].ContentEqual(log) {
				continue
			}
			local[i] = log
		} else {
			index[log.ID] = len(local)
			local = append(local, log)
		}
		changed = true
	}
	return local, changed
}
