// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fieldrover/go-fieldsync/inspection"
)

const photoContentType = "image/jpeg"

// PromotePhotos uploads every photo the log's answers still hold in the
// local cache, evicts the uploaded cache entries, and rewrites those
// references to their public URLs. Answers are processed concurrently with
// no ordering between them; one answer's failure never blocks the others,
// its reference simply stays local for a later pass. The input log is not
// modified; the rewritten copy is returned.
func (s *Service) PromotePhotos(ctx context.Context, log inspection.InspectionLog) (inspection.InspectionLog, error) {
	promoted := log
	promoted.Answers = log.CloneAnswers()
	if !s.remote.Available() {
		return promoted, nil
	}
	start := s.stageStart()

	var group errgroup.Group
	group.SetLimit(s.config.PromoteConcurrency)
	var uploaded, failed atomic.Int64

	for i := range promoted.Answers {
		answer := &promoted.Answers[i]
		key, ok := answer.Photo.LocalKey()
		if !ok {
			continue
		}
		group.Go(func() error {
			url, err := s.promoteOne(ctx, log.ID, answer.PointID, key)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("photo promotion failed, keeping local reference",
					"log", log.ID, "point", answer.PointID, "error", err)
				return nil
			}
			if url == "" {
				return nil
			}
			ref, err := answer.Photo.Promote(url)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("photo reference rewrite failed",
					"log", log.ID, "point", answer.PointID, "error", err)
				return nil
			}
			answer.Photo = ref
			uploaded.Add(1)
			return nil
		})
	}
	_ = group.Wait() // workers never return errors, failures are per-answer

	if uploaded.Load() > 0 || failed.Load() > 0 {
		s.logger.Info("photo promotion pass finished",
			"log", log.ID, "uploaded", uploaded.Load(), "failed", failed.Load())
	}
	s.observeStage(ctx, MetricsOpPromote, MetricsStageTotal, start, int(uploaded.Load()), failed.Load() > 0)
	return promoted, nil
}

// promoteOne moves a single cached photo to remote storage: resolve the
// payload, upload it at the log/point path, evict the cache entry, return
// the public URL. A cache miss returns an empty URL with no error and the
// reference stays local. The eviction happens before the caller rewrites
// the reference; if eviction fails the reference also stays local, so the
// cache entry and the reference move together or not at all.
func (s *Service) promoteOne(ctx context.Context, logID, pointID, key string) (string, error) {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read photo cache: %w", err)
	}
	if !ok {
		s.logger.Warn("photo cache entry missing, keeping local reference", "key", key)
		return "", nil
	}
	_, data, err := payload.Decode()
	if err != nil {
		return "", fmt.Errorf("failed to decode photo payload %s: %w", key, err)
	}

	path := logID + "/" + pointID + ".jpg"
	if err := s.remote.PutBlob(ctx, path, data, photoContentType); err != nil {
		return "", err
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("failed to evict promoted photo %s: %w", key, err)
	}
	return s.remote.PublicURL(path), nil
}
