// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"time"
)

const (
	MetricsOpSync    = "sync"
	MetricsOpPromote = "promote"

	MetricsStageTotal    = "total"
	MetricsStageDownload = "download"
	MetricsStageUpload   = "upload"
)

// StageTiming describes one timed stage of a sync or promotion pass. Count
// carries the number of records the stage touched where that is meaningful.
type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

// StageMetricsRecorder receives stage timings when configured.
type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (s *Service) stageTimingEnabled() bool {
	return s.config.StageMetrics != nil || s.config.LogStageTimings
}

func (s *Service) stageStart() time.Time {
	if !s.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (s *Service) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if s.config.StageMetrics != nil {
		s.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if s.config.LogStageTimings {
		s.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
