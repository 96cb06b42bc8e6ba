// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldrover/go-fieldsync/inspection"
)

const pdfContentType = "application/pdf"

// FlowState identifies how far a finalization attempt got.
type FlowState string

const (
	FlowDraft     FlowState = "DRAFT"
	FlowPromoting FlowState = "PHOTOS_PROMOTING"
	FlowUploading FlowState = "PDF_UPLOADING"
	FlowUpdating  FlowState = "DB_UPDATING"
	FlowSynced    FlowState = "SYNCED"
	FlowLocalOnly FlowState = "LOCAL_ONLY"
)

// PDFRenderer produces the finished report document for a log. Rendering
// is an opaque collaborator; a failure aborts the finalization flow with
// the stored draft untouched.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, log inspection.InspectionLog) ([]byte, error)
}

// RenderFunc adapts a plain function to the PDFRenderer interface.
type RenderFunc func(ctx context.Context, log inspection.InspectionLog) ([]byte, error)

func (f RenderFunc) RenderPDF(ctx context.Context, log inspection.InspectionLog) ([]byte, error) {
	return f(ctx, log)
}

// FinishReport converts a draft inspection into a completed, report-bearing
// record. Connectivity is checked once, up front: with the backend
// unreachable the draft persists locally with synced=false and the caller
// proceeds as if finalized. Otherwise the flow promotes photos, renders and
// uploads the PDF, upserts the remote row, and only then advances the
// stored record in a single local write. Any failure before that write
// leaves the stored draft exactly as it was at entry; the returned state
// names the step that failed.
func (s *Service) FinishReport(ctx context.Context, log inspection.InspectionLog, renderer PDFRenderer) (inspection.InspectionLog, FlowState, error) {
	if !s.remote.Available() {
		if err := s.store.SaveLog(ctx, &log); err != nil {
			return log, FlowDraft, fmt.Errorf("failed to save report locally: %w", err)
		}
		s.logger.Info("report finished locally, backend unreachable", "log", log.ID)
		return log, FlowLocalOnly, nil
	}

	s.logger.Debug("report finalization started", "log", log.ID, "state", FlowPromoting)
	promoted, err := s.PromotePhotos(ctx, log)
	if err != nil {
		return log, FlowPromoting, err
	}

	s.logger.Debug("rendering report", "log", log.ID, "state", FlowUploading)
	pdf, err := renderer.RenderPDF(ctx, promoted)
	if err != nil {
		return log, FlowUploading, fmt.Errorf("failed to render report PDF: %w", err)
	}
	path := SanitizeSiteName(promoted.SiteName) + "_" + promoted.ID + ".pdf"
	if err := s.remote.PutBlob(ctx, path, pdf, pdfContentType); err != nil {
		return log, FlowUploading, err
	}
	promoted.PDFURL = s.remote.PublicURL(path)

	s.logger.Debug("updating remote record", "log", log.ID, "state", FlowUpdating)
	promoted.Synced = true
	if err := s.remote.UpsertLog(ctx, promoted); err != nil {
		return log, FlowUpdating, err
	}

	// The one local write of the whole flow.
	if _, err := s.store.UpdateLogs(ctx, func(local []inspection.InspectionLog) ([]inspection.InspectionLog, bool) {
		for i := range local {
			if local[i].ID == promoted.ID {
				local[i] = promoted
				return local, true
			}
		}
		return append(local, promoted), true
	}); err != nil {
		return log, FlowUpdating, fmt.Errorf("failed to store finalized report: %w", err)
	}

	s.logger.Info("report finalized", "log", promoted.ID, "pdf", promoted.PDFURL)
	return promoted, FlowSynced, nil
}

// SanitizeSiteName maps a site display name onto the report path prefix:
// letters, digits, dashes and underscores pass through, every other rune
// becomes an underscore.
func SanitizeSiteName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
