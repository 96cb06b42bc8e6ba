// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldremote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fieldrover/go-fieldsync/inspection"
)

// ReportSummary is the column projection used by report listings. The full
// record JSON stays behind on the server.
type ReportSummary struct {
	ID       string
	SiteName string
	Date     string
	PDFURL   string
}

// FetchSites returns every row of the sites table decoded into records.
// Rows whose JSON no longer decodes are skipped with a warning rather than
// failing the whole snapshot.
func (c *Client) FetchSites(ctx context.Context) ([]inspection.Site, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, data FROM sites ORDER BY id`)
	if err != nil {
		return nil, remoteErr("select sites", err)
	}
	defer rows.Close()

	var out []inspection.Site
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, remoteErr("scan site row", err)
		}
		var site inspection.Site
		if err := json.Unmarshal(data, &site); err != nil {
			c.logger.Warn("skipping undecodable remote site row", "id", id, "error", err)
			continue
		}
		if site.ID == "" {
			site.ID = id
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr("select sites", err)
	}
	return out, nil
}

// FetchLogs returns every row of the inspections table. The pdf_url column
// is authoritative: a payload that predates finalization is repaired from
// the column value.
func (c *Client) FetchLogs(ctx context.Context) ([]inspection.InspectionLog, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, pdf_url, data FROM inspections ORDER BY date, id`)
	if err != nil {
		return nil, remoteErr("select inspections", err)
	}
	defer rows.Close()

	var out []inspection.InspectionLog
	for rows.Next() {
		var id string
		var pdfURL *string
		var data []byte
		if err := rows.Scan(&id, &pdfURL, &data); err != nil {
			return nil, remoteErr("scan inspection row", err)
		}
		var log inspection.InspectionLog
		if err := json.Unmarshal(data, &log); err != nil {
			c.logger.Warn("skipping undecodable remote inspection row", "id", id, "error", err)
			continue
		}
		if log.ID == "" {
			log.ID = id
		}
		if pdfURL != nil && *pdfURL != "" && log.PDFURL == "" {
			log.PDFURL = *pdfURL
		}
		out = append(out, log)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr("select inspections", err)
	}
	return out, nil
}

// UpsertSite inserts or replaces one site row keyed by id.
func (c *Client) UpsertSite(ctx context.Context, site inspection.Site) error {
	data, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("failed to marshal site %s: %w", site.ID, err)
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO sites (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
	`, site.ID, data)
	if err != nil {
		return remoteErr("upsert site", err)
	}
	return nil
}

// UpsertLog inserts or replaces one inspection row keyed by id, keeping the
// queryable columns in step with the JSON payload.
func (c *Client) UpsertLog(ctx context.Context, log inspection.InspectionLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal inspection %s: %w", log.ID, err)
	}
	var pdfURL *string
	if log.PDFURL != "" {
		pdfURL = &log.PDFURL
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO inspections (id, site_name, inspector_name, date, pdf_url, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			site_name      = EXCLUDED.site_name,
			inspector_name = EXCLUDED.inspector_name,
			date           = EXCLUDED.date,
			pdf_url        = EXCLUDED.pdf_url,
			data           = EXCLUDED.data
	`, log.ID, log.SiteName, log.InspectorName, log.Date, pdfURL, data)
	if err != nil {
		return remoteErr("upsert inspection", err)
	}
	return nil
}

// DeleteSite removes one site row. Deleting a missing id is a no-op.
func (c *Client) DeleteSite(ctx context.Context, id string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id); err != nil {
		return remoteErr("delete site", err)
	}
	return nil
}

// DeleteLog removes one inspection row. Deleting a missing id is a no-op.
func (c *Client) DeleteLog(ctx context.Context, id string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM inspections WHERE id = $1`, id); err != nil {
		return remoteErr("delete inspection", err)
	}
	return nil
}

// FetchReportIndex lists inspections newest-first without transferring the
// record payloads.
func (c *Client) FetchReportIndex(ctx context.Context) ([]ReportSummary, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, site_name, date, pdf_url FROM inspections ORDER BY date DESC, id`)
	if err != nil {
		return nil, remoteErr("select report index", err)
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var r ReportSummary
		var pdfURL *string
		if err := rows.Scan(&r.ID, &r.SiteName, &r.Date, &pdfURL); err != nil {
			return nil, remoteErr("scan report row", err)
		}
		if pdfURL != nil {
			r.PDFURL = *pdfURL
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr("select report index", err)
	}
	return out, nil
}
