// Package inspection defines the record types shared by the local stores,
// the sync engine and the remote backend: sites, inspection logs and the
// photo references that move between storage tiers.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package inspection

import (
	"bytes"
	"encoding/json"
)

// CheckPoint is a single checklist question within an area.
type CheckPoint struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// Area groups the checklist points of one physical zone of a site.
type Area struct {
	Name   string       `json:"name"`
	Points []CheckPoint `json:"points,omitempty"`
}

// Site is a named inspection location. The structural configuration (areas
// and checklist points) is opaque to the sync layer; it only travels along.
type Site struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Areas  []Area `json:"areas,omitempty"`
	Synced bool   `json:"synced"`
}

// Answer is one checklist response within an inspection log.
type Answer struct {
	PointID  string   `json:"pointId"`
	Question string   `json:"question"`
	IsOK     bool     `json:"isOk"`
	Comment  string   `json:"comment,omitempty"`
	Photo    PhotoRef `json:"photoUrl"`
}

// InspectionLog is one completed or in-progress inspection. PDFURL is empty
// until finalization succeeds and is always a remote URL once set, never a
// local cache reference.
type InspectionLog struct {
	ID            string   `json:"id"`
	SiteName      string   `json:"siteName"`
	InspectorName string   `json:"inspectorName"`
	Date          string   `json:"date"` // ISO-8601 timestamp
	Answers       []Answer `json:"answers,omitempty"`
	PDFURL        string   `json:"pdfUrl,omitempty"`
	Synced        bool     `json:"synced"`
}

// ContentEqual reports whether two sites carry the same content, ignoring
// the synced flag. Comparison is deep and structural.
func (s Site) ContentEqual(other Site) bool {
	s.Synced = false
	other.Synced = false
	return jsonEqual(s, other)
}

// ContentEqual reports whether two logs carry the same content, ignoring
// the synced flag.
func (l InspectionLog) ContentEqual(other InspectionLog) bool {
	l.Synced = false
	other.Synced = false
	return jsonEqual(l, other)
}

// CloneAnswers returns a copy of the log's answer slice so callers can
// rewrite references without mutating the original log.
func (l InspectionLog) CloneAnswers() []Answer {
	if len(l.Answers) == 0 {
		return nil
	}
	out := make([]Answer, len(l.Answers))
	copy(out, l.Answers)
	return out
}

func jsonEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
