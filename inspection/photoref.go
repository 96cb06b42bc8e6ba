// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package inspection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LocalRefPrefix marks a photo reference that resolves to the local photo
// cache. Anything else in a non-empty reference is a remote URL.
const LocalRefPrefix = "local::"

type photoForm int

const (
	photoAbsent photoForm = iota
	photoLocal
	photoRemote
)

// PhotoRef is a tagged reference to a photo attachment. Exactly one of three
// forms holds at any time: absent (no photo), local (a key into the photo
// cache), or remote (a fully-qualified URL). A reference only ever moves
// local -> remote, never back.
//
// The zero value is the absent form.
type PhotoRef struct {
	form  photoForm
	value string
}

// NoPhoto returns the absent reference.
func NoPhoto() PhotoRef { return PhotoRef{} }

// LocalPhoto returns a reference to a photo cache entry. An empty key yields
// the absent reference.
func LocalPhoto(key string) PhotoRef {
	if key == "" {
		return PhotoRef{}
	}
	return PhotoRef{form: photoLocal, value: key}
}

// RemotePhoto returns a reference to an uploaded photo. An empty URL yields
// the absent reference.
func RemotePhoto(url string) PhotoRef {
	if url == "" {
		return PhotoRef{}
	}
	return PhotoRef{form: photoRemote, value: url}
}

// ParsePhotoRef decodes the string form of a reference: empty means absent,
// the local prefix marks a cache key, anything else is treated as a remote
// URL. Legacy inline data URIs therefore decode as remote references.
func ParsePhotoRef(s string) PhotoRef {
	if s == "" {
		return PhotoRef{}
	}
	if key, ok := strings.CutPrefix(s, LocalRefPrefix); ok {
		return LocalPhoto(key)
	}
	return PhotoRef{form: photoRemote, value: s}
}

// IsAbsent reports whether no photo is attached.
func (p PhotoRef) IsAbsent() bool { return p.form == photoAbsent }

// IsLocal reports whether the reference points into the local photo cache.
func (p PhotoRef) IsLocal() bool { return p.form == photoLocal }

// IsRemote reports whether the reference is a remote URL.
func (p PhotoRef) IsRemote() bool { return p.form == photoRemote }

// LocalKey returns the photo cache key for a local reference.
func (p PhotoRef) LocalKey() (string, bool) {
	if p.form != photoLocal {
		return "", false
	}
	return p.value, true
}

// URL returns the remote URL for a remote reference.
func (p PhotoRef) URL() (string, bool) {
	if p.form != photoRemote {
		return "", false
	}
	return p.value, true
}

// IsHeavy reports whether the reference carries an inline data URI payload,
// the legacy shape that embeds the full photo bytes in the record itself.
// Heavy references are the ones stripped under local storage pressure.
func (p PhotoRef) IsHeavy() bool {
	return p.form == photoRemote && strings.HasPrefix(p.value, "data:")
}

// Promote rewrites a local reference to the remote URL it was uploaded to.
// Promoting an absent or already-remote reference is an error; the state
// machine only moves local -> remote.
func (p PhotoRef) Promote(url string) (PhotoRef, error) {
	if p.form != photoLocal {
		return p, fmt.Errorf("cannot promote %s photo reference", p.formName())
	}
	if url == "" {
		return p, fmt.Errorf("cannot promote photo reference to empty URL")
	}
	return PhotoRef{form: photoRemote, value: url}, nil
}

// String returns the wire encoding of the reference (empty for absent).
func (p PhotoRef) String() string {
	if p.form == photoLocal {
		return LocalRefPrefix + p.value
	}
	return p.value
}

func (p PhotoRef) formName() string {
	switch p.form {
	case photoLocal:
		return "local"
	case photoRemote:
		return "remote"
	default:
		return "absent"
	}
}

// MarshalJSON encodes the reference as its string form.
func (p PhotoRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the string form, tolerating an explicit null.
func (p *PhotoRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = PhotoRef{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode photo reference: %w", err)
	}
	*p = ParsePhotoRef(s)
	return nil
}
