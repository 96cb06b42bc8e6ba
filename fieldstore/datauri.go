// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldstore

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultPhotoMIME = "image/jpeg"

// DataURI is a self-describing photo payload string in the form
// data:<mime>;base64,<bytes>. It is the transport encoding for every photo
// held in the local cache.
type DataURI string

// EncodeDataURI builds a data URI from raw payload bytes. An empty MIME type
// defaults to image/jpeg.
func EncodeDataURI(mime string, data []byte) DataURI {
	if mime == "" {
		mime = defaultPhotoMIME
	}
	return DataURI("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// Decode returns the MIME type and payload bytes of the data URI. Legacy
// cache entries were stored as bare base64 without the data: envelope, so a
// plain base64 string is accepted and decoded with the default image MIME
// type.
func (d DataURI) Decode() (mime string, data []byte, err error) {
	s := string(d)
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return "", nil, fmt.Errorf("malformed data URI: missing payload separator")
		}
		mime = strings.TrimSuffix(meta, ";base64")
		if mime == "" {
			mime = defaultPhotoMIME
		}
		if strings.HasSuffix(meta, ";base64") {
			data, err = base64.StdEncoding.DecodeString(payload)
			if err != nil {
				return "", nil, fmt.Errorf("failed to decode data URI payload: %w", err)
			}
			return mime, data, nil
		}
		// Rare non-base64 form, keep the payload bytes as-is
		return mime, []byte(payload), nil
	}

	if decoded, decErr := base64.StdEncoding.DecodeString(s); decErr == nil {
		return defaultPhotoMIME, decoded, nil
	}
	return "", nil, fmt.Errorf("value is neither a data URI nor base64")
}
