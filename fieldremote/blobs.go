// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldremote

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// PutBlob uploads payload under path in the configured bucket. Uploading
// the same path twice replaces the object.
func (c *Client) PutBlob(ctx context.Context, path string, payload []byte, contentType string) error {
	_, err := c.storage.PutObject(ctx, c.cfg.StorageBucket, path,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return remoteErr("put blob "+path, err)
	}
	return nil
}

// PublicURL resolves the public URL for a blob path by convention alone.
// No network call is made, so the result is usable even while offline.
func (c *Client) PublicURL(path string) string {
	scheme := "http"
	if c.cfg.StorageUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.cfg.StorageEndpoint, c.cfg.StorageBucket, path)
}
