// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fieldremote

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"
)

// RemoteError wraps a failed remote operation together with whatever
// structured detail the backend attached to the failure.
type RemoteError struct {
	Op     string // operation that failed, e.g. "upsert site"
	Detail string // backend-provided detail, empty when none
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote %s failed: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func remoteErr(op string, err error) error {
	return &RemoteError{Op: op, Detail: backendDetail(err), Err: err}
}

// backendDetail pulls the structured error description out of a Postgres or
// object store failure when one is present.
func backendDetail(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			return fmt.Sprintf("%s: %s (SQLSTATE %s)", pgErr.Message, pgErr.Detail, pgErr.Code)
		}
		return fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	if resp := minio.ToErrorResponse(err); resp.Code != "" {
		return fmt.Sprintf("%s: %s", resp.Code, resp.Message)
	}
	return ""
}
