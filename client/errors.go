// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	a2a "github.com/go-a2a/a2a-coordinator"
)

// HTTPError is returned when the agent answers with a non-200 status.
type HTTPError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("a2a: %s returned status %d", e.URL, e.StatusCode)
}

// IsRPCError reports whether err carries a JSON-RPC error with the given code.
func IsRPCError(err error, code int) bool {
	var rpcErr *a2a.JSONRPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// IsTaskNotFoundError reports whether err is due to a task not being found.
func IsTaskNotFoundError(err error) bool {
	return IsRPCError(err, a2a.CodeTaskNotFound)
}

// IsTaskNotCancelableError reports whether err is due to a task not being cancelable.
func IsTaskNotCancelableError(err error) bool {
	return IsRPCError(err, a2a.CodeTaskNotCancelable)
}

// IsPushNotificationNotSupportedError reports whether err is due to push
// notifications not being supported by the agent.
func IsPushNotificationNotSupportedError(err error) bool {
	return IsRPCError(err, a2a.CodePushNotificationNotSupported)
}

// IsUnsupportedOperationError reports whether err is due to an unsupported operation.
func IsUnsupportedOperationError(err error) bool {
	return IsRPCError(err, a2a.CodeUnsupportedOperation)
}
