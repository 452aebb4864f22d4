// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when an operation references an unknown task id.
type NotFoundError struct {
	TaskID string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(taskID string) *NotFoundError {
	return &NotFoundError{TaskID: taskID}
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// Is implements error matching for NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// IsNotFound checks if an error is a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// StoreError represents an error from the task store.
type StoreError struct {
	Operation string
	TaskID    string
	Err       error
}

// Error returns the error message.
func (e *StoreError) Error() string {
	return fmt.Sprintf("task store %s operation failed for task %s: %v", e.Operation, e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}
