// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"fmt"
)

// ErrSubscriptionClosed is returned when delivering to a closed subscription.
var ErrSubscriptionClosed = errors.New("subscription is closed")

// QueueOverflowError is returned by Publish when a subscriber's queue has
// reached its high-water mark. The overflowing subscription is terminated.
type QueueOverflowError struct {
	TaskID    string
	HighWater int
}

// NewQueueOverflowError creates a new QueueOverflowError.
func NewQueueOverflowError(taskID string, highWater int) *QueueOverflowError {
	return &QueueOverflowError{TaskID: taskID, HighWater: highWater}
}

// Error returns the error message.
func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("event queue for task %s exceeded %d buffered events", e.TaskID, e.HighWater)
}

// Is implements error matching for QueueOverflowError.
func (e *QueueOverflowError) Is(target error) bool {
	_, ok := target.(*QueueOverflowError)
	return ok
}

// IsQueueOverflowError checks if an error is a QueueOverflowError.
func IsQueueOverflowError(err error) bool {
	var overflow *QueueOverflowError
	return errors.As(err, &overflow)
}
