// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package task owns the canonical state of A2A tasks.
package task

import (
	"context"

	a2a "github.com/go-a2a/a2a-coordinator"
)

// Store defines the mutation and read API over task state.
//
// Implementations must serialize updates for the same task id and return
// copies, so callers never share memory with the store.
type Store interface {
	// UpsertTask creates the task named by params in the submitted state, or
	// appends the request message to the history of the existing task.
	UpsertTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error)

	// UpdateStatus replaces the status of a task, moving the previous status
	// message into history and appending artifacts.
	// Returns NotFoundError if the task doesn't exist.
	UpdateStatus(ctx context.Context, taskID string, status a2a.TaskStatus, artifacts ...a2a.Artifact) (*a2a.Task, error)

	// GetTask retrieves a task by its ID.
	// Returns NotFoundError if the task doesn't exist.
	GetTask(ctx context.Context, taskID string) (*a2a.Task, error)

	// SetPushConfig stores the push notification config of a task,
	// replacing any previous one.
	// Returns NotFoundError if the task doesn't exist.
	SetPushConfig(ctx context.Context, taskID string, config a2a.PushNotificationConfig) error

	// GetPushConfig returns the push notification config of a task, if any.
	GetPushConfig(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, bool)
}

// AppendHistory returns a copy of task whose history holds only the last
// maxLen entries. A maxLen of zero or less yields an empty history.
func AppendHistory(task *a2a.Task, maxLen int) *a2a.Task {
	out := task.Clone()
	if out == nil {
		return nil
	}
	switch {
	case maxLen <= 0:
		out.History = nil
	case len(out.History) > maxLen:
		out.History = out.History[len(out.History)-maxLen:]
	}
	return out
}
