// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

// Event is a streaming update for a task.
type Event interface {
	// GetTaskID returns the task ID that this event is for.
	GetTaskID() string

	// IsFinal reports whether the event ends the stream it is delivered on.
	IsFinal() bool
}

// TaskStatusUpdateEvent reports a status transition of a task.
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

var _ Event = (*TaskStatusUpdateEvent)(nil)

// GetTaskID implements [Event].
func (e *TaskStatusUpdateEvent) GetTaskID() string { return e.ID }

// IsFinal implements [Event].
func (e *TaskStatusUpdateEvent) IsFinal() bool { return e.Final }

// TaskArtifactUpdateEvent carries an artifact produced for a task.
type TaskArtifactUpdateEvent struct {
	ID       string         `json:"id"`
	Artifact Artifact       `json:"artifact"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

var _ Event = (*TaskArtifactUpdateEvent)(nil)

// GetTaskID implements [Event].
func (e *TaskArtifactUpdateEvent) GetTaskID() string { return e.ID }

// IsFinal implements [Event].
func (e *TaskArtifactUpdateEvent) IsFinal() bool { return false }

// TaskErrorEvent terminates a stream with a protocol error. It is sent to
// clients as the error member of a JSON-RPC response.
type TaskErrorEvent struct {
	ID    string
	Error *JSONRPCError
}

var _ Event = (*TaskErrorEvent)(nil)

// GetTaskID implements [Event].
func (e *TaskErrorEvent) GetTaskID() string { return e.ID }

// IsFinal implements [Event].
func (e *TaskErrorEvent) IsFinal() bool { return true }
