// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package a2a provides the wire types of the Agent2Agent task protocol: tasks,
// messages, artifacts, streaming events and the JSON-RPC envelopes that carry them.
package a2a

import (
	"maps"
	"slices"
	"time"
)

// Version is the version of the A2A protocol spoken by this module.
const Version = "0.1.0"

// AgentCardWellKnownPath is where an agent publishes its [AgentCard].
const AgentCardWellKnownPath = "/.well-known/agent.json"

// TaskState represents the state of a task within the A2A protocol.
type TaskState string

const (
	// TaskStateSubmitted indicates the task has been received but not yet started.
	TaskStateSubmitted TaskState = "submitted"
	// TaskStateWorking indicates an agent is producing output for the task.
	TaskStateWorking TaskState = "working"
	// TaskStateInputRequired indicates the agent needs another client message to proceed.
	TaskStateInputRequired TaskState = "input-required"
	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "completed"
	// TaskStateCanceled indicates the task was canceled.
	TaskStateCanceled TaskState = "canceled"
	// TaskStateFailed indicates the task failed.
	TaskStateFailed TaskState = "failed"
	// TaskStateUnknown indicates the state could not be determined.
	TaskStateUnknown TaskState = "unknown"
)

// Terminal reports whether the task has ended and cannot be resumed.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	default:
		return false
	}
}

// EndsTurn reports whether the state ends the current turn of a task, either
// because the task is terminal or because it waits for client input.
func (s TaskState) EndsTurn() bool {
	return s == TaskStateInputRequired || s.Terminal()
}

// Role identifies the sender of a message.
type Role string

const (
	// RoleUser is a message sent by the client.
	RoleUser Role = "user"
	// RoleAgent is a message sent by the agent.
	RoleAgent Role = "agent"
)

// PartTypeText is the type of a [Part] carrying plain text.
const PartTypeText = "text"

// Part is a piece of content within a [Message] or [Artifact].
type Part struct {
	// Type of the part. Only "text" is produced by this module.
	Type string `json:"type"`

	// Text content of a text part.
	Text string `json:"text,omitzero"`

	// Metadata associated with the part.
	Metadata map[string]any `json:"metadata,omitzero"`
}

// NewTextPart returns a text [Part].
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// Message is a single turn of communication between a client and an agent.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// NewAgentTextMessage returns an agent message with a single text part.
func NewAgentTextMessage(text string) *Message {
	return &Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}
}

// NewUserTextMessage returns a user message with a single text part.
func NewUserTextMessage(text string) *Message {
	return &Message{Role: RoleUser, Parts: []Part{NewTextPart(text)}}
}

// Artifact is an output produced by an agent for a task.
type Artifact struct {
	Name        string         `json:"name,omitzero"`
	Description string         `json:"description,omitzero"`
	Parts       []Part         `json:"parts"`
	Index       int            `json:"index"`
	Append      bool           `json:"append,omitzero"`
	LastChunk   bool           `json:"lastChunk,omitzero"`
	Metadata    map[string]any `json:"metadata,omitzero"`
}

// TaskStatus is a [TaskState] together with an optional agent message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitzero"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Task is the unit of work tracked by the coordinator.
type Task struct {
	// ID is the client supplied task identifier.
	ID string `json:"id"`

	// SessionID groups the tasks of one conversation.
	SessionID string `json:"sessionId,omitzero"`

	// Status is the current status of the task.
	Status TaskStatus `json:"status"`

	// History holds past messages of the task, oldest first.
	History []Message `json:"history,omitzero"`

	// Artifacts produced by the agent, in production order.
	Artifacts []Artifact `json:"artifacts,omitzero"`

	Metadata map[string]any `json:"metadata,omitzero"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Status = t.Status.Clone()
	if t.History != nil {
		c.History = make([]Message, len(t.History))
		for i, m := range t.History {
			c.History[i] = m.Clone()
		}
	}
	if t.Artifacts != nil {
		c.Artifacts = make([]Artifact, len(t.Artifacts))
		for i, a := range t.Artifacts {
			c.Artifacts[i] = a.Clone()
		}
	}
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// Clone returns a deep copy of s.
func (s TaskStatus) Clone() TaskStatus {
	if s.Message != nil {
		m := s.Message.Clone()
		s.Message = &m
	}
	return s
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Parts = cloneParts(m.Parts)
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

// Clone returns a deep copy of a.
func (a Artifact) Clone() Artifact {
	a.Parts = cloneParts(a.Parts)
	a.Metadata = maps.Clone(a.Metadata)
	return a
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := slices.Clone(parts)
	for i := range out {
		out[i].Metadata = maps.Clone(out[i].Metadata)
	}
	return out
}

// PushNotificationConfig is where and how task updates are pushed to a client.
type PushNotificationConfig struct {
	// URL receiving the notifications.
	URL string `json:"url"`

	// Token unique to this task or session, echoed back to the receiver.
	Token string `json:"token,omitzero"`
}

// TaskPushNotificationConfig binds a [PushNotificationConfig] to a task.
type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// TaskSendParams are the parameters of tasks/send and tasks/sendSubscribe.
type TaskSendParams struct {
	ID                  string                  `json:"id"`
	SessionID           string                  `json:"sessionId,omitzero"`
	Message             Message                 `json:"message"`
	AcceptedOutputModes []string                `json:"acceptedOutputModes,omitzero"`
	PushNotification    *PushNotificationConfig `json:"pushNotification,omitzero"`
	HistoryLength       int                     `json:"historyLength,omitzero"`
	Metadata            map[string]any          `json:"metadata,omitzero"`
}

// TaskQueryParams are the parameters of tasks/get.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength int    `json:"historyLength,omitzero"`
}

// TaskIDParams are the parameters of operations addressing a task by id only.
type TaskIDParams struct {
	ID string `json:"id"`
}

// AgentCapabilities are the optional protocol features an agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming,omitzero"`
	PushNotifications      bool `json:"pushNotifications,omitzero"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitzero"`
}

// AgentSkill is a unit of capability that an agent can perform.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitzero"`
	Tags        []string `json:"tags,omitzero"`
	Examples    []string `json:"examples,omitzero"`
}

// AgentCard describes an agent to its clients and is served at
// /.well-known/agent.json.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description,omitzero"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Skills             []AgentSkill      `json:"skills"`
}
