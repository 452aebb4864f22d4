// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	a2a "github.com/go-a2a/a2a-coordinator"
)

// entry holds one task. Its mutex linearizes every mutation of the task.
type entry struct {
	mu       sync.Mutex
	task     *a2a.Task
	push     *a2a.PushNotificationConfig
	terminal atomic.Bool
}

// InMemoryStore is an in-memory implementation of Store.
// Task data is lost when the server process stops.
//
// The map of tasks is guarded by an RWMutex; each task additionally has its
// own mutex so that updates to different tasks never contend.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// retired tracks terminal tasks, oldest first, when retention is bounded.
	retired     *simplelru.LRU[string, struct{}]
	maxTerminal int

	now func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

// StoreOption configures an InMemoryStore.
type StoreOption func(*InMemoryStore)

// WithMaxTerminalTasks bounds the number of terminal tasks kept in memory.
// When the bound is exceeded the task that ended first is dropped.
// Zero, the default, keeps every task.
func WithMaxTerminalTasks(n int) StoreOption {
	return func(s *InMemoryStore) {
		s.maxTerminal = n
	}
}

// WithClock sets the clock used to timestamp statuses.
func WithClock(now func() time.Time) StoreOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore(opts ...StoreOption) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.maxTerminal > 0 {
		// NewLRU only fails on a non-positive size, which is guarded above.
		s.retired, _ = simplelru.NewLRU(s.maxTerminal, s.evict)
	}

	return s
}

// evict runs with s.mu held.
func (s *InMemoryStore) evict(taskID string, _ struct{}) {
	e, ok := s.entries[taskID]
	if !ok || !e.terminal.Load() {
		return
	}
	delete(s.entries, taskID)
}

var errEmptyTaskID = errors.New("task ID cannot be empty")

// UpsertTask implements [Store].
func (s *InMemoryStore) UpsertTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error) {
	if params == nil || params.ID == "" {
		return nil, &StoreError{Operation: "upsert", Err: errEmptyTaskID}
	}

	s.mu.Lock()
	e, ok := s.entries[params.ID]
	if !ok {
		e = &entry{
			task: &a2a.Task{
				ID:        params.ID,
				SessionID: params.SessionID,
				Status: a2a.TaskStatus{
					State:     a2a.TaskStateSubmitted,
					Timestamp: s.now().UTC(),
				},
				History:  []a2a.Message{params.Message.Clone()},
				Metadata: maps.Clone(params.Metadata),
			},
		}
		s.entries[params.ID] = e
		s.mu.Unlock()

		e.mu.Lock()
		defer e.mu.Unlock()
		return e.task.Clone(), nil
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.task.History = append(e.task.History, params.Message.Clone())
	if e.task.SessionID == "" {
		e.task.SessionID = params.SessionID
	}

	return e.task.Clone(), nil
}

// UpdateStatus implements [Store].
func (s *InMemoryStore) UpdateStatus(ctx context.Context, taskID string, status a2a.TaskStatus, artifacts ...a2a.Artifact) (*a2a.Task, error) {
	e := s.lookup(taskID)
	if e == nil {
		return nil, NewNotFoundError(taskID)
	}

	if status.Timestamp.IsZero() {
		status.Timestamp = s.now().UTC()
	}
	status = status.Clone()

	e.mu.Lock()
	if prev := e.task.Status.Message; prev != nil {
		e.task.History = append(e.task.History, *prev)
	}
	e.task.Status = status
	for _, a := range artifacts {
		e.task.Artifacts = append(e.task.Artifacts, a.Clone())
	}
	terminal := status.State.Terminal()
	e.terminal.Store(terminal)
	s.retire(taskID, terminal)
	out := e.task.Clone()
	e.mu.Unlock()

	return out, nil
}

// retire records the terminal state of a task for bounded retention. It runs
// with the task's mutex held so that retention follows the order of status
// writes; s.mu is always acquired after an entry's mutex.
func (s *InMemoryStore) retire(taskID string, terminal bool) {
	if s.retired == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if terminal {
		s.retired.Add(taskID, struct{}{})
		return
	}
	s.retired.Remove(taskID)
}

// GetTask implements [Store].
func (s *InMemoryStore) GetTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	e := s.lookup(taskID)
	if e == nil {
		return nil, NewNotFoundError(taskID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// SetPushConfig implements [Store].
func (s *InMemoryStore) SetPushConfig(ctx context.Context, taskID string, config a2a.PushNotificationConfig) error {
	e := s.lookup(taskID)
	if e == nil {
		return NewNotFoundError(taskID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.push = &config
	return nil
}

// GetPushConfig implements [Store].
func (s *InMemoryStore) GetPushConfig(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, bool) {
	e := s.lookup(taskID)
	if e == nil {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.push == nil {
		return nil, false
	}
	cfg := *e.push
	return &cfg, true
}

// Size returns the current number of tasks in the store.
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

func (s *InMemoryStore) lookup(taskID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entries[taskID]
}
