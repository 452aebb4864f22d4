// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package event fans out streaming task events to per-subscriber queues.
package event

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	a2a "github.com/go-a2a/a2a-coordinator"
)

// DefaultHighWaterMark is the default number of events a subscription may
// buffer before it overflows.
const DefaultHighWaterMark = 1024

// topic is the ordered list of subscriptions of one task.
type topic struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Registry routes events published for a task to every subscription
// registered for that task, preserving publication order.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*topic

	highWater int
	logger    *slog.Logger
	nextID    atomic.Uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithHighWaterMark sets the capacity of each subscription's queue.
// Values of zero or less select DefaultHighWaterMark.
func WithHighWaterMark(n int) Option {
	return func(r *Registry) {
		r.highWater = n
	}
}

// WithLogger sets the [*slog.Logger] for the Registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a new Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		topics: make(map[string]*topic),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.highWater <= 0 {
		r.highWater = DefaultHighWaterMark
	}
	return r
}

// HighWaterMark returns the capacity of each subscription's queue.
func (r *Registry) HighWaterMark() int {
	return r.highWater
}

// Subscribe registers a new subscription for taskID. Several subscriptions
// may exist for the same task.
func (r *Registry) Subscribe(taskID string) *Subscription {
	sub := newSubscription(r.nextID.Add(1), taskID, r.highWater)

	r.mu.Lock()
	t, ok := r.topics[taskID]
	if !ok {
		t = &topic{}
		r.topics[taskID] = t
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	r.mu.Unlock()

	r.logger.Debug("event subscription added", "task_id", taskID, "subscription", sub.id)
	return sub
}

// Publish appends ev to every live subscription of taskID in call order.
//
// Publishing without subscribers is not an error. If a subscription
// overflows it is terminated and removed, the remaining subscriptions still
// receive ev, and a *QueueOverflowError is returned.
func (r *Registry) Publish(ctx context.Context, taskID string, ev a2a.Event) error {
	r.mu.RLock()
	t := r.topics[taskID]
	r.mu.RUnlock()

	if t == nil {
		r.logger.DebugContext(ctx, "no subscribers for event", "task_id", taskID)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.subs) == 0 {
		r.logger.DebugContext(ctx, "no subscribers for event", "task_id", taskID)
		return nil
	}

	var overflow error
	t.subs = slices.DeleteFunc(t.subs, func(sub *Subscription) bool {
		err := sub.send(ev)
		switch {
		case err == nil:
			return false
		case IsQueueOverflowError(err):
			r.logger.WarnContext(ctx, "event queue overflow", "task_id", taskID, "subscription", sub.id, "high_water", r.highWater)
			if overflow == nil {
				overflow = err
			}
			return true
		default:
			// Closed concurrently with this publish.
			return true
		}
	})

	return overflow
}

// Drain returns the lazy event sequence of sub. See [Subscription.Events].
func (r *Registry) Drain(sub *Subscription) iter.Seq[a2a.Event] {
	return sub.Events()
}

// Close deregisters sub and stops delivery to it. Closing an already
// closed subscription is a no-op.
func (r *Registry) Close(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.abandon()

	r.mu.RLock()
	t := r.topics[sub.taskID]
	r.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	t.subs = slices.DeleteFunc(t.subs, func(s *Subscription) bool { return s == sub })
	t.mu.Unlock()
}

// CloseTask ends every subscription of taskID once its buffered events are
// consumed, and forgets the task.
func (r *Registry) CloseTask(taskID string) {
	r.mu.Lock()
	t := r.topics[taskID]
	delete(r.topics, taskID)
	r.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		sub.finish()
	}
	t.subs = nil
}

// Subscribers returns the number of live subscriptions of taskID.
func (r *Registry) Subscribers(taskID string) int {
	r.mu.RLock()
	t := r.topics[taskID]
	r.mu.RUnlock()
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
