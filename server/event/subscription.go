// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"iter"
	"sync"
	"sync/atomic"

	a2a "github.com/go-a2a/a2a-coordinator"
)

// Subscription is one consumer's bounded queue of events for a task.
type Subscription struct {
	id     uint64
	taskID string
	events chan a2a.Event

	mu        sync.Mutex
	closed    bool
	abandoned bool // closed by the consumer; buffered events are dropped
	err       error
	done      chan struct{}

	drained atomic.Bool
}

func newSubscription(id uint64, taskID string, highWater int) *Subscription {
	return &Subscription{
		id:     id,
		taskID: taskID,
		events: make(chan a2a.Event, highWater),
		done:   make(chan struct{}),
	}
}

// TaskID returns the task the subscription is registered for.
func (s *Subscription) TaskID() string {
	return s.taskID
}

// Err returns the error that terminated the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// send enqueues ev without blocking. A full queue terminates the
// subscription with a QueueOverflowError.
func (s *Subscription) send(ev a2a.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriptionClosed
	}

	select {
	case s.events <- ev:
		return nil
	default:
		s.err = NewQueueOverflowError(s.taskID, cap(s.events))
		s.closeLocked(false)
		return s.err
	}
}

// finish ends the subscription after its buffered events are consumed.
func (s *Subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(false)
}

// abandon ends the subscription immediately.
func (s *Subscription) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(true)
}

func (s *Subscription) closeLocked(abandon bool) {
	if abandon {
		s.abandoned = true
	}
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Subscription) isAbandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

// Events returns the lazy sequence of events delivered to s. The sequence
// ends after a final event, after the subscription is closed, or after an
// overflow, which is reported as a trailing [*a2a.TaskErrorEvent].
//
// A subscription can be drained once; later calls yield nothing.
func (s *Subscription) Events() iter.Seq[a2a.Event] {
	return func(yield func(a2a.Event) bool) {
		if !s.drained.CompareAndSwap(false, true) {
			return
		}

		for {
			select {
			case ev := <-s.events:
				if s.isAbandoned() || !yield(ev) || ev.IsFinal() {
					return
				}
			case <-s.done:
				s.drainBuffered(yield)
				return
			}
		}
	}
}

func (s *Subscription) drainBuffered(yield func(a2a.Event) bool) {
	if s.isAbandoned() {
		return
	}

	for {
		select {
		case ev := <-s.events:
			if !yield(ev) || ev.IsFinal() {
				return
			}
		default:
			if err := s.Err(); err != nil {
				yield(&a2a.TaskErrorEvent{ID: s.taskID, Error: a2a.NewInternalError(err.Error())})
			}
			return
		}
	}
}
