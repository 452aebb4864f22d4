// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry holds the OpenTelemetry instruments of the coordinator
// and the Prometheus bridge that exports them.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName is the name of the meter and tracer of the coordinator.
const InstrumentationName = "github.com/go-a2a/a2a-coordinator"

// Attribute keys shared by spans and metrics.
const (
	AttrTaskID  = attribute.Key("a2a.task_id")
	AttrState   = attribute.Key("a2a.task_state")
	AttrMethod  = attribute.Key("a2a.method")
	AttrOutcome = attribute.Key("a2a.outcome")
	AttrMode    = attribute.Key("a2a.mode")
)

// Push delivery and verification outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeVerified  = "verified"
	OutcomeCached    = "cached"
)

// Metrics is the set of instruments recorded by the coordinator.
type Metrics struct {
	tasksStarted      metric.Int64Counter
	taskTransitions   metric.Int64Counter
	eventsPublished   metric.Int64Counter
	queueOverflows    metric.Int64Counter
	pushDeliveries    metric.Int64Counter
	pushVerifications metric.Int64Counter
	agentLatency      metric.Float64Histogram
}

// NewMetrics creates the instruments from m. A nil meter uses the global
// meter provider. Instruments that fail to register fall back to no-ops.
func NewMetrics(m metric.Meter) *Metrics {
	if m == nil {
		m = otel.Meter(InstrumentationName)
	}

	var err error
	ms := &Metrics{}

	ms.tasksStarted, err = m.Int64Counter("a2a.tasks.started",
		metric.WithDescription("Number of tasks submitted, by mode"),
	)
	if err != nil {
		otel.Handle(err)
		ms.tasksStarted = noop.Int64Counter{}
	}

	ms.taskTransitions, err = m.Int64Counter("a2a.tasks.transitions",
		metric.WithDescription("Number of task status transitions, by target state"),
	)
	if err != nil {
		otel.Handle(err)
		ms.taskTransitions = noop.Int64Counter{}
	}

	ms.eventsPublished, err = m.Int64Counter("a2a.events.published",
		metric.WithDescription("Number of streaming events published"),
	)
	if err != nil {
		otel.Handle(err)
		ms.eventsPublished = noop.Int64Counter{}
	}

	ms.queueOverflows, err = m.Int64Counter("a2a.events.overflows",
		metric.WithDescription("Number of subscriber queues that reached the high-water mark"),
	)
	if err != nil {
		otel.Handle(err)
		ms.queueOverflows = noop.Int64Counter{}
	}

	ms.pushDeliveries, err = m.Int64Counter("a2a.push.deliveries",
		metric.WithDescription("Number of push notification deliveries, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
		ms.pushDeliveries = noop.Int64Counter{}
	}

	ms.pushVerifications, err = m.Int64Counter("a2a.push.verifications",
		metric.WithDescription("Number of push URL verifications, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
		ms.pushVerifications = noop.Int64Counter{}
	}

	ms.agentLatency, err = m.Float64Histogram("a2a.agent.duration",
		metric.WithDescription("Agent invocation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
		ms.agentLatency = noop.Float64Histogram{}
	}

	return ms
}

// TaskStarted records a task submitted through mode ("send" or "stream").
func (m *Metrics) TaskStarted(ctx context.Context, mode string) {
	m.tasksStarted.Add(ctx, 1, metric.WithAttributes(AttrMode.String(mode)))
}

// TaskTransition records a status transition to state.
func (m *Metrics) TaskTransition(ctx context.Context, state string) {
	m.taskTransitions.Add(ctx, 1, metric.WithAttributes(AttrState.String(state)))
}

// EventPublished records one streaming event.
func (m *Metrics) EventPublished(ctx context.Context) {
	m.eventsPublished.Add(ctx, 1)
}

// QueueOverflow records a subscriber queue overflow.
func (m *Metrics) QueueOverflow(ctx context.Context) {
	m.queueOverflows.Add(ctx, 1)
}

// PushDelivery records a push notification attempt with its outcome.
func (m *Metrics) PushDelivery(ctx context.Context, outcome string) {
	m.pushDeliveries.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// PushVerification records a push URL verification with its outcome.
func (m *Metrics) PushVerification(ctx context.Context, outcome string) {
	m.pushVerifications.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// AgentLatency records how long one agent call took.
func (m *Metrics) AgentLatency(ctx context.Context, mode string, d time.Duration) {
	m.agentLatency.Record(ctx, d.Seconds(), metric.WithAttributes(AttrMode.String(mode)))
}
