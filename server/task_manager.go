// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/agent"
	"github.com/go-a2a/a2a-coordinator/internal/telemetry"
	"github.com/go-a2a/a2a-coordinator/server/event"
	"github.com/go-a2a/a2a-coordinator/server/task"
)

// Submission modes recorded by metrics.
const (
	modeSend   = "send"
	modeStream = "stream"
)

// TaskManager is the interface the JSON-RPC server dispatches to.
type TaskManager interface {
	// OnSendTask runs a task to the end of its turn and returns it.
	OnSendTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error)

	// OnSendTaskSubscribe starts a task and returns its event stream.
	OnSendTaskSubscribe(ctx context.Context, params *a2a.TaskSendParams) (iter.Seq[a2a.Event], error)

	// OnResubscribeToTask returns the event stream of an existing task.
	OnResubscribeToTask(ctx context.Context, params a2a.TaskQueryParams) (iter.Seq[a2a.Event], error)

	// OnGetTask retrieves a task.
	OnGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error)

	// OnCancelTask cancels a task.
	OnCancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error)

	// OnSetTaskPushNotification configures push notification for a task.
	OnSetTaskPushNotification(ctx context.Context, config a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error)

	// OnGetTaskPushNotification retrieves push notification configuration for a task.
	OnGetTaskPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error)
}

// Notifier verifies push notification URLs and delivers task snapshots to them.
// [*push.Dispatcher] implements it.
type Notifier interface {
	VerifyURL(ctx context.Context, rawURL string) bool
	Notify(ctx context.Context, task *a2a.Task, cfg *a2a.PushNotificationConfig)
}

// AgentTaskManager drives an [agent.Agent] through the A2A task lifecycle.
//
// Non-streaming sends are run synchronously. Streaming sends are run by a
// driver goroutine, at most one per task, which publishes every status and
// artifact change to the event registry and always ends the stream with a
// final event.
type AgentTaskManager struct {
	store  task.Store
	queues *event.Registry
	agent  agent.Agent
	push   Notifier

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics

	// mu orders publishing the final event of a driver against attaching
	// new subscribers to it. A task id is in at most one of active and
	// sending.
	mu      sync.Mutex
	active  map[string]struct{}
	sending map[string]struct{}
	drivers sync.WaitGroup
}

var _ TaskManager = (*AgentTaskManager)(nil)

// NewAgentTaskManager creates a new AgentTaskManager. Push notifications are
// unsupported until a Notifier is set with [AgentTaskManager.WithNotifier].
func NewAgentTaskManager(store task.Store, queues *event.Registry, a agent.Agent) (*AgentTaskManager, error) {
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if queues == nil {
		return nil, errors.New("event registry is required")
	}
	if a == nil {
		return nil, errors.New("agent is required")
	}

	return &AgentTaskManager{
		store:   store,
		queues:  queues,
		agent:   a,
		logger:  slog.Default(),
		tracer:  otel.Tracer(telemetry.InstrumentationName),
		metrics: telemetry.NewMetrics(nil),
		active:  make(map[string]struct{}),
		sending: make(map[string]struct{}),
	}, nil
}

// WithLogger sets the logger for the task manager.
func (m *AgentTaskManager) WithLogger(logger *slog.Logger) *AgentTaskManager {
	m.logger = logger
	return m
}

// WithTracer sets the tracer for the task manager.
func (m *AgentTaskManager) WithTracer(tracer trace.Tracer) *AgentTaskManager {
	m.tracer = tracer
	return m
}

// WithMetrics sets the instruments recorded by the task manager.
func (m *AgentTaskManager) WithMetrics(metrics *telemetry.Metrics) *AgentTaskManager {
	m.metrics = metrics
	return m
}

// WithNotifier enables push notifications through n.
func (m *AgentTaskManager) WithNotifier(n Notifier) *AgentTaskManager {
	m.push = n
	return m
}

// OnSendTask implements [TaskManager]. A send for a task that another
// send or a streaming driver is producing is rejected.
func (m *AgentTaskManager) OnSendTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error) {
	ctx, span := m.startSpan(ctx, "a2a.task_manager.OnSendTask", params)
	defer span.End()

	query, err := m.validate(ctx, params)
	if err != nil {
		return nil, spanError(span, err)
	}
	if !m.claim(params.ID) {
		m.logger.WarnContext(ctx, "task is already running", "task_id", params.ID)
		return nil, spanError(span, a2a.NewInvalidParamsError(msgTaskRunning))
	}
	defer m.unclaim(params.ID)

	if err := m.prepare(ctx, params); err != nil {
		return nil, spanError(span, err)
	}
	m.metrics.TaskStarted(ctx, modeSend)

	t, err := m.updateStatus(ctx, params.ID, a2a.TaskStatus{State: a2a.TaskStateWorking})
	if err != nil {
		return nil, spanError(span, err)
	}
	m.notify(ctx, t)

	start := time.Now()
	resp, err := m.agent.Invoke(ctx, query, params.SessionID)
	m.metrics.AgentLatency(ctx, modeSend, time.Since(start))
	if err != nil {
		m.logger.ErrorContext(ctx, "error invoking agent", "task_id", params.ID, "error", err)
		return nil, spanError(span, a2a.NewInternalError(fmt.Sprintf("Error invoking agent: %v", err)))
	}
	resp = resp.Normalize()

	parts := []a2a.Part{a2a.NewTextPart(resp.Content)}
	status := a2a.TaskStatus{State: a2a.TaskStateCompleted}
	var artifacts []a2a.Artifact
	if resp.RequireUserInput {
		status = a2a.TaskStatus{
			State:   a2a.TaskStateInputRequired,
			Message: &a2a.Message{Role: a2a.RoleAgent, Parts: parts},
		}
	} else {
		artifacts = append(artifacts, a2a.Artifact{Parts: parts})
	}

	t, err = m.updateStatus(ctx, params.ID, status, artifacts...)
	if err != nil {
		return nil, spanError(span, err)
	}
	m.notify(ctx, t)

	m.logger.InfoContext(ctx, "task processed", "task_id", t.ID, "state", t.Status.State)
	return task.AppendHistory(t, params.HistoryLength), nil
}

// OnSendTaskSubscribe implements [TaskManager].
//
// If a driver is already running for the task the caller is attached to it
// as one more subscriber, and neither the task nor its push config is
// touched.
func (m *AgentTaskManager) OnSendTaskSubscribe(ctx context.Context, params *a2a.TaskSendParams) (iter.Seq[a2a.Event], error) {
	ctx, span := m.startSpan(ctx, "a2a.task_manager.OnSendTaskSubscribe", params)
	defer span.End()

	query, err := m.validate(ctx, params)
	if err != nil {
		return nil, spanError(span, err)
	}

	m.mu.Lock()
	if _, ok := m.active[params.ID]; ok {
		sub := m.queues.Subscribe(params.ID)
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "attached to running task", "task_id", params.ID)
		return m.events(ctx, sub), nil
	}
	if _, ok := m.sending[params.ID]; ok {
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "task is already running", "task_id", params.ID)
		return nil, spanError(span, a2a.NewInvalidParamsError(msgTaskRunning))
	}
	m.active[params.ID] = struct{}{}
	sub := m.queues.Subscribe(params.ID)
	m.mu.Unlock()

	if err := m.prepare(ctx, params); err != nil {
		m.release(params.ID)
		return nil, spanError(span, err)
	}
	m.metrics.TaskStarted(ctx, modeStream)

	m.drivers.Add(1)
	go m.drive(context.WithoutCancel(ctx), params.ID, params.SessionID, query)

	return m.events(ctx, sub), nil
}

// OnResubscribeToTask implements [TaskManager]. Without a running driver the
// stream holds a single final event carrying the current status.
func (m *AgentTaskManager) OnResubscribeToTask(ctx context.Context, params a2a.TaskQueryParams) (iter.Seq[a2a.Event], error) {
	ctx, span := m.tracer.Start(ctx, "a2a.task_manager.OnResubscribeToTask",
		trace.WithAttributes(telemetry.AttrTaskID.String(params.ID)))
	defer span.End()

	m.mu.Lock()
	if _, ok := m.active[params.ID]; ok {
		sub := m.queues.Subscribe(params.ID)
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "resubscribed to running task", "task_id", params.ID)
		return m.events(ctx, sub), nil
	}
	m.mu.Unlock()

	t, err := m.getTask(ctx, params.ID)
	if err != nil {
		return nil, spanError(span, err)
	}
	ev := &a2a.TaskStatusUpdateEvent{ID: t.ID, Status: t.Status, Final: true}
	return func(yield func(a2a.Event) bool) {
		yield(ev)
	}, nil
}

// OnGetTask implements [TaskManager].
func (m *AgentTaskManager) OnGetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	ctx, span := m.tracer.Start(ctx, "a2a.task_manager.OnGetTask",
		trace.WithAttributes(telemetry.AttrTaskID.String(params.ID)))
	defer span.End()

	t, err := m.getTask(ctx, params.ID)
	if err != nil {
		return nil, spanError(span, err)
	}

	m.logger.DebugContext(ctx, "task retrieved", "task_id", params.ID)
	return task.AppendHistory(t, params.HistoryLength), nil
}

// OnCancelTask implements [TaskManager]. Tasks of this agent cannot be
// canceled.
func (m *AgentTaskManager) OnCancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	ctx, span := m.tracer.Start(ctx, "a2a.task_manager.OnCancelTask",
		trace.WithAttributes(telemetry.AttrTaskID.String(params.ID)))
	defer span.End()

	if _, err := m.getTask(ctx, params.ID); err != nil {
		return nil, spanError(span, err)
	}
	return nil, spanError(span, a2a.NewTaskNotCancelableError(params.ID))
}

// OnSetTaskPushNotification implements [TaskManager]. The URL is verified
// before the config is stored; a URL failing verification is not stored.
func (m *AgentTaskManager) OnSetTaskPushNotification(ctx context.Context, config a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	ctx, span := m.tracer.Start(ctx, "a2a.task_manager.OnSetTaskPushNotification",
		trace.WithAttributes(telemetry.AttrTaskID.String(config.ID)))
	defer span.End()

	if m.push == nil {
		return nil, spanError(span, a2a.NewPushNotificationNotSupportedError())
	}
	if config.PushNotificationConfig.URL == "" {
		return nil, spanError(span, a2a.NewInvalidParamsError("Push notification URL is missing"))
	}
	if _, err := m.getTask(ctx, config.ID); err != nil {
		return nil, spanError(span, err)
	}
	if err := m.verifyPush(ctx, &config.PushNotificationConfig); err != nil {
		return nil, spanError(span, err)
	}
	if err := m.store.SetPushConfig(ctx, config.ID, config.PushNotificationConfig); err != nil {
		return nil, spanError(span, storeError(config.ID, err))
	}

	m.logger.InfoContext(ctx, "push notification configured", "task_id", config.ID)
	return &config, nil
}

// OnGetTaskPushNotification implements [TaskManager].
func (m *AgentTaskManager) OnGetTaskPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	ctx, span := m.tracer.Start(ctx, "a2a.task_manager.OnGetTaskPushNotification",
		trace.WithAttributes(telemetry.AttrTaskID.String(params.ID)))
	defer span.End()

	if m.push == nil {
		return nil, spanError(span, a2a.NewPushNotificationNotSupportedError())
	}
	if _, err := m.getTask(ctx, params.ID); err != nil {
		return nil, spanError(span, err)
	}
	cfg, ok := m.store.GetPushConfig(ctx, params.ID)
	if !ok {
		return nil, spanError(span, a2a.NewInternalError("An error occurred while getting push notification info"))
	}
	return &a2a.TaskPushNotificationConfig{ID: params.ID, PushNotificationConfig: *cfg}, nil
}

// Running reports whether a driver is running for taskID.
func (m *AgentTaskManager) Running(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[taskID]
	return ok
}

// Wait blocks until every driver has finished or ctx is done.
func (m *AgentTaskManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.drivers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *AgentTaskManager) startSpan(ctx context.Context, name string, params *a2a.TaskSendParams) (context.Context, trace.Span) {
	var id string
	if params != nil {
		id = params.ID
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(telemetry.AttrTaskID.String(id)))
}

// validate checks params without mutating anything and returns the user query.
func (m *AgentTaskManager) validate(ctx context.Context, params *a2a.TaskSendParams) (string, error) {
	if params == nil || params.ID == "" {
		return "", a2a.NewInvalidParamsError("Task id is required")
	}

	if !outputModesCompatible(params.AcceptedOutputModes, m.agent.SupportedContentTypes()) {
		m.logger.WarnContext(ctx, "unsupported output mode", "task_id", params.ID, "accepted_output_modes", params.AcceptedOutputModes)
		return "", a2a.NewInvalidParamsError("Incompatible output modes")
	}

	if params.PushNotification != nil && params.PushNotification.URL == "" {
		m.logger.WarnContext(ctx, "push notification url is missing", "task_id", params.ID)
		return "", a2a.NewInvalidParamsError("Push notification URL is missing")
	}

	return userQuery(params.Message)
}

// prepare verifies the requested push URL, then creates or appends to the
// task and stores its push config.
func (m *AgentTaskManager) prepare(ctx context.Context, params *a2a.TaskSendParams) error {
	if err := m.verifyPush(ctx, params.PushNotification); err != nil {
		return err
	}

	if _, err := m.store.UpsertTask(ctx, params); err != nil {
		return storeError(params.ID, err)
	}

	if params.PushNotification != nil {
		if err := m.store.SetPushConfig(ctx, params.ID, *params.PushNotification); err != nil {
			return storeError(params.ID, err)
		}
	}
	return nil
}

func (m *AgentTaskManager) verifyPush(ctx context.Context, cfg *a2a.PushNotificationConfig) error {
	if cfg == nil {
		return nil
	}
	if m.push == nil {
		return a2a.NewPushNotificationNotSupportedError()
	}
	if !m.push.VerifyURL(ctx, cfg.URL) {
		m.logger.WarnContext(ctx, "push notification url failed verification", "url", cfg.URL)
		return a2a.NewInvalidParamsError("Push notification URL is invalid")
	}
	return nil
}

func (m *AgentTaskManager) getTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		if task.IsNotFound(err) {
			m.logger.DebugContext(ctx, "task not found", "task_id", taskID)
		}
		return nil, storeError(taskID, err)
	}
	return t, nil
}

func (m *AgentTaskManager) updateStatus(ctx context.Context, taskID string, status a2a.TaskStatus, artifacts ...a2a.Artifact) (*a2a.Task, error) {
	t, err := m.store.UpdateStatus(ctx, taskID, status, artifacts...)
	if err != nil {
		return nil, storeError(taskID, err)
	}
	m.metrics.TaskTransition(ctx, string(t.Status.State))
	return t, nil
}

// notify sends a snapshot of t to its push URL, if one is configured.
func (m *AgentTaskManager) notify(ctx context.Context, t *a2a.Task) {
	if m.push == nil {
		return
	}
	cfg, ok := m.store.GetPushConfig(ctx, t.ID)
	if !ok {
		m.logger.DebugContext(ctx, "no push notification info", "task_id", t.ID)
		return
	}

	m.logger.InfoContext(ctx, "notifying task", "task_id", t.ID, "state", t.Status.State)
	m.push.Notify(ctx, t, cfg)
}

// events returns the stream of sub. The subscription is closed when the
// consumer stops iterating or ctx is done; the driver keeps running.
func (m *AgentTaskManager) events(ctx context.Context, sub *event.Subscription) iter.Seq[a2a.Event] {
	return func(yield func(a2a.Event) bool) {
		defer m.queues.Close(sub)
		stop := context.AfterFunc(ctx, func() { m.queues.Close(sub) })
		defer stop()

		for ev := range m.queues.Drain(sub) {
			if !yield(ev) {
				return
			}
		}
	}
}

var errStreamEnded = errors.New("agent stream ended before the task completed")

// drive consumes the agent stream of a task and publishes its events until
// the turn ends. Every exit path publishes exactly one final event.
func (m *AgentTaskManager) drive(ctx context.Context, taskID, sessionID, query string) {
	defer m.drivers.Done()

	ctx, span := m.tracer.Start(ctx, "a2a.task_manager.drive",
		trace.WithAttributes(telemetry.AttrTaskID.String(taskID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			m.fail(ctx, span, taskID, fmt.Errorf("agent panicked: %v", r))
		}
	}()

	start := time.Now()
	for resp, err := range m.agent.Stream(ctx, query, sessionID) {
		if err != nil {
			m.fail(ctx, span, taskID, err)
			return
		}

		done, err := m.step(ctx, taskID, resp)
		if err != nil {
			m.fail(ctx, span, taskID, err)
			return
		}
		if done {
			m.metrics.AgentLatency(ctx, modeStream, time.Since(start))
			return
		}
	}

	m.fail(ctx, span, taskID, errStreamEnded)
}

// step applies one stream item and reports whether it ended the turn.
func (m *AgentTaskManager) step(ctx context.Context, taskID string, resp agent.Response) (bool, error) {
	resp = resp.Normalize()
	parts := []a2a.Part{a2a.NewTextPart(resp.Content)}

	var (
		status   a2a.TaskStatus
		artifact *a2a.Artifact
		final    bool
	)
	switch {
	case !resp.IsTaskComplete && !resp.RequireUserInput:
		status = a2a.TaskStatus{State: a2a.TaskStateWorking, Message: &a2a.Message{Role: a2a.RoleAgent, Parts: parts}}
	case resp.RequireUserInput:
		status = a2a.TaskStatus{State: a2a.TaskStateInputRequired, Message: &a2a.Message{Role: a2a.RoleAgent, Parts: parts}}
		final = true
	default:
		status = a2a.TaskStatus{State: a2a.TaskStateCompleted}
		artifact = &a2a.Artifact{Parts: parts, Index: 0, Append: false}
		final = true
	}

	var artifacts []a2a.Artifact
	if artifact != nil {
		artifacts = append(artifacts, *artifact)
	}
	t, err := m.updateStatus(ctx, taskID, status, artifacts...)
	if err != nil {
		return false, err
	}
	m.notify(ctx, t)

	if artifact != nil {
		if err := m.publish(ctx, taskID, &a2a.TaskArtifactUpdateEvent{ID: taskID, Artifact: *artifact}); err != nil {
			return false, err
		}
	}

	ev := &a2a.TaskStatusUpdateEvent{ID: taskID, Status: t.Status, Final: final}
	if final {
		m.finish(ctx, taskID, ev)
		return true, nil
	}
	return false, m.publish(ctx, taskID, ev)
}

// fail moves the task to failed and ends its stream with an error event.
func (m *AgentTaskManager) fail(ctx context.Context, span trace.Span, taskID string, cause error) {
	msg := "An error occurred while streaming the response: " + cause.Error()
	m.logger.ErrorContext(ctx, "error occurred during streaming", "task_id", taskID, "error", cause)
	spanError(span, cause)

	t, err := m.updateStatus(ctx, taskID, a2a.TaskStatus{
		State:   a2a.TaskStateFailed,
		Message: a2a.NewAgentTextMessage(msg),
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record task failure", "task_id", taskID, "error", err)
	} else {
		m.notify(ctx, t)
	}

	m.finish(ctx, taskID, &a2a.TaskErrorEvent{ID: taskID, Error: a2a.NewInternalError(msg)})
}

func (m *AgentTaskManager) publish(ctx context.Context, taskID string, ev a2a.Event) error {
	err := m.queues.Publish(ctx, taskID, ev)
	switch {
	case err == nil:
		m.metrics.EventPublished(ctx)
	case event.IsQueueOverflowError(err):
		m.metrics.QueueOverflow(ctx)
	}
	return err
}

// finish publishes the final event of the running driver, ends every
// subscription of the task and marks the driver as gone. Later calls for the
// same driver are no-ops.
func (m *AgentTaskManager) finish(ctx context.Context, taskID string, final a2a.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[taskID]; !ok {
		return
	}
	if err := m.publish(ctx, taskID, final); err != nil {
		m.logger.WarnContext(ctx, "final event not delivered to every subscriber", "task_id", taskID, "error", err)
	}
	m.queues.CloseTask(taskID)
	delete(m.active, taskID)
}

// msgTaskRunning rejects a send for a task another request is producing.
const msgTaskRunning = "Task is already running"

// claim marks taskID as run by a synchronous send. It fails while any
// producer, synchronous or streaming, runs for the task.
func (m *AgentTaskManager) claim(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[taskID]; ok {
		return false
	}
	if _, ok := m.sending[taskID]; ok {
		return false
	}
	m.sending[taskID] = struct{}{}
	return true
}

func (m *AgentTaskManager) unclaim(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sending, taskID)
}

// release forgets a driver that never started.
func (m *AgentTaskManager) release(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues.CloseTask(taskID)
	delete(m.active, taskID)
}

// userQuery returns the text of the first part of msg.
func userQuery(msg a2a.Message) (string, error) {
	if len(msg.Parts) == 0 || msg.Parts[0].Type != a2a.PartTypeText {
		return "", a2a.NewInvalidParamsError("Only text parts are supported")
	}
	return msg.Parts[0].Text, nil
}

// outputModesCompatible reports whether the client accepts at least one of
// the agent's output modes. An empty accepted list accepts everything.
func outputModesCompatible(accepted, supported []string) bool {
	if len(accepted) == 0 {
		return true
	}
	return slices.ContainsFunc(accepted, func(mode string) bool {
		return slices.Contains(supported, mode)
	})
}

// storeError maps a store failure onto a protocol error.
func storeError(taskID string, err error) error {
	if task.IsNotFound(err) {
		return a2a.NewTaskNotFoundError(taskID)
	}
	return a2a.NewInternalError(err.Error())
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
