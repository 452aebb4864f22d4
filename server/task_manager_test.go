// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/agent"
	"github.com/go-a2a/a2a-coordinator/server/event"
	"github.com/go-a2a/a2a-coordinator/server/task"
)

var ignoreTimestamp = cmpopts.IgnoreFields(a2a.TaskStatus{}, "Timestamp")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamAgent answers Invoke through the embedded Func and Stream through
// stream.
type streamAgent struct {
	agent.Func
	stream func(ctx context.Context, yield func(agent.Response, error) bool)
}

func (a *streamAgent) Stream(ctx context.Context, _, _ string) iter.Seq2[agent.Response, error] {
	return func(yield func(agent.Response, error) bool) {
		a.stream(ctx, yield)
	}
}

// scripted returns a stream yielding resps in order.
func scripted(resps ...agent.Response) func(context.Context, func(agent.Response, error) bool) {
	return func(_ context.Context, yield func(agent.Response, error) bool) {
		for _, r := range resps {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// gated returns a stream that waits for gate before yielding resps.
func gated(gate <-chan struct{}, resps ...agent.Response) func(context.Context, func(agent.Response, error) bool) {
	return func(ctx context.Context, yield func(agent.Response, error) bool) {
		select {
		case <-gate:
		case <-ctx.Done():
			return
		}
		scripted(resps...)(ctx, yield)
	}
}

// sequenceAgent answers successive Invoke calls with resps in order,
// repeating the last one, and passes them through unnormalized.
type sequenceAgent struct {
	mu    sync.Mutex
	resps []agent.Response
}

func (a *sequenceAgent) Invoke(context.Context, string, string) (agent.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp := a.resps[0]
	if len(a.resps) > 1 {
		a.resps = a.resps[1:]
	}
	return resp, nil
}

func (a *sequenceAgent) Stream(ctx context.Context, query, sessionID string) iter.Seq2[agent.Response, error] {
	return func(yield func(agent.Response, error) bool) {
		yield(a.Invoke(ctx, query, sessionID))
	}
}

func (a *sequenceAgent) SupportedContentTypes() []string {
	return agent.DefaultContentTypes
}

type fakeNotifier struct {
	mu       sync.Mutex
	reject   bool
	verified []string
	notified []a2a.TaskState
}

func (n *fakeNotifier) VerifyURL(_ context.Context, rawURL string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verified = append(n.verified, rawURL)
	return !n.reject
}

func (n *fakeNotifier) Notify(_ context.Context, t *a2a.Task, cfg *a2a.PushNotificationConfig) {
	if cfg == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, t.Status.State)
}

func (n *fakeNotifier) states() []a2a.TaskState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]a2a.TaskState(nil), n.notified...)
}

type fixture struct {
	m     *AgentTaskManager
	store *task.InMemoryStore
}

func newFixture(t *testing.T, a agent.Agent, opts ...event.Option) *fixture {
	t.Helper()

	store := task.NewInMemoryStore()
	queues := event.NewRegistry(append([]event.Option{event.WithLogger(quietLogger())}, opts...)...)
	m, err := NewAgentTaskManager(store, queues, a)
	if err != nil {
		t.Fatalf("NewAgentTaskManager failed: %v", err)
	}
	m.WithLogger(quietLogger())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Wait(ctx); err != nil {
			t.Errorf("drivers did not finish: %v", err)
		}
	})

	return &fixture{m: m, store: store}
}

func sendParams(id, text string) *a2a.TaskSendParams {
	return &a2a.TaskSendParams{
		ID:        id,
		SessionID: "session-1",
		Message:   *a2a.NewUserTextMessage(text),
	}
}

func drain(seq iter.Seq[a2a.Event]) []a2a.Event {
	var got []a2a.Event
	for ev := range seq {
		got = append(got, ev)
	}
	return got
}

func collectEvents(t *testing.T, seq iter.Seq[a2a.Event]) []a2a.Event {
	t.Helper()

	done := make(chan []a2a.Event, 1)
	go func() { done <- drain(seq) }()
	return receive(t, done)
}

func receive(t *testing.T, ch <-chan []a2a.Event) []a2a.Event {
	t.Helper()

	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("timed out collecting events")
		return nil
	}
}

func agentStatus(state a2a.TaskState, text string) a2a.TaskStatus {
	return a2a.TaskStatus{State: state, Message: a2a.NewAgentTextMessage(text)}
}

func assertRPCError(t *testing.T, err error, code int, message string) {
	t.Helper()

	var rpcErr *a2a.JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Expected *a2a.JSONRPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != code {
		t.Errorf("Expected error code %d, got %d", code, rpcErr.Code)
	}
	if message != "" && rpcErr.Message != message {
		t.Errorf("Expected error message %q, got %q", message, rpcErr.Message)
	}
}

func TestNewAgentTaskManager(t *testing.T) {
	store := task.NewInMemoryStore()
	queues := event.NewRegistry()

	tests := map[string]struct {
		store  task.Store
		queues *event.Registry
		agent  agent.Agent
	}{
		"missing store":  {queues: queues, agent: agent.Echo()},
		"missing queues": {store: store, agent: agent.Echo()},
		"missing agent":  {store: store, queues: queues},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewAgentTaskManager(tt.store, tt.queues, tt.agent); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestOnSendTask(t *testing.T) {
	tests := map[string]struct {
		agent         agent.Func
		historyLength int
		wantStatus    a2a.TaskStatus
		wantArtifacts []a2a.Artifact
		wantHistory   []a2a.Message
	}{
		"completed": {
			agent:         agent.Echo(),
			historyLength: 1,
			wantStatus:    a2a.TaskStatus{State: a2a.TaskStateCompleted},
			wantArtifacts: []a2a.Artifact{{Parts: []a2a.Part{a2a.NewTextPart("hello")}}},
			wantHistory:   []a2a.Message{*a2a.NewUserTextMessage("hello")},
		},
		"input required": {
			agent: func(context.Context, string, string) (agent.Response, error) {
				return agent.Response{Content: "which table?", RequireUserInput: true}, nil
			},
			wantStatus: agentStatus(a2a.TaskStateInputRequired, "which table?"),
		},
		"agent reported error": {
			agent: func(context.Context, string, string) (agent.Response, error) {
				return agent.Response{Error: "no such table"}, nil
			},
			wantStatus: agentStatus(a2a.TaskStateInputRequired, "Error: no such table"),
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, tt.agent)

			params := sendParams("task-1", "hello")
			params.HistoryLength = tt.historyLength
			got, err := f.m.OnSendTask(t.Context(), params)
			if err != nil {
				t.Fatalf("OnSendTask failed: %v", err)
			}

			want := &a2a.Task{
				ID:        "task-1",
				SessionID: "session-1",
				Status:    tt.wantStatus,
				Artifacts: tt.wantArtifacts,
				History:   tt.wantHistory,
			}
			if diff := cmp.Diff(want, got, ignoreTimestamp); diff != "" {
				t.Errorf("OnSendTask mismatch (-want +got):\n%s", diff)
			}
			if got.Status.Timestamp.IsZero() {
				t.Error("Expected status timestamp to be set")
			}
		})
	}
}

func TestOnSendTaskValidation(t *testing.T) {
	tests := map[string]struct {
		params  *a2a.TaskSendParams
		message string
	}{
		"missing id": {
			params:  sendParams("", "hi"),
			message: "Task id is required",
		},
		"incompatible output modes": {
			params: func() *a2a.TaskSendParams {
				p := sendParams("task-1", "hi")
				p.AcceptedOutputModes = []string{"image/png"}
				return p
			}(),
			message: "Incompatible output modes",
		},
		"missing push url": {
			params: func() *a2a.TaskSendParams {
				p := sendParams("task-1", "hi")
				p.PushNotification = &a2a.PushNotificationConfig{}
				return p
			}(),
			message: "Push notification URL is missing",
		},
		"non-text part": {
			params: &a2a.TaskSendParams{
				ID:      "task-1",
				Message: a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{{Type: "file"}}},
			},
			message: "Only text parts are supported",
		},
		"no parts": {
			params: &a2a.TaskSendParams{
				ID:      "task-1",
				Message: a2a.Message{Role: a2a.RoleUser},
			},
			message: "Only text parts are supported",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, agent.Echo())

			_, err := f.m.OnSendTask(t.Context(), tt.params)
			assertRPCError(t, err, a2a.CodeInvalidParams, tt.message)

			_, err = f.m.OnSendTaskSubscribe(t.Context(), tt.params)
			assertRPCError(t, err, a2a.CodeInvalidParams, tt.message)

			if n := f.store.Size(); n != 0 {
				t.Errorf("Expected no task to be stored, got %d", n)
			}
		})
	}
}

func TestOnSendTaskAcceptsCompatibleModes(t *testing.T) {
	f := newFixture(t, agent.Echo())

	params := sendParams("task-1", "hi")
	params.AcceptedOutputModes = []string{"application/json", "text/plain"}
	if _, err := f.m.OnSendTask(t.Context(), params); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
}

func TestOnSendTaskAgentFailure(t *testing.T) {
	f := newFixture(t, agent.Func(func(context.Context, string, string) (agent.Response, error) {
		return agent.Response{}, errors.New("model unavailable")
	}))

	_, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "hi"))
	assertRPCError(t, err, a2a.CodeInternalError, "Error invoking agent: model unavailable")

	got, err := f.store.GetTask(t.Context(), "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status.State != a2a.TaskStateWorking {
		t.Errorf("Expected task to stay %q, got %q", a2a.TaskStateWorking, got.Status.State)
	}
}

func TestOnSendTaskContinuesTask(t *testing.T) {
	f := newFixture(t, agent.Echo())

	for _, text := range []string{"first", "second"} {
		if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", text)); err != nil {
			t.Fatalf("OnSendTask(%q) failed: %v", text, err)
		}
	}

	got, err := f.m.OnGetTask(t.Context(), a2a.TaskQueryParams{ID: "task-1", HistoryLength: 10})
	if err != nil {
		t.Fatalf("OnGetTask failed: %v", err)
	}
	wantHistory := []a2a.Message{*a2a.NewUserTextMessage("first"), *a2a.NewUserTextMessage("second")}
	if diff := cmp.Diff(wantHistory, got.History); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
	if len(got.Artifacts) != 2 {
		t.Errorf("Expected 2 artifacts, got %d", len(got.Artifacts))
	}
}

func TestOnSendTaskAgentReportsError(t *testing.T) {
	f := newFixture(t, &sequenceAgent{resps: []agent.Response{{Error: "boom"}}})

	got, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "hi"))
	if err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	if diff := cmp.Diff(agentStatus(a2a.TaskStateInputRequired, "Error: boom"), got.Status, ignoreTimestamp); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}
	if len(got.Artifacts) != 0 {
		t.Errorf("Expected no artifacts, got %d", len(got.Artifacts))
	}
}

func TestOnSendTaskResumesInputRequired(t *testing.T) {
	n := &fakeNotifier{}
	f := newFixture(t, &sequenceAgent{resps: []agent.Response{
		{Content: "which year?", RequireUserInput: true},
		{Content: "Heat", IsTaskComplete: true},
	}})
	f.m.WithNotifier(n)

	params := sendParams("task-1", "best heist movie")
	params.PushNotification = &a2a.PushNotificationConfig{URL: "http://client.example/notify"}
	first, err := f.m.OnSendTask(t.Context(), params)
	if err != nil {
		t.Fatalf("first OnSendTask failed: %v", err)
	}
	if first.Status.State != a2a.TaskStateInputRequired {
		t.Fatalf("Expected state %q, got %q", a2a.TaskStateInputRequired, first.Status.State)
	}

	second, err := f.m.OnSendTask(t.Context(), &a2a.TaskSendParams{
		ID:            "task-1",
		SessionID:     "session-1",
		Message:       *a2a.NewUserTextMessage("1995"),
		HistoryLength: 10,
	})
	if err != nil {
		t.Fatalf("second OnSendTask failed: %v", err)
	}

	wantStates := []a2a.TaskState{
		a2a.TaskStateWorking, a2a.TaskStateInputRequired,
		a2a.TaskStateWorking, a2a.TaskStateCompleted,
	}
	if diff := cmp.Diff(wantStates, n.states()); diff != "" {
		t.Errorf("Notified states mismatch (-want +got):\n%s", diff)
	}
	if size := f.store.Size(); size != 1 {
		t.Errorf("Expected a single task record, got %d", size)
	}

	wantHistory := []a2a.Message{
		*a2a.NewUserTextMessage("best heist movie"),
		*a2a.NewUserTextMessage("1995"),
		*a2a.NewAgentTextMessage("which year?"),
	}
	if diff := cmp.Diff(wantHistory, second.History); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
	wantArtifacts := []a2a.Artifact{{Parts: []a2a.Part{a2a.NewTextPart("Heat")}}}
	if diff := cmp.Diff(wantArtifacts, second.Artifacts); diff != "" {
		t.Errorf("Artifacts mismatch (-want +got):\n%s", diff)
	}
}

func TestOnSendTaskRejectsRunningTask(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: gated(gate,
		agent.Response{Content: "done", IsTaskComplete: true},
	)})

	events, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "question"))
	if err != nil {
		t.Fatalf("OnSendTaskSubscribe failed: %v", err)
	}

	_, err = f.m.OnSendTask(t.Context(), sendParams("task-1", "again"))
	assertRPCError(t, err, a2a.CodeInvalidParams, msgTaskRunning)

	close(gate)
	got := collectEvents(t, events)

	stored, err := f.store.GetTask(t.Context(), "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	wantHistory := []a2a.Message{*a2a.NewUserTextMessage("question")}
	if diff := cmp.Diff(wantHistory, stored.History); diff != "" {
		t.Errorf("Rejected send must not touch the task (-want +got):\n%s", diff)
	}
	if len(got) != 2 || len(stored.Artifacts) != 1 {
		t.Errorf("Expected one producer, got %d events and %d artifacts", len(got), len(stored.Artifacts))
	}

	waitDrivers(t, f.m)
	if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "after")); err != nil {
		t.Errorf("Expected send after the driver finished to succeed, got %v", err)
	}
}

func TestOnSendTaskSubscribeRejectsRunningSend(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, agent.Func(func(context.Context, string, string) (agent.Response, error) {
		close(entered)
		<-release
		return agent.Response{Content: "done", IsTaskComplete: true}, nil
	}))

	errc := make(chan error, 1)
	go func() {
		_, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "question"))
		errc <- err
	}()
	<-entered

	_, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "again"))
	assertRPCError(t, err, a2a.CodeInvalidParams, msgTaskRunning)

	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}
	if f.m.Running("task-1") {
		t.Error("Expected no driver to be started")
	}
}

func TestOnSendTaskPush(t *testing.T) {
	t.Run("verified", func(t *testing.T) {
		n := &fakeNotifier{}
		f := newFixture(t, agent.Echo())
		f.m.WithNotifier(n)

		params := sendParams("task-1", "hi")
		params.PushNotification = &a2a.PushNotificationConfig{URL: "http://client.example/notify", Token: "tok"}
		if _, err := f.m.OnSendTask(t.Context(), params); err != nil {
			t.Fatalf("OnSendTask failed: %v", err)
		}

		want := []a2a.TaskState{a2a.TaskStateWorking, a2a.TaskStateCompleted}
		if diff := cmp.Diff(want, n.states()); diff != "" {
			t.Errorf("Notified states mismatch (-want +got):\n%s", diff)
		}
		cfg, ok := f.store.GetPushConfig(t.Context(), "task-1")
		if !ok || cfg.URL != params.PushNotification.URL {
			t.Errorf("Expected push config to be stored, got %+v", cfg)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		n := &fakeNotifier{reject: true}
		f := newFixture(t, agent.Echo())
		f.m.WithNotifier(n)

		params := sendParams("task-1", "hi")
		params.PushNotification = &a2a.PushNotificationConfig{URL: "http://client.example/notify"}
		_, err := f.m.OnSendTask(t.Context(), params)
		assertRPCError(t, err, a2a.CodeInvalidParams, "Push notification URL is invalid")

		if n := f.store.Size(); n != 0 {
			t.Errorf("Expected no task to be stored, got %d", n)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		f := newFixture(t, agent.Echo())

		params := sendParams("task-1", "hi")
		params.PushNotification = &a2a.PushNotificationConfig{URL: "http://client.example/notify"}
		_, err := f.m.OnSendTask(t.Context(), params)
		assertRPCError(t, err, a2a.CodePushNotificationNotSupported, "")
	})
}

func TestOnSendTaskSubscribe(t *testing.T) {
	completed := a2a.Artifact{Parts: []a2a.Part{a2a.NewTextPart("done")}}

	tests := map[string]struct {
		stream    func(context.Context, func(agent.Response, error) bool)
		want      []a2a.Event
		wantState a2a.TaskState
	}{
		"working then completed": {
			stream: scripted(
				agent.Response{Content: "Thinking..."},
				agent.Response{Content: "Searching..."},
				agent.Response{Content: "done", IsTaskComplete: true},
			),
			want: []a2a.Event{
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateWorking, "Thinking...")},
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateWorking, "Searching...")},
				&a2a.TaskArtifactUpdateEvent{ID: "task-1", Artifact: completed},
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}, Final: true},
			},
			wantState: a2a.TaskStateCompleted,
		},
		"agent reports error": {
			stream: scripted(agent.Response{Error: "boom"}),
			want: []a2a.Event{
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateInputRequired, "Error: boom"), Final: true},
			},
			wantState: a2a.TaskStateInputRequired,
		},
		"input required": {
			stream: scripted(agent.Response{Content: "which year?", RequireUserInput: true}),
			want: []a2a.Event{
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateInputRequired, "which year?"), Final: true},
			},
			wantState: a2a.TaskStateInputRequired,
		},
		"agent error": {
			stream: func(_ context.Context, yield func(agent.Response, error) bool) {
				if yield(agent.Response{Content: "Thinking..."}, nil) {
					yield(agent.Response{}, errors.New("connection reset"))
				}
			},
			want: []a2a.Event{
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateWorking, "Thinking...")},
				&a2a.TaskErrorEvent{ID: "task-1", Error: a2a.NewInternalError("An error occurred while streaming the response: connection reset")},
			},
			wantState: a2a.TaskStateFailed,
		},
		"stream ends early": {
			stream: scripted(agent.Response{Content: "Thinking..."}),
			want: []a2a.Event{
				&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateWorking, "Thinking...")},
				&a2a.TaskErrorEvent{ID: "task-1", Error: a2a.NewInternalError("An error occurred while streaming the response: " + errStreamEnded.Error())},
			},
			wantState: a2a.TaskStateFailed,
		},
		"agent panics": {
			stream: func(context.Context, func(agent.Response, error) bool) {
				panic("index out of range")
			},
			want: []a2a.Event{
				&a2a.TaskErrorEvent{ID: "task-1", Error: a2a.NewInternalError("An error occurred while streaming the response: agent panicked: index out of range")},
			},
			wantState: a2a.TaskStateFailed,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: tt.stream})

			events, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "question"))
			if err != nil {
				t.Fatalf("OnSendTaskSubscribe failed: %v", err)
			}

			got := collectEvents(t, events)
			if diff := cmp.Diff(tt.want, got, ignoreTimestamp); diff != "" {
				t.Errorf("Events mismatch (-want +got):\n%s", diff)
			}

			stored, err := f.store.GetTask(t.Context(), "task-1")
			if err != nil {
				t.Fatalf("GetTask failed: %v", err)
			}
			if stored.Status.State != tt.wantState {
				t.Errorf("Expected stored state %q, got %q", tt.wantState, stored.Status.State)
			}
			if f.m.Running("task-1") {
				t.Error("Expected driver to be gone after the final event")
			}
		})
	}
}

func TestOnSendTaskSubscribeAttachesToRunningDriver(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: gated(gate,
		agent.Response{Content: "done", IsTaskComplete: true},
	)})

	first, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "question"))
	if err != nil {
		t.Fatalf("first OnSendTaskSubscribe failed: %v", err)
	}
	if !f.m.Running("task-1") {
		t.Fatal("Expected a running driver")
	}

	second, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "again"))
	if err != nil {
		t.Fatalf("second OnSendTaskSubscribe failed: %v", err)
	}

	resubscribed, err := f.m.OnResubscribeToTask(t.Context(), a2a.TaskQueryParams{ID: "task-1"})
	if err != nil {
		t.Fatalf("OnResubscribeToTask failed: %v", err)
	}

	results := make(chan []a2a.Event, 3)
	for _, seq := range []iter.Seq[a2a.Event]{first, second, resubscribed} {
		go func() { results <- drain(seq) }()
	}
	close(gate)

	want := []a2a.Event{
		&a2a.TaskArtifactUpdateEvent{ID: "task-1", Artifact: a2a.Artifact{Parts: []a2a.Part{a2a.NewTextPart("done")}}},
		&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}, Final: true},
	}
	for range 3 {
		if diff := cmp.Diff(want, receive(t, results), ignoreTimestamp); diff != "" {
			t.Errorf("Events mismatch (-want +got):\n%s", diff)
		}
	}

	stored, err := f.store.GetTask(t.Context(), "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	wantHistory := []a2a.Message{*a2a.NewUserTextMessage("question")}
	if diff := cmp.Diff(wantHistory, stored.History); diff != "" {
		t.Errorf("Attaching must not upsert the task (-want +got):\n%s", diff)
	}
}

func TestOnSendTaskSubscribeDriverOutlivesConsumer(t *testing.T) {
	t.Run("consumer stops early", func(t *testing.T) {
		f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: scripted(
			agent.Response{Content: "Thinking..."},
			agent.Response{Content: "done", IsTaskComplete: true},
		)})

		events, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "q"))
		if err != nil {
			t.Fatalf("OnSendTaskSubscribe failed: %v", err)
		}
		for range events {
			break
		}

		waitDrivers(t, f.m)
		assertState(t, f.store, "task-1", a2a.TaskStateCompleted)
	})

	t.Run("request context canceled", func(t *testing.T) {
		gate := make(chan struct{})
		f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: gated(gate,
			agent.Response{Content: "done", IsTaskComplete: true},
		)})

		ctx, cancel := context.WithCancel(t.Context())
		events, err := f.m.OnSendTaskSubscribe(ctx, sendParams("task-1", "q"))
		if err != nil {
			t.Fatalf("OnSendTaskSubscribe failed: %v", err)
		}

		done := make(chan []a2a.Event, 1)
		go func() { done <- drain(events) }()
		cancel()
		if got := receive(t, done); len(got) != 0 {
			t.Errorf("Expected no events after cancellation, got %d", len(got))
		}

		close(gate)
		waitDrivers(t, f.m)
		assertState(t, f.store, "task-1", a2a.TaskStateCompleted)
	})
}

func TestOnSendTaskSubscribeOverflow(t *testing.T) {
	f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: scripted(
		agent.Response{Content: "one"},
		agent.Response{Content: "two"},
		agent.Response{Content: "three"},
		agent.Response{Content: "four"},
		agent.Response{Content: "done", IsTaskComplete: true},
	)}, event.WithHighWaterMark(2))

	events, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams("task-1", "q"))
	if err != nil {
		t.Fatalf("OnSendTaskSubscribe failed: %v", err)
	}

	// Nobody consumes until the driver gave up.
	waitDrivers(t, f.m)
	assertState(t, f.store, "task-1", a2a.TaskStateFailed)

	got := collectEvents(t, events)
	if len(got) != 3 {
		t.Fatalf("Expected 2 buffered events and an error event, got %d", len(got))
	}
	last, ok := got[2].(*a2a.TaskErrorEvent)
	if !ok {
		t.Fatalf("Expected trailing *a2a.TaskErrorEvent, got %T", got[2])
	}
	if last.Error.Code != a2a.CodeInternalError {
		t.Errorf("Expected code %d, got %d", a2a.CodeInternalError, last.Error.Code)
	}
}

func TestOnSendTaskSubscribeNotifies(t *testing.T) {
	n := &fakeNotifier{}
	f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: scripted(
		agent.Response{Content: "Thinking..."},
		agent.Response{Content: "done", IsTaskComplete: true},
	)})
	f.m.WithNotifier(n)

	params := sendParams("task-1", "q")
	params.PushNotification = &a2a.PushNotificationConfig{URL: "http://client.example/notify"}
	events, err := f.m.OnSendTaskSubscribe(t.Context(), params)
	if err != nil {
		t.Fatalf("OnSendTaskSubscribe failed: %v", err)
	}
	collectEvents(t, events)

	want := []a2a.TaskState{a2a.TaskStateWorking, a2a.TaskStateCompleted}
	if diff := cmp.Diff(want, n.states()); diff != "" {
		t.Errorf("Notified states mismatch (-want +got):\n%s", diff)
	}
}

func TestOnResubscribeToTask(t *testing.T) {
	f := newFixture(t, agent.Func(func(context.Context, string, string) (agent.Response, error) {
		return agent.Response{Content: "more please", RequireUserInput: true}, nil
	}))

	if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "q")); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	events, err := f.m.OnResubscribeToTask(t.Context(), a2a.TaskQueryParams{ID: "task-1"})
	if err != nil {
		t.Fatalf("OnResubscribeToTask failed: %v", err)
	}
	want := []a2a.Event{
		&a2a.TaskStatusUpdateEvent{ID: "task-1", Status: agentStatus(a2a.TaskStateInputRequired, "more please"), Final: true},
	}
	if diff := cmp.Diff(want, collectEvents(t, events), ignoreTimestamp); diff != "" {
		t.Errorf("Events mismatch (-want +got):\n%s", diff)
	}

	_, err = f.m.OnResubscribeToTask(t.Context(), a2a.TaskQueryParams{ID: "missing"})
	assertRPCError(t, err, a2a.CodeTaskNotFound, "")
}

func TestOnGetTask(t *testing.T) {
	f := newFixture(t, agent.Echo())
	if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "hi")); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	tests := map[string]struct {
		params      a2a.TaskQueryParams
		wantCode    int
		wantHistory int
	}{
		"found":        {params: a2a.TaskQueryParams{ID: "task-1"}},
		"with history": {params: a2a.TaskQueryParams{ID: "task-1", HistoryLength: 5}, wantHistory: 1},
		"not found":    {params: a2a.TaskQueryParams{ID: "missing"}, wantCode: a2a.CodeTaskNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := f.m.OnGetTask(t.Context(), tt.params)
			if tt.wantCode != 0 {
				assertRPCError(t, err, tt.wantCode, "")
				return
			}
			if err != nil {
				t.Fatalf("OnGetTask failed: %v", err)
			}
			if got.Status.State != a2a.TaskStateCompleted {
				t.Errorf("Expected state %q, got %q", a2a.TaskStateCompleted, got.Status.State)
			}
			if len(got.History) != tt.wantHistory {
				t.Errorf("Expected %d history entries, got %d", tt.wantHistory, len(got.History))
			}
		})
	}
}

func TestOnCancelTask(t *testing.T) {
	f := newFixture(t, agent.Echo())
	if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "hi")); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	_, err := f.m.OnCancelTask(t.Context(), a2a.TaskIDParams{ID: "task-1"})
	assertRPCError(t, err, a2a.CodeTaskNotCancelable, "")

	_, err = f.m.OnCancelTask(t.Context(), a2a.TaskIDParams{ID: "missing"})
	assertRPCError(t, err, a2a.CodeTaskNotFound, "")
}

func TestOnSetTaskPushNotification(t *testing.T) {
	config := func(id, url string) a2a.TaskPushNotificationConfig {
		return a2a.TaskPushNotificationConfig{ID: id, PushNotificationConfig: a2a.PushNotificationConfig{URL: url}}
	}

	tests := map[string]struct {
		notifier *fakeNotifier
		config   a2a.TaskPushNotificationConfig
		wantCode int
		wantMsg  string
	}{
		"stored": {
			notifier: &fakeNotifier{},
			config:   config("task-1", "http://client.example/notify"),
		},
		"no dispatcher": {
			config:   config("task-1", "http://client.example/notify"),
			wantCode: a2a.CodePushNotificationNotSupported,
		},
		"missing url": {
			notifier: &fakeNotifier{},
			config:   config("task-1", ""),
			wantCode: a2a.CodeInvalidParams,
			wantMsg:  "Push notification URL is missing",
		},
		"unknown task": {
			notifier: &fakeNotifier{},
			config:   config("missing", "http://client.example/notify"),
			wantCode: a2a.CodeTaskNotFound,
		},
		"verification failed": {
			notifier: &fakeNotifier{reject: true},
			config:   config("task-1", "http://client.example/notify"),
			wantCode: a2a.CodeInvalidParams,
			wantMsg:  "Push notification URL is invalid",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, agent.Echo())
			if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "hi")); err != nil {
				t.Fatalf("OnSendTask failed: %v", err)
			}
			if tt.notifier != nil {
				f.m.WithNotifier(tt.notifier)
			}

			got, err := f.m.OnSetTaskPushNotification(t.Context(), tt.config)
			if tt.wantCode != 0 {
				assertRPCError(t, err, tt.wantCode, tt.wantMsg)
				if _, ok := f.store.GetPushConfig(t.Context(), "task-1"); ok {
					t.Error("Expected push config not to be stored")
				}
				return
			}
			if err != nil {
				t.Fatalf("OnSetTaskPushNotification failed: %v", err)
			}
			if diff := cmp.Diff(&tt.config, got); diff != "" {
				t.Errorf("OnSetTaskPushNotification mismatch (-want +got):\n%s", diff)
			}

			stored, err := f.m.OnGetTaskPushNotification(t.Context(), a2a.TaskIDParams{ID: "task-1"})
			if err != nil {
				t.Fatalf("OnGetTaskPushNotification failed: %v", err)
			}
			if diff := cmp.Diff(&tt.config, stored); diff != "" {
				t.Errorf("OnGetTaskPushNotification mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOnGetTaskPushNotification(t *testing.T) {
	f := newFixture(t, agent.Echo())
	if _, err := f.m.OnSendTask(t.Context(), sendParams("task-1", "hi")); err != nil {
		t.Fatalf("OnSendTask failed: %v", err)
	}

	_, err := f.m.OnGetTaskPushNotification(t.Context(), a2a.TaskIDParams{ID: "task-1"})
	assertRPCError(t, err, a2a.CodePushNotificationNotSupported, "")

	f.m.WithNotifier(&fakeNotifier{})

	_, err = f.m.OnGetTaskPushNotification(t.Context(), a2a.TaskIDParams{ID: "task-1"})
	assertRPCError(t, err, a2a.CodeInternalError, "")

	_, err = f.m.OnGetTaskPushNotification(t.Context(), a2a.TaskIDParams{ID: "missing"})
	assertRPCError(t, err, a2a.CodeTaskNotFound, "")
}

func TestConcurrentStreams(t *testing.T) {
	f := newFixture(t, &streamAgent{Func: agent.Echo(), stream: scripted(
		agent.Response{Content: "Thinking..."},
		agent.Response{Content: "done", IsTaskComplete: true},
	)})

	const tasks = 20
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			id := "task-" + strings.Repeat("x", i+1)
			events, err := f.m.OnSendTaskSubscribe(t.Context(), sendParams(id, "q"))
			if err != nil {
				t.Errorf("OnSendTaskSubscribe(%s) failed: %v", id, err)
				return
			}

			var last a2a.Event
			for ev := range events {
				if ev.GetTaskID() != id {
					t.Errorf("Expected events for %s only, got one for %s", id, ev.GetTaskID())
				}
				last = ev
			}
			if last == nil || !last.IsFinal() {
				t.Errorf("Expected stream of %s to end with a final event, got %v", id, last)
			}
		}()
	}
	wg.Wait()
}

func waitDrivers(t *testing.T, m *AgentTaskManager) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("drivers did not finish: %v", err)
	}
}

func assertState(t *testing.T, store task.Store, taskID string, want a2a.TaskState) {
	t.Helper()

	got, err := store.GetTask(t.Context(), taskID)
	if err != nil {
		t.Fatalf("GetTask(%s) failed: %v", taskID, err)
	}
	if got.Status.State != want {
		t.Errorf("Expected state %q, got %q", want, got.Status.State)
	}
}
