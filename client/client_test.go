// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/agent"
	"github.com/go-a2a/a2a-coordinator/server"
	"github.com/go-a2a/a2a-coordinator/server/event"
	"github.com/go-a2a/a2a-coordinator/server/push"
	"github.com/go-a2a/a2a-coordinator/server/task"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type agentServer struct {
	*httptest.Server
	card *a2a.AgentCard
}

// newAgentServer serves an echo agent. Streaming is always on; push
// notifications are enabled when withPush is set.
func newAgentServer(t *testing.T, withPush bool) *agentServer {
	t.Helper()

	logger := quietLogger()
	m, err := server.NewAgentTaskManager(task.NewInMemoryStore(), event.NewRegistry(event.WithLogger(logger)), agent.Echo())
	if err != nil {
		t.Fatalf("NewAgentTaskManager failed: %v", err)
	}
	m.WithLogger(logger)

	if withPush {
		signer, err := push.NewSigner()
		if err != nil {
			t.Fatalf("NewSigner failed: %v", err)
		}
		d := push.NewDispatcher(signer, push.WithLogger(logger), push.WithTimeout(2*time.Second))
		m.WithNotifier(d)
		t.Cleanup(d.Close)
	}

	var handler http.Handler = http.NotFoundHandler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))

	card := &a2a.AgentCard{
		Name:               "Echo Agent",
		URL:                ts.URL + "/",
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             []a2a.AgentSkill{{ID: "echo", Name: "Echo"}},
	}
	srv, err := server.NewServer(server.Config{
		AgentCard:               card,
		TaskManager:             m,
		EnableStreaming:         true,
		EnablePushNotifications: withPush,
	}, server.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	handler = srv

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Wait(ctx); err != nil {
			t.Errorf("Task drivers did not finish: %v", err)
		}
	})
	return &agentServer{Server: ts, card: card}
}

func newClient(t *testing.T, rawURL string, opts ...Option) *HTTPClient {
	t.Helper()

	c, err := NewHTTPClient(rawURL, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return c
}

func sendParams(id, text string) *a2a.TaskSendParams {
	return &a2a.TaskSendParams{
		ID:        id,
		SessionID: "session-1",
		Message:   *a2a.NewUserTextMessage(text),
	}
}

func TestNewHTTPClient(t *testing.T) {
	tests := map[string]struct {
		url     string
		wantErr bool
	}{
		"http":         {url: "http://localhost:10000/"},
		"https":        {url: "https://agent.example.com/a2a"},
		"no scheme":    {url: "localhost:10000", wantErr: true},
		"grpc scheme":  {url: "grpc://localhost:10000", wantErr: true},
		"unparseable":  {url: "http://[::1", wantErr: true},
		"empty string": {url: "", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewHTTPClient(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	ts := newAgentServer(t, false)

	c, err := Discover(t.Context(), ts.URL, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	want := *ts.card
	want.Capabilities = a2a.AgentCapabilities{Streaming: true}
	if diff := cmp.Diff(&want, c.AgentCard()); diff != "" {
		t.Errorf("AgentCard mismatch (-want +got):\n%s", diff)
	}

	tsk, err := c.SendTask(t.Context(), sendParams("task-1", "ping"))
	if err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}
	if tsk.Status.State != a2a.TaskStateCompleted {
		t.Errorf("Expected state %q, got %q", a2a.TaskStateCompleted, tsk.Status.State)
	}
}

func TestCardResolverNotFound(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	_, err := NewCardResolver(ts.URL, nil).GetAgentCard(t.Context(), "")

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", httpErr.StatusCode)
	}
}

func TestSendAndGetTask(t *testing.T) {
	ts := newAgentServer(t, false)
	c := newClient(t, ts.card.URL)

	tsk, err := c.SendTask(t.Context(), sendParams("task-1", "ping"))
	if err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}
	want := []a2a.Artifact{{Parts: []a2a.Part{a2a.NewTextPart("ping")}}}
	if diff := cmp.Diff(want, tsk.Artifacts); diff != "" {
		t.Errorf("Artifacts mismatch (-want +got):\n%s", diff)
	}

	got, err := c.GetTask(t.Context(), a2a.TaskQueryParams{ID: "task-1", HistoryLength: 1})
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.SessionID != "session-1" {
		t.Errorf("Expected session session-1, got %q", got.SessionID)
	}
	if len(got.History) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(got.History))
	}
}

func TestRPCErrors(t *testing.T) {
	ts := newAgentServer(t, false)
	c := newClient(t, ts.card.URL)

	if _, err := c.SendTask(t.Context(), sendParams("task-1", "ping")); err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}

	tests := map[string]struct {
		call  func() error
		check func(error) bool
	}{
		"get unknown task": {
			call: func() error {
				_, err := c.GetTask(t.Context(), a2a.TaskQueryParams{ID: "missing"})
				return err
			},
			check: IsTaskNotFoundError,
		},
		"cancel completed task": {
			call: func() error {
				_, err := c.CancelTask(t.Context(), a2a.TaskIDParams{ID: "task-1"})
				return err
			},
			check: IsTaskNotCancelableError,
		},
		"push disabled": {
			call: func() error {
				_, err := c.GetTaskPushNotification(t.Context(), a2a.TaskIDParams{ID: "task-1"})
				return err
			},
			check: IsPushNotificationNotSupportedError,
		},
		"missing task id": {
			call: func() error {
				_, err := c.SendTask(t.Context(), sendParams("", "ping"))
				return err
			},
			check: func(err error) bool { return IsRPCError(err, a2a.CodeInvalidParams) },
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !tt.check(err) {
				t.Errorf("Unexpected error %v", err)
			}
		})
	}
}

func TestSendTaskSubscribe(t *testing.T) {
	ts := newAgentServer(t, false)
	c := newClient(t, ts.card.URL)

	var events []a2a.Event
	for ev, err := range c.SendTaskSubscribe(t.Context(), sendParams("task-1", "ping")) {
		if err != nil {
			t.Fatalf("SendTaskSubscribe failed: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	artifact, ok := events[0].(*a2a.TaskArtifactUpdateEvent)
	if !ok {
		t.Fatalf("Expected artifact event first, got %T", events[0])
	}
	if diff := cmp.Diff([]a2a.Part{a2a.NewTextPart("ping")}, artifact.Artifact.Parts); diff != "" {
		t.Errorf("Artifact mismatch (-want +got):\n%s", diff)
	}
	status, ok := events[1].(*a2a.TaskStatusUpdateEvent)
	if !ok {
		t.Fatalf("Expected status event last, got %T", events[1])
	}
	if !status.Final || status.Status.State != a2a.TaskStateCompleted {
		t.Errorf("Expected final completed status, got %+v", status)
	}

	// The task has no driver any more; resubscribing yields its final status.
	var resubscribed []a2a.Event
	for ev, err := range c.Resubscribe(t.Context(), a2a.TaskQueryParams{ID: "task-1"}) {
		if err != nil {
			t.Fatalf("Resubscribe failed: %v", err)
		}
		resubscribed = append(resubscribed, ev)
	}
	if len(resubscribed) != 1 || !resubscribed[0].IsFinal() {
		t.Errorf("Expected a single final event, got %v", resubscribed)
	}
}

func TestSubscribeErrorBeforeStream(t *testing.T) {
	ts := newAgentServer(t, false)
	c := newClient(t, ts.card.URL)

	params := sendParams("task-1", "ping")
	params.AcceptedOutputModes = []string{"image/png"}

	var errs []error
	for ev, err := range c.SendTaskSubscribe(t.Context(), params) {
		if ev != nil {
			t.Errorf("Expected no events, got %T", ev)
		}
		errs = append(errs, err)
	}
	if len(errs) != 1 || !IsRPCError(errs[0], a2a.CodeInvalidParams) {
		t.Errorf("Expected a single invalid params error, got %v", errs)
	}
}

func TestStreamClosedEarly(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"jsonrpc":"2.0","id":"1","result":{"id":"task-1","status":{"state":"working"},"final":false}}`+"\n\n")
	}))
	t.Cleanup(ts.Close)
	c := newClient(t, ts.URL)

	var (
		events []a2a.Event
		last   error
	)
	for ev, err := range c.Resubscribe(t.Context(), a2a.TaskQueryParams{ID: "task-1"}) {
		if ev != nil {
			events = append(events, ev)
		}
		last = err
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event, got %d", len(events))
	}
	if !errors.Is(last, ErrStreamClosed) {
		t.Errorf("Expected ErrStreamClosed, got %v", last)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)
	c := newClient(t, ts.URL)

	_, err := c.GetTask(t.Context(), a2a.TaskQueryParams{ID: "task-1"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 *HTTPError, got %v", err)
	}
}

func TestPushNotificationConfig(t *testing.T) {
	ts := newAgentServer(t, true)
	c := newClient(t, ts.card.URL)

	var notified atomic.Int32
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get(push.ValidationTokenParam); r.Method == http.MethodGet && token != "" {
			io.WriteString(w, token)
			return
		}
		notified.Add(1)
	}))
	t.Cleanup(receiver.Close)

	if _, err := c.SendTask(t.Context(), sendParams("task-1", "ping")); err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}

	config := a2a.TaskPushNotificationConfig{
		ID:                     "task-1",
		PushNotificationConfig: a2a.PushNotificationConfig{URL: receiver.URL, Token: "secret"},
	}
	set, err := c.SetTaskPushNotification(t.Context(), config)
	if err != nil {
		t.Fatalf("SetTaskPushNotification failed: %v", err)
	}
	if diff := cmp.Diff(&config, set); diff != "" {
		t.Errorf("Set config mismatch (-want +got):\n%s", diff)
	}

	got, err := c.GetTaskPushNotification(t.Context(), a2a.TaskIDParams{ID: "task-1"})
	if err != nil {
		t.Fatalf("GetTaskPushNotification failed: %v", err)
	}
	if diff := cmp.Diff(&config, got); diff != "" {
		t.Errorf("Get config mismatch (-want +got):\n%s", diff)
	}
}

func TestInterceptors(t *testing.T) {
	var gotAuth, gotTrace, gotAgent atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotTrace.Store(r.Header.Get("X-Trace"))
		gotAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"id":"task-1","status":{"state":"completed"}}}`)
	}))
	t.Cleanup(ts.Close)

	var order []string
	record := func(name string) Interceptor {
		return func(ctx context.Context, req *http.Request, invoker Invoker) (*http.Response, error) {
			order = append(order, name)
			return invoker(ctx, req)
		}
	}
	c := newClient(t, ts.URL,
		WithUserAgent("test-agent/1"),
		WithInterceptors(record("outer"), BearerTokenInterceptor("tok"), HeaderInterceptor(map[string]string{"X-Trace": "abc"}), record("inner")),
		WithInterceptors(LoggingInterceptor(quietLogger())),
	)

	tsk, err := c.GetTask(t.Context(), a2a.TaskQueryParams{ID: "task-1"})
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if tsk.Status.State != a2a.TaskStateCompleted {
		t.Errorf("Expected state %q, got %q", a2a.TaskStateCompleted, tsk.Status.State)
	}
	if diff := cmp.Diff([]string{"outer", "inner"}, order); diff != "" {
		t.Errorf("Interceptor order mismatch (-want +got):\n%s", diff)
	}
	if got := gotAuth.Load(); got != "Bearer tok" {
		t.Errorf("Expected bearer header, got %v", got)
	}
	if got := gotTrace.Load(); got != "abc" {
		t.Errorf("Expected X-Trace abc, got %v", got)
	}
	if got := gotAgent.Load(); got == nil || !strings.HasPrefix(got.(string), "test-agent/") {
		t.Errorf("Expected custom user agent, got %v", got)
	}
}
