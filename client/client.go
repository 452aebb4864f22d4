// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package client talks to an A2A agent over JSON-RPC and Server-Sent Events.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/client/internal/sse"
	"github.com/go-a2a/a2a-coordinator/internal/telemetry"
)

// ErrStreamClosed is returned when an event stream ends before a final event.
var ErrStreamClosed = errors.New("a2a: stream closed before a final event")

// Client defines the interface for A2A clients.
type Client interface {
	// SendTask sends a message to the agent and waits for the task to end its turn.
	SendTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error)

	// SendTaskSubscribe sends a message to the agent and streams the task's events.
	SendTaskSubscribe(ctx context.Context, params *a2a.TaskSendParams) iter.Seq2[a2a.Event, error]

	// Resubscribe streams the events of an existing task.
	Resubscribe(ctx context.Context, params a2a.TaskQueryParams) iter.Seq2[a2a.Event, error]

	// GetTask retrieves the current state and history of a specific task.
	GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error)

	// CancelTask requests the agent to cancel a specific task.
	CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error)

	// SetTaskPushNotification sets the push notification configuration for a specific task.
	SetTaskPushNotification(ctx context.Context, config a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error)

	// GetTaskPushNotification retrieves the push notification configuration for a specific task.
	GetTaskPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error)
}

// HTTPClient implements the Client interface using HTTP requests.
type HTTPClient struct {
	httpClient   *http.Client
	agentCard    *a2a.AgentCard
	url          string
	interceptors []Interceptor
	userAgent    string
	logger       *slog.Logger
	tracer       trace.Tracer
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the agent JSON-RPC endpoint at rawURL.
func NewHTTPClient(rawURL string, opts ...Option) (*HTTPClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse agent url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("agent url %q must be http or https", rawURL)
	}

	c := &HTTPClient{
		httpClient: http.DefaultClient,
		url:        rawURL,
		userAgent:  "a2a-go/" + a2a.Version,
		logger:     slog.Default(),
		tracer:     otel.Tracer(telemetry.InstrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClientWithAgentCard creates a client for the agent described by card.
func NewHTTPClientWithAgentCard(card *a2a.AgentCard, opts ...Option) (*HTTPClient, error) {
	if card == nil {
		return nil, errors.New("agent card is required")
	}
	c, err := NewHTTPClient(card.URL, opts...)
	if err != nil {
		return nil, err
	}
	c.agentCard = card
	return c, nil
}

// Discover fetches the agent card published under baseURL and returns a
// client for the agent it describes.
func Discover(ctx context.Context, baseURL string, opts ...Option) (*HTTPClient, error) {
	probe, err := NewHTTPClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	card, err := NewCardResolver(baseURL, probe.httpClient).GetAgentCard(ctx, "")
	if err != nil {
		return nil, err
	}
	return NewHTTPClientWithAgentCard(card, opts...)
}

// AgentCard returns the card the client was created from, if any.
func (c *HTTPClient) AgentCard() *a2a.AgentCard {
	return c.agentCard
}

// SendTask sends a message to the agent and waits for the task to end its turn.
func (c *HTTPClient) SendTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error) {
	if params == nil {
		return nil, errors.New("params cannot be nil")
	}
	return call[a2a.Task](ctx, c, a2a.MethodTasksSend, params)
}

// GetTask retrieves the current state and history of a specific task.
func (c *HTTPClient) GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	return call[a2a.Task](ctx, c, a2a.MethodTasksGet, params)
}

// CancelTask requests the agent to cancel a specific task.
func (c *HTTPClient) CancelTask(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, error) {
	return call[a2a.Task](ctx, c, a2a.MethodTasksCancel, params)
}

// SetTaskPushNotification sets the push notification configuration for a specific task.
func (c *HTTPClient) SetTaskPushNotification(ctx context.Context, config a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	return call[a2a.TaskPushNotificationConfig](ctx, c, a2a.MethodTasksPushNotificationSet, config)
}

// GetTaskPushNotification retrieves the push notification configuration for a specific task.
func (c *HTTPClient) GetTaskPushNotification(ctx context.Context, params a2a.TaskIDParams) (*a2a.TaskPushNotificationConfig, error) {
	return call[a2a.TaskPushNotificationConfig](ctx, c, a2a.MethodTasksPushNotificationGet, params)
}

// SendTaskSubscribe sends a message to the agent and streams the task's
// events. The sequence ends after the final event; a JSON-RPC error raised
// mid-stream arrives as a [*a2a.TaskErrorEvent].
func (c *HTTPClient) SendTaskSubscribe(ctx context.Context, params *a2a.TaskSendParams) iter.Seq2[a2a.Event, error] {
	if params == nil {
		return func(yield func(a2a.Event, error) bool) {
			yield(nil, errors.New("params cannot be nil"))
		}
	}
	return c.stream(ctx, a2a.MethodTasksSendSubscribe, params.ID, params)
}

// Resubscribe streams the events of an existing task.
func (c *HTTPClient) Resubscribe(ctx context.Context, params a2a.TaskQueryParams) iter.Seq2[a2a.Event, error] {
	return c.stream(ctx, a2a.MethodTasksResubscribe, params.ID, params)
}

// response is the JSON-RPC envelope of a non-streaming result.
type response[T any] struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      any               `json:"id"`
	Result  *T                `json:"result,omitzero"`
	Error   *a2a.JSONRPCError `json:"error,omitzero"`
}

func call[T any](ctx context.Context, c *HTTPClient, method string, params any) (_ *T, err error) {
	ctx, span := c.tracer.Start(ctx, "a2a.client."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.AttrMethod.String(method)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	resp, err := c.post(ctx, method, params, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out response[T]
	if err := json.UnmarshalRead(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if out.Result == nil {
		return nil, fmt.Errorf("%s response has neither result nor error", method)
	}
	return out.Result, nil
}

func (c *HTTPClient) stream(ctx context.Context, method, taskID string, params any) iter.Seq2[a2a.Event, error] {
	return func(yield func(a2a.Event, error) bool) {
		ctx, span := c.tracer.Start(ctx, "a2a.client."+method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				telemetry.AttrMethod.String(method),
				telemetry.AttrTaskID.String(taskID),
			))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		resp, err := c.post(ctx, method, params, "text/event-stream")
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()

		// Errors raised before the stream opens come back as plain JSON.
		if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
			var out a2a.StreamingResponse
			if err := json.UnmarshalRead(resp.Body, &out); err != nil {
				fail(fmt.Errorf("decode %s response: %w", method, err))
				return
			}
			if out.Error != nil {
				fail(out.Error)
				return
			}
			fail(fmt.Errorf("%s response is not an event stream", method))
			return
		}

		for frame, err := range sse.NewDecoder(resp.Body).Events() {
			if err != nil {
				fail(fmt.Errorf("read %s stream: %w", method, err))
				return
			}

			var out a2a.StreamingResponse
			if err := frame.DecodeJSON(&out); err != nil {
				fail(fmt.Errorf("decode %s frame: %w", method, err))
				return
			}
			ev, err := out.Event(taskID)
			if err != nil {
				fail(fmt.Errorf("decode %s event: %w", method, err))
				return
			}
			if !yield(ev, nil) || ev.IsFinal() {
				return
			}
		}

		fail(ErrStreamClosed)
	}
}

// post sends a JSON-RPC request for method to the agent. The caller closes
// the body of the returned response.
func (c *HTTPClient) post(ctx context.Context, method string, params any, accept string) (*http.Response, error) {
	rpcReq, err := a2a.NewJSONRPCRequest(uuid.NewString(), method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	payload, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	if accept == "text/event-stream" {
		req.Header.Set("Cache-Control", "no-cache")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	invoker := chainInterceptors(c.interceptors, func(_ context.Context, req *http.Request) (*http.Response, error) {
		return c.httpClient.Do(req)
	})

	resp, err := invoker(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.logger.DebugContext(ctx, "agent returned non-200 status", "method", method, "status", resp.StatusCode)
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: c.url}
	}
	return resp, nil
}
