// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes an agent over the A2A JSON-RPC protocol: the task
// manager that drives the agent and the HTTP transport in front of it.
package server

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/internal/pool"
	"github.com/go-a2a/a2a-coordinator/internal/telemetry"
)

// Well-known paths served next to the JSON-RPC endpoint.
const (
	AgentCardPath = a2a.AgentCardWellKnownPath
	JWKSPath      = "/.well-known/jwks.json"
	MetricsPath   = "/metrics"
)

// DefaultMaxRequestBytes is the default limit of a JSON-RPC request body.
const DefaultMaxRequestBytes = 1 << 20

// methodFunc handles one unary JSON-RPC method.
type methodFunc func(ctx context.Context, params jsontext.Value) (any, error)

// Server implements the A2A protocol server.
type Server struct {
	taskManager  TaskManager
	agentCard    *a2a.AgentCard
	capabilities a2a.AgentCapabilities
	methods      map[string]methodFunc
	router       chi.Router

	jwks            http.Handler
	metrics         http.Handler
	maxRequestBytes int64

	logger *slog.Logger
	tracer trace.Tracer
}

var _ http.Handler = (*Server)(nil)

// Config holds configuration for the A2A server.
type Config struct {
	// AgentCard represents metadata about the agent.
	AgentCard *a2a.AgentCard
	// TaskManager is the task management implementation.
	TaskManager TaskManager
	// EnableStreaming enables tasks/sendSubscribe and tasks/resubscribe.
	EnableStreaming bool
	// EnablePushNotifications enables tasks/pushNotification endpoints.
	EnablePushNotifications bool
	// EnableStateHistory advertises state transition history.
	EnableStateHistory bool
}

// NewServer creates a new A2A server instance with the provided configuration.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if cfg.AgentCard == nil {
		return nil, errors.New("agent card is required")
	}
	if cfg.TaskManager == nil {
		return nil, errors.New("task manager is required")
	}

	// Update agent card with actual capabilities.
	card := *cfg.AgentCard
	card.Capabilities = a2a.AgentCapabilities{
		Streaming:              cfg.EnableStreaming,
		PushNotifications:      cfg.EnablePushNotifications,
		StateTransitionHistory: cfg.EnableStateHistory,
	}

	s := &Server{
		taskManager:     cfg.TaskManager,
		agentCard:       &card,
		capabilities:    card.Capabilities,
		maxRequestBytes: DefaultMaxRequestBytes,
		logger:          slog.Default(),
		tracer:          otel.Tracer(telemetry.InstrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerMethods()
	s.router = s.routes()

	return s, nil
}

// AgentCard returns the agent card served by s.
func (s *Server) AgentCard() *a2a.AgentCard {
	return s.agentCard
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get(AgentCardPath, s.handleAgentCard)
	if s.jwks != nil {
		r.Method(http.MethodGet, JWKSPath, s.jwks)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.metrics)
	}
	r.Post("/", s.handleJSONRPC)

	return r
}

func (s *Server) registerMethods() {
	s.methods = map[string]methodFunc{
		a2a.MethodTasksSend: func(ctx context.Context, raw jsontext.Value) (any, error) {
			params, err := decodeParams[a2a.TaskSendParams](raw)
			if err != nil {
				return nil, err
			}
			return s.taskManager.OnSendTask(ctx, &params)
		},
		a2a.MethodTasksGet: func(ctx context.Context, raw jsontext.Value) (any, error) {
			params, err := decodeParams[a2a.TaskQueryParams](raw)
			if err != nil {
				return nil, err
			}
			return s.taskManager.OnGetTask(ctx, params)
		},
		a2a.MethodTasksCancel: func(ctx context.Context, raw jsontext.Value) (any, error) {
			params, err := decodeParams[a2a.TaskIDParams](raw)
			if err != nil {
				return nil, err
			}
			return s.taskManager.OnCancelTask(ctx, params)
		},
		a2a.MethodTasksPushNotificationSet: func(ctx context.Context, raw jsontext.Value) (any, error) {
			if !s.capabilities.PushNotifications {
				return nil, a2a.NewPushNotificationNotSupportedError()
			}
			params, err := decodeParams[a2a.TaskPushNotificationConfig](raw)
			if err != nil {
				return nil, err
			}
			return s.taskManager.OnSetTaskPushNotification(ctx, params)
		},
		a2a.MethodTasksPushNotificationGet: func(ctx context.Context, raw jsontext.Value) (any, error) {
			if !s.capabilities.PushNotifications {
				return nil, a2a.NewPushNotificationNotSupportedError()
			}
			params, err := decodeParams[a2a.TaskIDParams](raw)
			if err != nil {
				return nil, err
			}
			return s.taskManager.OnGetTaskPushNotification(ctx, params)
		},
	}
}

// handleAgentCard serves the agent card.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.agentCard)
}

// handleJSONRPC decodes a JSON-RPC request and dispatches it.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestBytes))
	if err != nil {
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(nil, a2a.NewParseError(err)))
		return
	}

	var req a2a.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.WarnContext(r.Context(), "invalid json-rpc payload", "error", err)
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(nil, a2a.NewParseError(err)))
		return
	}
	if req.JSONRPC != a2a.JSONRPCVersion || req.Method == "" {
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewInvalidRequestError(errors.New("jsonrpc must be \"2.0\" and method must be set"))))
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "a2a.server."+req.Method,
		trace.WithAttributes(telemetry.AttrMethod.String(req.Method)))
	defer span.End()
	r = r.WithContext(ctx)

	switch req.Method {
	case a2a.MethodTasksSendSubscribe, a2a.MethodTasksResubscribe:
		s.handleStream(w, r, &req)
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewMethodNotFoundError(req.Method)))
		return
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		s.logger.DebugContext(ctx, "json-rpc method failed", "method", req.Method, "error", err)
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(req.ID, a2a.AsJSONRPCError(err)))
		return
	}
	s.writeJSON(w, r, a2a.NewJSONRPCResponse(req.ID, result))
}

// handleStream answers tasks/sendSubscribe and tasks/resubscribe. Errors
// raised before the stream opens are sent as a plain JSON-RPC response.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest) {
	ctx := r.Context()

	if !s.capabilities.Streaming {
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewUnsupportedOperationError()))
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewInternalError(errStreamingUnsupported.Error())))
		return
	}

	events, err := s.openStream(ctx, req)
	if err != nil {
		s.writeJSON(w, r, a2a.NewJSONRPCErrorResponse(req.ID, a2a.AsJSONRPCError(err)))
		return
	}

	stream, err := NewStream(w)
	if err != nil {
		// Flusher support was checked above.
		s.logger.ErrorContext(ctx, "failed to open stream", "error", err)
		return
	}

	for ev := range events {
		if err := stream.Send(a2a.NewStreamingResponse(req.ID, ev)); err != nil {
			s.logger.InfoContext(ctx, "stream client went away", "task_id", ev.GetTaskID(), "error", err)
			return
		}
	}
}

func (s *Server) openStream(ctx context.Context, req *a2a.JSONRPCRequest) (iter.Seq[a2a.Event], error) {
	switch req.Method {
	case a2a.MethodTasksSendSubscribe:
		params, err := decodeParams[a2a.TaskSendParams](req.Params)
		if err != nil {
			return nil, err
		}
		return s.taskManager.OnSendTaskSubscribe(ctx, &params)
	default:
		params, err := decodeParams[a2a.TaskQueryParams](req.Params)
		if err != nil {
			return nil, err
		}
		return s.taskManager.OnResubscribeToTask(ctx, params)
	}
}

// writeJSON writes v as the JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	buf := pool.Bytes.Get()
	defer pool.Bytes.Put(buf)

	if err := json.MarshalWrite(buf, v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.DebugContext(r.Context(), "failed to write response", "error", err)
	}
}

// decodeParams decodes raw JSON-RPC params into a T.
func decodeParams[T any](raw jsontext.Value) (T, error) {
	var params T
	if len(raw) == 0 {
		return params, &a2a.JSONRPCError{Code: a2a.CodeInvalidParams, Message: a2a.ErrInvalidParams.Message, Data: "params are required"}
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, &a2a.JSONRPCError{Code: a2a.CodeInvalidParams, Message: a2a.ErrInvalidParams.Message, Data: err.Error()}
	}
	return params, nil
}
