// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// JSONRPCVersion is the only JSON-RPC version spoken by A2A.
const JSONRPCVersion = "2.0"

// A2A RPC method names.
const (
	// MethodTasksSend is the method name for sending a task.
	MethodTasksSend = "tasks/send"
	// MethodTasksGet is the method name for getting a task.
	MethodTasksGet = "tasks/get"
	// MethodTasksCancel is the method name for canceling a task.
	MethodTasksCancel = "tasks/cancel"
	// MethodTasksPushNotificationSet is the method name for setting push notification configuration.
	MethodTasksPushNotificationSet = "tasks/pushNotification/set"
	// MethodTasksPushNotificationGet is the method name for getting push notification configuration.
	MethodTasksPushNotificationGet = "tasks/pushNotification/get"
	// MethodTasksSendSubscribe is the method name for sending a task and subscribing to updates.
	MethodTasksSendSubscribe = "tasks/sendSubscribe"
	// MethodTasksResubscribe is the method name for resubscribing to task updates.
	MethodTasksResubscribe = "tasks/resubscribe"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	// JSONRPC version, always "2.0".
	JSONRPC string `json:"jsonrpc"`
	// ID is a string, a number or null. Numbers decode as float64.
	ID any `json:"id,omitzero"`
	// Method identifies the operation to perform.
	Method string `json:"method"`
	// Params holds the raw parameters of the method.
	Params jsontext.Value `json:"params,omitzero"`
}

// NewJSONRPCRequest marshals params into a new [JSONRPCRequest].
func NewJSONRPCRequest(id any, method string, params any) (*JSONRPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}, nil
}

// JSONRPCResponse represents a JSON-RPC 2.0 response. Exactly one of Result
// and Error is set.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitzero"`
	Error   *JSONRPCError `json:"error,omitzero"`
}

// NewJSONRPCResponse returns a successful response.
func NewJSONRPCResponse(id, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewJSONRPCErrorResponse returns an error response.
func NewJSONRPCErrorResponse(id any, err *JSONRPCError) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

// NewStreamingResponse wraps ev as the JSON-RPC response sent for one SSE frame.
func NewStreamingResponse(id any, ev Event) *JSONRPCResponse {
	if e, ok := ev.(*TaskErrorEvent); ok {
		return NewJSONRPCErrorResponse(id, e.Error)
	}
	return NewJSONRPCResponse(id, ev)
}

// TaskResponse is a JSON-RPC response whose result is a [Task].
type TaskResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  *Task         `json:"result,omitzero"`
	Error   *JSONRPCError `json:"error,omitzero"`
}

// TaskPushNotificationResponse is a JSON-RPC response whose result is a
// [TaskPushNotificationConfig].
type TaskPushNotificationResponse struct {
	JSONRPC string                      `json:"jsonrpc"`
	ID      any                         `json:"id"`
	Result  *TaskPushNotificationConfig `json:"result,omitzero"`
	Error   *JSONRPCError               `json:"error,omitzero"`
}

// StreamingResponse is a JSON-RPC response received on an SSE stream. Its
// result is either a status update or an artifact update.
type StreamingResponse struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *JSONRPCError  `json:"error,omitzero"`
}

// Event decodes the result of r into a typed [Event]. Error responses
// decode to a [*TaskErrorEvent] for taskID.
func (r *StreamingResponse) Event(taskID string) (Event, error) {
	if r.Error != nil {
		return &TaskErrorEvent{ID: taskID, Error: r.Error}, nil
	}

	var probe struct {
		Artifact jsontext.Value `json:"artifact"`
	}
	if err := json.Unmarshal(r.Result, &probe); err != nil {
		return nil, err
	}

	if len(probe.Artifact) > 0 {
		var ev TaskArtifactUpdateEvent
		if err := json.Unmarshal(r.Result, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	}

	var ev TaskStatusUpdateEvent
	if err := json.Unmarshal(r.Result, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
