// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"errors"
	"fmt"
)

// JSON-RPC and A2A error codes.
const (
	CodeParseError                   = -32700
	CodeInvalidRequest               = -32600
	CodeMethodNotFound               = -32601
	CodeInvalidParams                = -32602
	CodeInternalError                = -32603
	CodeTaskNotFound                 = -32001
	CodeTaskNotCancelable            = -32002
	CodePushNotificationNotSupported = -32003
	CodeUnsupportedOperation         = -32004
	CodeContentTypeNotSupported      = -32005
)

// JSONRPCError represents a JSON-RPC 2.0 error object. It is also the error
// value returned by task manager operations that fail at the protocol level.
type JSONRPCError struct {
	// Code is the error code.
	Code int `json:"code"`
	// Message is a short description of the error.
	Message string `json:"message"`
	// Data contains optional additional error details.
	Data any `json:"data,omitzero"`
}

// Error implements error.
func (e *JSONRPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Is reports whether target is a *JSONRPCError with the same code.
func (e *JSONRPCError) Is(target error) bool {
	t, ok := target.(*JSONRPCError)
	return ok && t.Code == e.Code
}

// Sentinel values usable with errors.Is; they match on Code only.
var (
	ErrParse                        = &JSONRPCError{Code: CodeParseError, Message: "Invalid JSON payload"}
	ErrInvalidRequest               = &JSONRPCError{Code: CodeInvalidRequest, Message: "Request payload validation error"}
	ErrMethodNotFound               = &JSONRPCError{Code: CodeMethodNotFound, Message: "Method not found"}
	ErrInvalidParams                = &JSONRPCError{Code: CodeInvalidParams, Message: "Invalid parameters"}
	ErrInternal                     = &JSONRPCError{Code: CodeInternalError, Message: "Internal error"}
	ErrTaskNotFound                 = &JSONRPCError{Code: CodeTaskNotFound, Message: "Task not found"}
	ErrTaskNotCancelable            = &JSONRPCError{Code: CodeTaskNotCancelable, Message: "Task cannot be canceled"}
	ErrPushNotificationNotSupported = &JSONRPCError{Code: CodePushNotificationNotSupported, Message: "Push Notification is not supported"}
	ErrUnsupportedOperation         = &JSONRPCError{Code: CodeUnsupportedOperation, Message: "This operation is not supported"}
	ErrContentTypeNotSupported      = &JSONRPCError{Code: CodeContentTypeNotSupported, Message: "Incompatible content types"}
)

// NewParseError returns a parse error carrying cause as data.
func NewParseError(cause error) *JSONRPCError {
	return &JSONRPCError{Code: CodeParseError, Message: ErrParse.Message, Data: errString(cause)}
}

// NewInvalidRequestError returns an invalid request error carrying cause as data.
func NewInvalidRequestError(cause error) *JSONRPCError {
	return &JSONRPCError{Code: CodeInvalidRequest, Message: ErrInvalidRequest.Message, Data: errString(cause)}
}

// NewMethodNotFoundError returns a method not found error.
func NewMethodNotFoundError(method string) *JSONRPCError {
	return &JSONRPCError{Code: CodeMethodNotFound, Message: ErrMethodNotFound.Message, Data: method}
}

// NewInvalidParamsError returns an invalid params error with the given message.
func NewInvalidParamsError(message string) *JSONRPCError {
	return &JSONRPCError{Code: CodeInvalidParams, Message: message}
}

// NewInternalError returns an internal error with the given message.
func NewInternalError(message string) *JSONRPCError {
	return &JSONRPCError{Code: CodeInternalError, Message: message}
}

// NewTaskNotFoundError returns a task not found error for taskID.
func NewTaskNotFoundError(taskID string) *JSONRPCError {
	return &JSONRPCError{Code: CodeTaskNotFound, Message: ErrTaskNotFound.Message, Data: taskID}
}

// NewTaskNotCancelableError returns a task not cancelable error for taskID.
func NewTaskNotCancelableError(taskID string) *JSONRPCError {
	return &JSONRPCError{Code: CodeTaskNotCancelable, Message: ErrTaskNotCancelable.Message, Data: taskID}
}

// NewPushNotificationNotSupportedError returns a push notification not supported error.
func NewPushNotificationNotSupportedError() *JSONRPCError {
	return &JSONRPCError{Code: CodePushNotificationNotSupported, Message: ErrPushNotificationNotSupported.Message}
}

// NewUnsupportedOperationError returns an unsupported operation error.
func NewUnsupportedOperationError() *JSONRPCError {
	return &JSONRPCError{Code: CodeUnsupportedOperation, Message: ErrUnsupportedOperation.Message}
}

// NewContentTypeNotSupportedError returns a content type not supported error.
func NewContentTypeNotSupportedError() *JSONRPCError {
	return &JSONRPCError{Code: CodeContentTypeNotSupported, Message: ErrContentTypeNotSupported.Message}
}

// AsJSONRPCError converts err into a *JSONRPCError. Errors that are not
// already protocol errors become internal errors.
func AsJSONRPCError(err error) *JSONRPCError {
	if err == nil {
		return nil
	}
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewInternalError(err.Error())
}

func errString(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
