// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the capability interface the task manager drives and
// the agent variants shipped with the coordinator.
package agent

import (
	"context"
	"iter"
)

// DefaultContentTypes are the output modes of the agents in this package.
var DefaultContentTypes = []string{"text", "text/plain"}

// Response is one result produced by an agent, either the single result of
// Invoke or one increment of Stream.
type Response struct {
	// Content is the text produced by the agent.
	Content string

	// IsTaskComplete reports whether the task is done.
	IsTaskComplete bool

	// RequireUserInput reports whether the agent needs another message
	// from the client.
	RequireUserInput bool

	// Error is a failure the agent reports as content instead of raising.
	Error string
}

// Normalize maps a response carrying Error onto a request for user input
// whose content is the error text.
func (r Response) Normalize() Response {
	if r.Error == "" {
		return r
	}
	return Response{
		Content:          "Error: " + r.Error,
		RequireUserInput: true,
	}
}

// Agent is the capability interface the task manager drives.
//
// Invoke returns the agent's answer to query. Stream yields increments that
// end after the first item that is complete or requires user input. An error
// returned by either is an agent fault, distinct from [Response.Error].
type Agent interface {
	Invoke(ctx context.Context, query, sessionID string) (Response, error)
	Stream(ctx context.Context, query, sessionID string) iter.Seq2[Response, error]
	SupportedContentTypes() []string
}

// ProcessResult turns the raw outcome of an agent run into a [Response]:
// an error becomes an input request carrying the error text, a non-empty
// output completes the task, and anything else asks the user to rephrase
// with fallback as content.
func ProcessResult(output string, err error, fallback string) Response {
	switch {
	case err != nil:
		return Response{Error: err.Error()}.Normalize()
	case output != "":
		return Response{Content: output, IsTaskComplete: true}
	default:
		return Response{Content: fallback, RequireUserInput: true}
	}
}
