// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"iter"
	"slices"
)

// Func adapts a plain function to the [Agent] interface. Its stream yields
// the single result of the function.
type Func func(ctx context.Context, query, sessionID string) (Response, error)

var _ Agent = Func(nil)

// Invoke implements [Agent].
func (f Func) Invoke(ctx context.Context, query, sessionID string) (Response, error) {
	resp, err := f(ctx, query, sessionID)
	if err != nil {
		return Response{}, err
	}
	return resp.Normalize(), nil
}

// Stream implements [Agent].
func (f Func) Stream(ctx context.Context, query, sessionID string) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		yield(f.Invoke(ctx, query, sessionID))
	}
}

// SupportedContentTypes implements [Agent].
func (Func) SupportedContentTypes() []string {
	return slices.Clone(DefaultContentTypes)
}

// Echo returns an agent that completes every task with the query itself.
func Echo() Func {
	return func(_ context.Context, query, _ string) (Response, error) {
		return ProcessResult(query, nil, ""), nil
	}
}
