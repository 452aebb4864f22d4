// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-json-experiment/json"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/internal/pool"
)

var errStreamingUnsupported = errors.New("response writer does not support streaming")

// Stream represents a Server-Sent Events (SSE) connection carrying JSON-RPC
// responses, one per data frame.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream checks that w can be flushed and writes the SSE headers.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // For Nginx proxy
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, flusher: flusher}, nil
}

// Send writes resp as one data frame and flushes it to the client.
func (s *Stream) Send(resp *a2a.JSONRPCResponse) error {
	buf := pool.Bytes.Get()
	defer pool.Bytes.Put(buf)

	if err := json.MarshalWrite(buf, resp); err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()

	return nil
}
