// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Option represents an option for configuring the [HTTPClient].
type Option func(*HTTPClient)

// WithHTTPClient sets the [*http.Client] used to reach the agent.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the [*slog.Logger] for the [HTTPClient].
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// WithTracer sets the [trace.Tracer] for the [HTTPClient].
func WithTracer(tracer trace.Tracer) Option {
	return func(c *HTTPClient) {
		c.tracer = tracer
	}
}

// WithInterceptors appends interceptors wrapping every HTTP round trip.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(c *HTTPClient) {
		c.interceptors = append(c.interceptors, interceptors...)
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(c *HTTPClient) {
		c.userAgent = userAgent
	}
}
