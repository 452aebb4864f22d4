// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Interceptor defines a middleware function that can intercept and modify requests/responses.
type Interceptor func(ctx context.Context, req *http.Request, invoker Invoker) (*http.Response, error)

// Invoker represents the next handler in the interceptor chain.
type Invoker func(ctx context.Context, req *http.Request) (*http.Response, error)

// chainInterceptors chains multiple interceptors together. The first
// interceptor is the outermost.
func chainInterceptors(interceptors []Interceptor, invoker Invoker) Invoker {
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := invoker
		invoker = func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return interceptor(ctx, req, next)
		}
	}
	return invoker
}

// LoggingInterceptor logs requests and responses at debug level.
func LoggingInterceptor(logger *slog.Logger) Interceptor {
	return func(ctx context.Context, req *http.Request, invoker Invoker) (*http.Response, error) {
		start := time.Now()
		resp, err := invoker(ctx, req)
		if err != nil {
			logger.DebugContext(ctx, "a2a request failed", "url", req.URL.String(), "error", err)
			return resp, err
		}
		logger.DebugContext(ctx, "a2a request", "url", req.URL.String(), "status", resp.StatusCode, "elapsed", time.Since(start))
		return resp, nil
	}
}

// HeaderInterceptor adds custom headers to requests.
func HeaderInterceptor(headers map[string]string) Interceptor {
	return func(ctx context.Context, req *http.Request, invoker Invoker) (*http.Response, error) {
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		return invoker(ctx, req)
	}
}

// BearerTokenInterceptor authenticates requests with a bearer token.
func BearerTokenInterceptor(token string) Interceptor {
	return HeaderInterceptor(map[string]string{"Authorization": "Bearer " + token})
}
