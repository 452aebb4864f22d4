// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider is a meter provider whose instruments are scraped through a
// Prometheus handler.
type Provider struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
}

// NewPrometheusProvider creates a meter provider backed by its own
// Prometheus registry.
func NewPrometheusProvider() (*Provider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return &Provider{
		registry: registry,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
	}, nil
}

// MeterProvider returns the underlying OpenTelemetry meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.provider
}

// Meter returns the coordinator's meter.
func (p *Provider) Meter() metric.Meter {
	return p.provider.Meter(InstrumentationName)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
