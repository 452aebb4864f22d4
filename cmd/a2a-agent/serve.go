// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/agent"
	"github.com/go-a2a/a2a-coordinator/internal/config"
	"github.com/go-a2a/a2a-coordinator/internal/telemetry"
	"github.com/go-a2a/a2a-coordinator/server"
	"github.com/go-a2a/a2a-coordinator/server/event"
	"github.com/go-a2a/a2a-coordinator/server/push"
	"github.com/go-a2a/a2a-coordinator/server/task"
)

func newServeCommand(configPath *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured agent over A2A",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, config.NewLogger(cfg.Log, os.Stderr))
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides server.port)")

	return cmd
}

// serve runs the agent server until ctx is done, then shuts it down.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           h2c.NewHandler(a.handler, &http2.Server{}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(ctx, "starting server", "addr", srv.Addr, "agent", cfg.Agent.Kind, "url", cfg.Server.URL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		return errors.Join(srv.Shutdown(shutdownCtx), a.shutdown(shutdownCtx))
	})
	return g.Wait()
}

// app is the wired agent server.
type app struct {
	handler    http.Handler
	manager    *server.AgentTaskManager
	dispatcher *push.Dispatcher
	provider   *telemetry.Provider
	closers    []func() error
}

// newApp builds the agent, the coordinator around it and the HTTP handler
// exposing both.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	backend, err := a.newAgent(ctx, cfg.Agent, logger)
	if err != nil {
		return nil, err
	}

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxRequestBytes(cfg.Server.MaxRequestBytes),
	}

	metrics := telemetry.NewMetrics(nil)
	if cfg.Metrics.Enabled {
		provider, err := telemetry.NewPrometheusProvider()
		if err != nil {
			return nil, err
		}
		a.provider = provider
		metrics = telemetry.NewMetrics(provider.Meter())
		serverOpts = append(serverOpts, server.WithMetricsHandler(provider.Handler()))
	}

	store := task.NewInMemoryStore(task.WithMaxTerminalTasks(cfg.Store.MaxTerminalTasks))
	queues := event.NewRegistry(
		event.WithHighWaterMark(cfg.Queue.HighWaterMark),
		event.WithLogger(logger),
	)

	manager, err := server.NewAgentTaskManager(store, queues, backend)
	if err != nil {
		return nil, err
	}
	manager.WithLogger(logger).WithMetrics(metrics)
	a.manager = manager

	if cfg.Push.Enabled {
		signer, err := push.NewSigner()
		if err != nil {
			return nil, err
		}
		a.dispatcher = push.NewDispatcher(signer,
			push.WithTimeout(cfg.Push.Timeout),
			push.WithVerifyCache(cfg.Push.VerifyCacheSize, cfg.Push.VerifyCacheTTL),
			push.WithLogger(logger),
			push.WithMetrics(metrics),
		)
		manager.WithNotifier(a.dispatcher)
		serverOpts = append(serverOpts, server.WithJWKS(signer.JWKSHandler()))
	}

	srv, err := server.NewServer(server.Config{
		AgentCard:               newAgentCard(cfg, backend),
		TaskManager:             manager,
		EnableStreaming:         true,
		EnablePushNotifications: cfg.Push.Enabled,
	}, serverOpts...)
	if err != nil {
		return nil, err
	}
	a.handler = srv

	return a, nil
}

// newAgent creates the agent selected by cfg.Kind.
func (a *app) newAgent(ctx context.Context, cfg config.Agent, logger *slog.Logger) (agent.Agent, error) {
	switch strings.ToLower(cfg.Kind) {
	case config.AgentSQL:
		sqlAgent, err := agent.OpenSQLAgent(cfg.DSN,
			agent.WithMaxRows(cfg.MaxRows),
			agent.WithSQLLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlAgent.Close)
		return sqlAgent, nil

	case config.AgentSearch:
		docs, err := agent.LoadCorpus(cfg.Corpus)
		if err != nil {
			return nil, err
		}
		return agent.NewSearchAgent(ctx, docs, agent.WithSearchLogger(logger))

	default:
		return agent.Echo(), nil
	}
}

// shutdown waits for running tasks and pending notifications, then releases
// the agent and flushes metrics.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.manager.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for tasks: %w", err))
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newAgentCard describes the configured agent.
func newAgentCard(cfg *config.Config, backend agent.Agent) *a2a.AgentCard {
	modes := backend.SupportedContentTypes()
	return &a2a.AgentCard{
		Name:               cfg.Agent.Name,
		Description:        cfg.Agent.Description,
		URL:                cfg.Server.URL(),
		Version:            cfg.Agent.Version,
		DefaultInputModes:  modes,
		DefaultOutputModes: modes,
		Skills:             []a2a.AgentSkill{agentSkill(cfg.Agent.Kind)},
	}
}

func agentSkill(kind string) a2a.AgentSkill {
	switch strings.ToLower(kind) {
	case config.AgentSQL:
		return a2a.AgentSkill{
			ID:          "sql_query",
			Name:        "SQL query",
			Description: "Runs read-only SELECT statements against a SQLite database",
			Tags:        []string{"sql", "sqlite"},
			Examples:    []string{"SELECT name FROM sqlite_master"},
		}
	case config.AgentSearch:
		return a2a.AgentSkill{
			ID:          "document_search",
			Name:        "Document search",
			Description: "Answers with the passage of its corpus closest to the question",
			Tags:        []string{"search"},
		}
	default:
		return a2a.AgentSkill{
			ID:          "echo",
			Name:        "Echo",
			Description: "Completes every task with the message it was sent",
			Tags:        []string{"echo"},
			Examples:    []string{"hello"},
		}
	}
}
