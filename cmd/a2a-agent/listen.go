// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/internal/config"
	"github.com/go-a2a/a2a-coordinator/server"
	"github.com/go-a2a/a2a-coordinator/server/push"
)

func newListenCommand() *cobra.Command {
	var (
		addr     string
		agentURL string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive push notifications from an A2A agent",
		Long: `listen runs a webhook for A2A push notifications. It answers URL
verification requests and checks the signature of every notification
against the key set the agent publishes at ` + server.JWKSPath + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := config.NewLogger(config.Log{Level: logLevel, Format: "text"}, os.Stderr)
			verifier := push.NewVerifier(strings.TrimRight(agentURL, "/") + server.JWKSPath)
			return listen(cmd.Context(), addr, newReceiver(verifier, logger, cmd.OutOrStdout()), logger)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:10001", "Listen address of the webhook")
	cmd.Flags().StringVarP(&agentURL, "agent-url", "u", "http://localhost:10000", "Base URL of the agent publishing the key set")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

func listen(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(ctx, "listening for push notifications", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// receiver is a push notification webhook.
type receiver struct {
	verifier *push.Verifier
	logger   *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// newReceiver returns the webhook handler. Verified notifications are
// printed to out, one line per task snapshot.
func newReceiver(verifier *push.Verifier, logger *slog.Logger, out io.Writer) http.Handler {
	rc := &receiver{verifier: verifier, logger: logger, out: out}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/*", rc.handleValidation)
	r.Post("/*", rc.handleNotification)
	return r
}

// handleValidation echoes the validation token of a URL verification request.
func (rc *receiver) handleValidation(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(push.ValidationTokenParam)
	if token == "" {
		http.Error(w, "missing "+push.ValidationTokenParam, http.StatusBadRequest)
		return
	}
	rc.logger.InfoContext(r.Context(), "push url verification")
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, token)
}

func (rc *receiver) handleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := rc.verifier.VerifyRequest(r)
	if err != nil {
		rc.logger.WarnContext(ctx, "rejected push notification", "error", err)
		http.Error(w, "invalid notification", http.StatusUnauthorized)
		return
	}

	var t a2a.Task
	if err := json.Unmarshal(body, &t); err != nil {
		rc.logger.WarnContext(ctx, "malformed push notification", "error", err)
		http.Error(w, "malformed notification", http.StatusBadRequest)
		return
	}

	rc.logger.InfoContext(ctx, "push notification", "task_id", t.ID, "state", t.Status.State,
		"token", r.Header.Get(push.NotificationTokenHeader))

	rc.mu.Lock()
	fmt.Fprintf(rc.out, "%s ", t.ID)
	printStatus(rc.out, t.Status)
	rc.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}
