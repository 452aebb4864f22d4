// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/internal/pool"
	"github.com/go-a2a/a2a-coordinator/internal/telemetry"
)

const (
	// ValidationTokenParam is the query parameter carrying the token a
	// webhook must echo to prove it accepts notifications.
	ValidationTokenParam = "validationToken"

	// NotificationTokenHeader carries the client supplied token of a
	// push config back to the webhook.
	NotificationTokenHeader = "X-A2A-Notification-Token"

	defaultTimeout       = 10 * time.Second
	defaultVerifyEntries = 1024
	defaultVerifyTTL     = 10 * time.Minute
)

// Dispatcher verifies webhook URLs and delivers signed task snapshots to
// them. Deliveries are fire-and-forget.
type Dispatcher struct {
	signer  *Signer
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics

	verified  *lru.Cache[string, time.Time]
	verifyTTL time.Duration
	now       func() time.Time

	// mu orders registering a delivery against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for verification and delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// WithTimeout bounds each verification and delivery request.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithLogger sets the [*slog.Logger] for the Dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the instruments recording delivery outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithVerifyCache sets how many verified URLs are remembered and for how
// long. A ttl of zero or less disables the cache.
func WithVerifyCache(size int, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.verifyTTL = ttl
		if size <= 0 || ttl <= 0 {
			d.verified = nil
			return
		}
		// lru.New only errors on non-positive size which is guarded above.
		d.verified, _ = lru.New[string, time.Time](size)
	}
}

// NewDispatcher returns a Dispatcher signing notifications with signer.
func NewDispatcher(signer *Signer, opts ...Option) *Dispatcher {
	verified, _ := lru.New[string, time.Time](defaultVerifyEntries)
	d := &Dispatcher{
		signer:    signer,
		client:    &http.Client{},
		timeout:   defaultTimeout,
		logger:    slog.Default(),
		verified:  verified,
		verifyTTL: defaultVerifyTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = telemetry.NewMetrics(nil)
	}
	return d
}

// Signer returns the signer of the Dispatcher.
func (d *Dispatcher) Signer() *Signer {
	return d.signer
}

// VerifyURL reports whether the webhook at rawURL echoes a fresh
// validation token. Any transport error, non-200 status or mismatching body
// counts as a failure.
func (d *Dispatcher) VerifyURL(ctx context.Context, rawURL string) bool {
	if d.isVerified(rawURL) {
		d.metrics.PushVerification(ctx, telemetry.OutcomeCached)
		return true
	}

	ok := d.verify(ctx, rawURL)
	if ok {
		d.metrics.PushVerification(ctx, telemetry.OutcomeVerified)
		if d.verified != nil {
			d.verified.Add(rawURL, d.now())
		}
	} else {
		d.metrics.PushVerification(ctx, telemetry.OutcomeRejected)
	}
	return ok
}

func (d *Dispatcher) isVerified(rawURL string) bool {
	if d.verified == nil {
		return false
	}
	at, ok := d.verified.Get(rawURL)
	if !ok {
		return false
	}
	if d.now().Sub(at) >= d.verifyTTL {
		d.verified.Remove(rawURL)
		return false
	}
	return true
}

func (d *Dispatcher) verify(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		d.logger.WarnContext(ctx, "invalid push notification url", "url", rawURL)
		return false
	}

	token := uuid.NewString()
	q := u.Query()
	q.Set(ValidationTokenParam, token)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		d.logger.WarnContext(ctx, "failed to create verification request", "url", rawURL, "error", err)
		return false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.WarnContext(ctx, "error verifying push notification url", "url", rawURL, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.WarnContext(ctx, "push notification url rejected verification", "url", rawURL, "status", resp.StatusCode)
		return false
	}

	// The echo is a bare token; anything much longer is not an echo.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(len(token))+1))
	if err != nil {
		d.logger.WarnContext(ctx, "failed to read verification response", "url", rawURL, "error", err)
		return false
	}

	if string(body) != token {
		d.logger.WarnContext(ctx, "push notification url did not echo validation token", "url", rawURL)
		return false
	}

	d.logger.InfoContext(ctx, "verified push notification url", "url", rawURL)
	return true
}

// Notify delivers a snapshot of task to cfg.URL in the background. It is a
// no-op when cfg is nil or the Dispatcher is closed. Failures are logged and
// never retried.
func (d *Dispatcher) Notify(ctx context.Context, task *a2a.Task, cfg *a2a.PushNotificationConfig) {
	if cfg == nil || task == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.WarnContext(ctx, "dropping push notification after close", "task_id", task.ID, "url", cfg.URL)
		d.metrics.PushDelivery(ctx, telemetry.OutcomeRejected)
		return
	}

	buf := pool.Bytes.Get()
	if err := json.MarshalWrite(buf, task); err != nil {
		pool.Bytes.Put(buf)
		d.logger.ErrorContext(ctx, "failed to encode push notification", "task_id", task.ID, "error", err)
		d.metrics.PushDelivery(ctx, telemetry.OutcomeFailed)
		return
	}

	d.logger.InfoContext(ctx, "notifying task", "task_id", task.ID, "state", task.Status.State, "url", cfg.URL)

	ctx = context.WithoutCancel(ctx)
	taskID := task.ID
	target := *cfg
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer pool.Bytes.Put(buf)

		outcome := telemetry.OutcomeDelivered
		if err := d.deliver(ctx, &target, buf.Bytes()); err != nil {
			outcome = telemetry.OutcomeFailed
			d.logger.WarnContext(ctx, "error during sending push notification", "task_id", taskID, "url", target.URL, "error", err)
		} else {
			d.logger.DebugContext(ctx, "push notification sent", "task_id", taskID, "url", target.URL)
		}
		d.metrics.PushDelivery(ctx, outcome)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, cfg *a2a.PushNotificationConfig, body []byte) error {
	token, err := d.signer.Sign(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if cfg.Token != "" {
		req.Header.Set(NotificationTokenHeader, cfg.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-OK response: %d %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// Wait blocks until every in-flight delivery has finished. It must not run
// concurrently with Notify; use Close at shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting notifications and waits for in-flight deliveries.
// Notify calls after Close are dropped. Close is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}
