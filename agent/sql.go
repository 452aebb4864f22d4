// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"text/tabwriter"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultMaxRows is how many rows the SQL agent renders.
	DefaultMaxRows = 10

	sqlOnlySelect = "Only SELECT queries are allowed. Please rephrase your query."
	sqlNoResults  = "No results found. Please try a different query."
)

// SQLAgent answers read-only SQL queries against a SQLite database.
type SQLAgent struct {
	db      *sql.DB
	maxRows int
	logger  *slog.Logger
}

var _ Agent = (*SQLAgent)(nil)

// SQLOption configures a SQLAgent.
type SQLOption func(*SQLAgent)

// WithMaxRows sets how many rows are rendered per answer.
func WithMaxRows(n int) SQLOption {
	return func(a *SQLAgent) {
		if n > 0 {
			a.maxRows = n
		}
	}
}

// WithSQLLogger sets the [*slog.Logger] for the SQLAgent.
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(a *SQLAgent) {
		a.logger = logger
	}
}

// NewSQLAgent returns a SQLAgent querying db.
func NewSQLAgent(db *sql.DB, opts ...SQLOption) *SQLAgent {
	a := &SQLAgent{
		db:      db,
		maxRows: DefaultMaxRows,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OpenSQLAgent opens the SQLite database at dsn and returns a SQLAgent
// querying it. The caller is responsible for calling Close.
func OpenSQLAgent(dsn string, opts ...SQLOption) (*SQLAgent, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dsn, err)
	}
	return NewSQLAgent(db, opts...), nil
}

// Close releases the underlying database.
func (a *SQLAgent) Close() error {
	return a.db.Close()
}

// Invoke implements [Agent].
func (a *SQLAgent) Invoke(ctx context.Context, query, sessionID string) (Response, error) {
	a.logger.InfoContext(ctx, "invoking sql agent", "session_id", sessionID)

	if !isSelect(query) {
		return Response{Content: sqlOnlySelect, RequireUserInput: true}, nil
	}

	table, n, err := a.query(ctx, query)
	if err != nil {
		a.logger.ErrorContext(ctx, "sql agent error", "error", err)
		return Response{Error: err.Error()}.Normalize(), nil
	}
	if n == 0 {
		return Response{Content: sqlNoResults, RequireUserInput: true}, nil
	}
	return Response{Content: table, IsTaskComplete: true}, nil
}

// Stream implements [Agent].
func (a *SQLAgent) Stream(ctx context.Context, query, sessionID string) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		yield(a.Invoke(ctx, query, sessionID))
	}
}

// SupportedContentTypes implements [Agent].
func (a *SQLAgent) SupportedContentTypes() []string {
	return slices.Clone(DefaultContentTypes)
}

// query renders the first maxRows rows of query as an aligned text table
// and reports how many rows were rendered.
func (a *SQLAgent) query(ctx context.Context, query string) (string, int, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	cells := make([]string, len(cols))

	n := 0
	for n < a.maxRows && rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", 0, err
		}
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		n++
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}
	if err := tw.Flush(); err != nil {
		return "", 0, err
	}
	return strings.TrimRight(sb.String(), "\n"), n, nil
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// isSelect reports whether query is a single SELECT statement. Anything but
// semicolons and spaces after the first semicolon is a second statement.
func isSelect(query string) bool {
	q := strings.TrimSpace(query)
	if len(q) < len("select") || !strings.EqualFold(q[:len("select")], "select") {
		return false
	}
	if i := strings.IndexByte(q, ';'); i >= 0 && strings.TrimLeft(q[i:], "; \t\r\n") != "" {
		return false
	}
	return true
}
