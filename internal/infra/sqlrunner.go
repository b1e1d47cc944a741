package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories depend on. *SQLRunner and
// test fakes implement it.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// Every inline query starts with a `--sql <uuid>` line. The runner strips it
// before execution and tags log lines with it, so a slow or failing statement
// in the logs points at exactly one constant in internal/sqlinline.
var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Statements slower than this log at warn level.
const slowQueryThreshold = 250 * time.Millisecond

type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := splitMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, body, args...)
	r.observe(marker, "exec", start, err)
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := splitMarker(query)
	if err != nil {
		return errRow{err: err}
	}
	return markedRow{row: r.Pool.QueryRow(ctx, body, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := splitMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, body, args...)
	if err != nil {
		r.observe(marker, "query", start, err)
		return nil, err
	}
	return markedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// observe writes one log line per statement: failed, slow, or debug.
// pgx.ErrNoRows is an expected outcome, not a failure.
func (r *SQLRunner) observe(marker, op string, start time.Time, err error) {
	elapsed := time.Since(start)
	switch {
	case err != nil && !IsNoRows(err):
		r.Logger.Error().Err(err).Str("marker", marker).Str("op", op).Dur("duration", elapsed).Msg("sql failed")
	case elapsed >= slowQueryThreshold:
		r.Logger.Warn().Str("marker", marker).Str("op", op).Dur("duration", elapsed).Msg("sql slow")
	default:
		r.Logger.Debug().Str("marker", marker).Str("op", op).Dur("duration", elapsed).Msg("sql ok")
	}
}

// markedRow defers its log line until Scan, when the round trip is complete.
type markedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (m markedRow) Scan(dest ...any) error {
	err := m.row.Scan(dest...)
	m.runner.observe(m.marker, "query_row", m.start, err)
	return err
}

type markedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
}

func (m markedRows) Close() {
	m.Rows.Close()
	m.runner.observe(m.marker, "query", m.start, m.Rows.Err())
}

type errRow struct {
	err error
}

func (e errRow) Scan(...any) error { return e.err }

// splitMarker validates the audit marker and returns it alongside the bare
// SQL the driver should see.
func splitMarker(query string) (marker, body string, err error) {
	trimmed := strings.TrimSpace(query)
	line, rest, _ := strings.Cut(trimmed, "\n")
	line = strings.TrimSpace(line)
	if !markerRegexp.MatchString(line) {
		return "", "", errors.New("infra: sql marker missing or invalid")
	}
	return strings.TrimPrefix(line, "--sql "), rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
