package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
)

type queryTraceKey struct{}

type queryTrace struct {
	span    *sentry.Span
	sql     string
	started time.Time
}

// queryTracer opens a Sentry span per statement when the caller is already traced
// and reports statements slower than slowThreshold.
type queryTracer struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

func newQueryTracer(logger *slog.Logger, slowThreshold time.Duration) *queryTracer {
	return &queryTracer{logger: logger, slowThreshold: slowThreshold}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	trace := &queryTrace{
		sql:     compactSQL(data.SQL),
		started: time.Now(),
	}

	if sentry.SpanFromContext(ctx) != nil {
		span := sentry.StartSpan(
			ctx,
			"db.sql.query",
			sentry.WithDescription(trace.sql),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		span.SetData("db.system", "postgresql")
		if verb := sqlVerb(trace.sql); verb != "" {
			span.SetData("db.operation", verb)
		}
		trace.span = span
		ctx = span.Context()
	}

	return context.WithValue(ctx, queryTraceKey{}, trace)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, _ := ctx.Value(queryTraceKey{}).(*queryTrace)
	if trace == nil {
		return
	}

	elapsed := time.Since(trace.started)
	if t.logger != nil && t.slowThreshold > 0 && elapsed >= t.slowThreshold {
		t.logger.Warn("slow query",
			"operation", sqlVerb(trace.sql),
			"duration_ms", elapsed.Milliseconds(),
			"rows_affected", data.CommandTag.RowsAffected(),
		)
	}

	if trace.span == nil {
		return
	}
	if data.Err != nil {
		trace.span.Status = sentry.SpanStatusInternalError
		trace.span.SetData("db.error", data.Err.Error())
	} else {
		trace.span.Status = sentry.SpanStatusOK
		trace.span.SetData("db.rows_affected", data.CommandTag.RowsAffected())
	}
	trace.span.Finish()
}

func compactSQL(query string) string {
	compact := strings.Join(strings.Fields(query), " ")
	if compact == "" {
		return "sql.query"
	}
	const maxLen = 512
	if len(compact) > maxLen {
		return compact[:maxLen]
	}
	return compact
}

func sqlVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
