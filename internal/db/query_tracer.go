package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
)

const maxTracedQueryLen = 512

// QueryObserver receives the outcome of every query. observability.Metrics
// satisfies it.
type QueryObserver interface {
	ObserveQuery(operation string, elapsed time.Duration, failed bool)
}

type queryTraceKey struct{}

type queryTrace struct {
	operation string
	startedAt time.Time
	span      *sentry.Span
}

// queryTracer times each statement for the observer and, when the caller is
// inside a Sentry transaction, records it as a db.query child span.
type queryTracer struct {
	observer QueryObserver
	now      func() time.Time
}

func newQueryTracer(observer QueryObserver) *queryTracer {
	return &queryTracer{observer: observer, now: time.Now}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	query := compactQuery(data.SQL)
	trace := &queryTrace{
		operation: statementVerb(query),
		startedAt: t.now(),
	}

	if sentry.SpanFromContext(ctx) != nil {
		trace.span = sentry.StartSpan(
			ctx,
			"db.query",
			sentry.WithDescription(query),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		trace.span.SetData("db.system", "postgresql")
		if trace.operation != "" {
			trace.span.SetData("db.operation", trace.operation)
		}
		ctx = trace.span.Context()
	}

	return context.WithValue(ctx, queryTraceKey{}, trace)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, _ := ctx.Value(queryTraceKey{}).(*queryTrace)
	if trace == nil {
		return
	}

	// Claim compare-and-set misses surface as ErrNoRows and are not failures.
	failed := data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows)
	if t.observer != nil {
		t.observer.ObserveQuery(trace.operation, t.now().Sub(trace.startedAt), failed)
	}

	if trace.span == nil {
		return
	}
	if failed {
		trace.span.Status = sentry.SpanStatusInternalError
		trace.span.SetData("db.error", data.Err.Error())
	} else {
		trace.span.Status = sentry.SpanStatusOK
	}
	if rows := data.CommandTag.RowsAffected(); rows >= 0 {
		trace.span.SetData("db.rows_affected", rows)
	}
	trace.span.Finish()
}

// compactQuery collapses whitespace so multi-line statements read as one line.
func compactQuery(query string) string {
	compact := strings.Join(strings.Fields(query), " ")
	if compact == "" {
		return "sql.query"
	}
	if len(compact) > maxTracedQueryLen {
		return compact[:maxTracedQueryLen]
	}
	return compact
}

// statementVerb returns the leading keyword, looking past a WITH clause so
// CTE-wrapped updates are labelled UPDATE.
func statementVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	verb := strings.ToUpper(fields[0])
	if verb != "WITH" {
		return verb
	}
	depth := 0
	for _, field := range fields[1:] {
		depth += strings.Count(field, "(") - strings.Count(field, ")")
		if depth != 0 {
			continue
		}
		switch upper := strings.ToUpper(strings.Trim(field, "()")); upper {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return upper
		}
	}
	return verb
}
