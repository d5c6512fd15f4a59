package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const (
	modulePrefix  = "github.com/linnemanlabs/aware/"
	packagePrefix = modulePrefix + "internal/postgres."

	// slowQueryThreshold promotes successful queries from Info to Warn.
	slowQueryThreshold = 250 * time.Millisecond
	maxStackDepth      = 32
)

type traceKey struct{}

// callSite names the store method that issued a query and the module
// function that invoked the store (coordinator step, API handler, job).
type callSite struct {
	store   string
	trigger string
}

// queryTrace is carried from TraceQueryStart to TraceQueryEnd.
type queryTrace struct {
	sql   string
	args  []any
	start time.Time
	site  callSite
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx in production) and
// adds a structured log line, run stats and the query observer.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	q := &queryTrace{
		sql:   data.SQL,
		args:  data.Args,
		start: time.Now(),
		site:  lookupCallSite(),
	}
	// the inner tracer opens the span the attributes below are added to
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(q.site.attributes(originFromContext(ctx))...)
	}
	return context.WithValue(ctx, traceKey{}, q)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}
	q, _ := ctx.Value(traceKey{}).(*queryTrace)
	if q == nil {
		return
	}
	dur := time.Since(q.start)

	if s, ok := RunDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}
	if obs := getQueryObserver(); obs != nil {
		origin, route, outcome := queryLabels(ctx, data.Err)
		obs.ObserveQuery(ctx, origin, route, outcome, dur)
	}

	L := log.FromContext(ctx)
	fields := q.logFields(dur, data)
	switch {
	case data.Err != nil:
		L.Error(ctx, data.Err, "db query failed", fields...)
	case dur >= slowQueryThreshold:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

// queryLabels returns the bounded metric labels for a finished query.
func queryLabels(ctx context.Context, err error) (origin, route, outcome string) {
	origin, route, outcome = originFromContext(ctx), "", "ok"
	if rc := chi.RouteContext(ctx); rc != nil {
		route = rc.RoutePattern()
	}
	if origin == "" {
		origin = "unknown"
	}
	if route == "" {
		route = "none"
	}
	if err != nil {
		outcome = "error"
	}
	return origin, route, outcome
}

func (q *queryTrace) logFields(dur time.Duration, data pgx.TraceQueryEndData) []any {
	fields := []any{
		"db.statement", q.sql,
		"db.args", q.args,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		op, _, _ := strings.Cut(tag, " ")
		fields = append(fields,
			"db.operation.name", strings.ToUpper(op),
			"pg.command_tag", tag,
			"db.rows", data.CommandTag.RowsAffected(),
		)
	}
	if q.site.store != "" {
		fields = append(fields, "db.caller", q.site.store)
	}
	if q.site.trigger != "" {
		fields = append(fields, "db.trigger", q.site.trigger)
	}
	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	return fields
}

func (c callSite) attributes(origin string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if c.store != "" {
		attrs = append(attrs, attribute.String("db.caller", c.store))
	}
	if c.trigger != "" {
		attrs = append(attrs, attribute.String("db.trigger", c.trigger))
	}
	if origin != "" {
		attrs = append(attrs, attribute.String("aware.origin", origin))
	}
	return attrs
}

func lookupCallSite() callSite {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var fns []string
	for {
		fr, more := frames.Next()
		fns = append(fns, fr.Function)
		if !more {
			break
		}
	}
	return pickCallSite(fns)
}

// pickCallSite keeps only this module's frames outside the postgres
// package: the first is the store, the next distinct one the trigger.
func pickCallSite(fns []string) callSite {
	var c callSite
	for _, fn := range fns {
		if !strings.HasPrefix(fn, modulePrefix) || strings.HasPrefix(fn, packagePrefix) {
			continue
		}
		name := frameName(fn)
		switch {
		case c.store == "":
			c.store = name
		case name != c.store:
			c.trigger = name
			return c
		}
	}
	return c
}

// frameName trims the import path, keeping the package:
// ".../decision/pgstore.(*Store).Insert" becomes "pgstore.(*Store).Insert".
func frameName(fn string) string {
	if i := strings.LastIndexByte(fn, '/'); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
