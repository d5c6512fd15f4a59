package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type (
	originKey  struct{}
	dbStatsKey struct{}
)

// RunDBStats accumulates database statistics for one unit of work: an API
// request or a coordination run.
type RunDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records a single query execution.
func (s *RunDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the counters under lock.
func (s *RunDBStats) Snapshot() (queries int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// NewRunDBStatsContext returns a new context with an empty RunDBStats attached.
func NewRunDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &RunDBStats{})
}

// RunDBStatsFromContext extracts the RunDBStats from the context, if present.
func RunDBStatsFromContext(ctx context.Context) (*RunDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*RunDBStats)
	return s, ok
}

// WithOrigin tags the context with what triggered the queries, either an
// HTTP method or "schedule" for cron driven runs.
func WithOrigin(ctx context.Context, origin string) context.Context {
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, origin)
}

func originFromContext(ctx context.Context) string {
	v, _ := ctx.Value(originKey{}).(string)
	return v
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, origin, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, origin, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, origin, route, outcome string, dur time.Duration) {
	f(ctx, origin, route, outcome, dur)
}

type observerBox struct{ QueryObserver }

var queryObserver atomic.Pointer[observerBox]

// SetQueryObserver installs the process-wide query observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerBox{o})
}

func getQueryObserver() QueryObserver {
	if b := queryObserver.Load(); b != nil {
		return b.QueryObserver
	}
	return nil
}
