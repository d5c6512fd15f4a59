// Package planapi exposes coordination runs, incidents and reading
// ingestion over HTTP.
package planapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/evaluator"
	"github.com/linnemanlabs/aware/internal/sensor"
)

// Runner triggers coordination runs.
type Runner interface {
	RunAll(ctx context.Context) (*decision.Plan, error)
	RunSafety(ctx context.Context) (*decision.Plan, error)
	RunLeak(ctx context.Context) (*decision.Plan, error)
	RunEnergy(ctx context.Context) (*decision.Plan, error)
}

// Incidents is the incident lookup and operator transition surface.
type Incidents interface {
	Get(ctx context.Context, id string) (*decision.Incident, bool, error)
	List(ctx context.Context, q decision.IncidentQuery) ([]decision.Incident, error)
	Acknowledge(ctx context.Context, id string) (*decision.Incident, error)
	Resolve(ctx context.Context, id string) (*decision.Incident, error)
}

// Analytics generates system analytics reports.
type Analytics interface {
	Report(ctx context.Context) (*evaluator.AnalyticsReport, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	runner    Runner
	incidents Incidents
	recorder  sensor.Recorder
	analytics Analytics
}

// New creates a new API handler. recorder and analytics may be nil, in
// which case reading ingestion and analytics answer 501.
func New(logger log.Logger, runner Runner, incidents Incidents, recorder sensor.Recorder, analytics Analytics) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if runner == nil {
		panic(xerrors.New("coordinator is required"))
	}
	if incidents == nil {
		panic(xerrors.New("incident lifecycle is required"))
	}
	return &API{
		logger:    logger,
		runner:    runner,
		incidents: incidents,
		recorder:  recorder,
		analytics: analytics,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", a.handleRun(decision.TriggerAll, a.runner.RunAll))
		r.Post("/runs/safety", a.handleRun(decision.TriggerSafety, a.runner.RunSafety))
		r.Post("/runs/leak", a.handleRun(decision.TriggerLeak, a.runner.RunLeak))
		r.Post("/runs/energy", a.handleRun(decision.TriggerEnergy, a.runner.RunEnergy))

		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Post("/incidents/{id}/acknowledge", a.handleTransition(a.incidents.Acknowledge))
		r.Post("/incidents/{id}/resolve", a.handleTransition(a.incidents.Resolve))

		r.Post("/readings", a.handleIngestReadings)

		r.Get("/analytics", a.handleAnalytics)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
