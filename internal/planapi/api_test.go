package planapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/decision/memstore"
	"github.com/linnemanlabs/aware/internal/evaluator"
	"github.com/linnemanlabs/aware/internal/sensor"
	"github.com/linnemanlabs/aware/internal/sensor/memsource"
)

// fakeRunner answers every trigger with a plan naming the trigger, or err.
type fakeRunner struct {
	err error
}

func (f *fakeRunner) plan(trigger string) (*decision.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &decision.Plan{
		RunID:      "01JNRUN",
		Trigger:    trigger,
		Status:     decision.PlanComplete,
		Immediate:  []decision.Action{},
		Scheduled:  []decision.Action{},
		Monitoring: []decision.Action{},
		Conflicts:  []decision.Conflict{},
	}, nil
}

func (f *fakeRunner) RunAll(context.Context) (*decision.Plan, error) {
	return f.plan(decision.TriggerAll)
}

func (f *fakeRunner) RunSafety(context.Context) (*decision.Plan, error) {
	return f.plan(decision.TriggerSafety)
}

func (f *fakeRunner) RunLeak(context.Context) (*decision.Plan, error) {
	return f.plan(decision.TriggerLeak)
}

func (f *fakeRunner) RunEnergy(context.Context) (*decision.Plan, error) {
	return f.plan(decision.TriggerEnergy)
}

type unsupportedRecorder struct{}

func (unsupportedRecorder) Record(context.Context, ...sensor.Reading) error {
	return sensor.ErrRecordingUnsupported
}

type testEnv struct {
	router chi.Router
	store  *memstore.Store
	source *memsource.Source
}

func newTestEnv(t *testing.T, runner Runner, recorder sensor.Recorder) *testEnv {
	t.Helper()
	store := memstore.New()
	lc := decision.NewLifecycle(store, log.Nop(), decision.Hooks{})
	api := New(nil, runner, lc, recorder, nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	env := &testEnv{router: r, store: store}
	if src, ok := recorder.(*memsource.Source); ok {
		env.source = src
	}
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) insert(t *testing.T, asset string, kind decision.Category) *decision.Incident {
	t.Helper()
	inc, err := e.store.Insert(context.Background(), &decision.Incident{
		Kind:     kind,
		Severity: decision.SeverityHigh,
		AssetRef: asset,
		Title:    "incident on " + asset,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return inc
}

func TestNew_Panics(t *testing.T) {
	t.Parallel()

	lc := decision.NewLifecycle(memstore.New(), nil, decision.Hooks{})
	tests := []struct {
		name      string
		runner    Runner
		incidents Incidents
	}{
		{"nil runner", nil, lc},
		{"nil incidents", &fakeRunner{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			New(nil, tt.runner, tt.incidents, nil, nil)
		})
	}
}

func TestRuns_Triggers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)

	tests := []struct {
		path    string
		trigger string
	}{
		{"/api/v1/runs", decision.TriggerAll},
		{"/api/v1/runs/safety", decision.TriggerSafety},
		{"/api/v1/runs/leak", decision.TriggerLeak},
		{"/api/v1/runs/energy", decision.TriggerEnergy},
	}
	for _, tt := range tests {
		t.Run(tt.trigger, func(t *testing.T) {
			t.Parallel()

			rec := env.do(http.MethodPost, tt.path, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("POST %s = %d, want 200", tt.path, rec.Code)
			}
			var p decision.Plan
			if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
				t.Fatalf("decode plan: %v", err)
			}
			if p.Trigger != tt.trigger || p.RunID != "01JNRUN" {
				t.Errorf("plan = %+v", p)
			}
			if p.Immediate == nil {
				t.Error("immediate_actions should encode as an empty list")
			}
		})
	}
}

func TestRuns_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", fmt.Errorf("%w: context canceled", decision.ErrRunCancelled), http.StatusServiceUnavailable},
		{"snapshot", fmt.Errorf("%w: db down", decision.ErrSnapshot), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, &fakeRunner{err: tt.err}, nil)
			if rec := env.do(http.MethodPost, "/api/v1/runs", ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRuns_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	if rec := env.do(http.MethodGet, "/api/v1/runs", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/v1/runs = %d, want 405", rec.Code)
	}
}

func TestIncidents_List(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	leak := env.insert(t, "P-1", decision.CategoryLeak)
	env.insert(t, "J-1", decision.CategorySafety)
	if _, err := env.store.UpdateState(context.Background(), leak.ID, decision.StateResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	env.insert(t, "P-1", decision.CategoryLeak)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"kind", "?kind=leak", 2},
		{"asset", "?asset=J-1", 1},
		{"active leak", "?kind=leak&state=open,acknowledged", 1},
		{"repeated state", "?state=resolved&state=open", 3},
		{"limit", "?limit=1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := env.do(http.MethodGet, "/api/v1/incidents"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body struct {
				Incidents []decision.Incident `json:"incidents"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Incidents) != tt.want {
				t.Errorf("incidents = %d, want %d", len(body.Incidents), tt.want)
			}
		})
	}
}

func TestIncidents_ListEmptyIsArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	rec := env.do(http.MethodGet, "/api/v1/incidents", "")
	if got := strings.TrimSpace(rec.Body.String()); got != `{"incidents":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestIncidents_ListBadQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	for _, q := range []string{"?kind=fire", "?state=closed", "?limit=0", "?limit=abc", "?limit=100000"} {
		if rec := env.do(http.MethodGet, "/api/v1/incidents"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", q, rec.Code)
		}
	}
}

func TestIncidents_Get(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	inc := env.insert(t, "P-2", decision.CategoryLeak)

	rec := env.do(http.MethodGet, "/api/v1/incidents/"+inc.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got decision.Incident
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != inc.ID || got.AssetRef != "P-2" || got.State != decision.StateOpen {
		t.Errorf("incident = %+v", got)
	}

	if rec := env.do(http.MethodGet, "/api/v1/incidents/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}
}

func TestIncidents_Transitions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	inc := env.insert(t, "P-3", decision.CategoryLeak)
	base := "/api/v1/incidents/" + inc.ID

	steps := []struct {
		action    string
		wantCode  int
		wantState decision.IncidentState
	}{
		{"acknowledge", http.StatusOK, decision.StateAcknowledged},
		{"acknowledge", http.StatusConflict, ""},
		{"resolve", http.StatusOK, decision.StateResolved},
		{"resolve", http.StatusConflict, ""},
	}
	var got []decision.IncidentState
	for _, s := range steps {
		rec := env.do(http.MethodPost, base+"/"+s.action, "")
		if rec.Code != s.wantCode {
			t.Fatalf("%s = %d, want %d", s.action, rec.Code, s.wantCode)
		}
		if rec.Code == http.StatusOK {
			var out decision.Incident
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got = append(got, out.State)
		}
	}
	if diff := cmp.Diff([]decision.IncidentState{decision.StateAcknowledged, decision.StateResolved}, got); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	if rec := env.do(http.MethodPost, "/api/v1/incidents/nope/resolve", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}
}

func TestIncidents_ResolveFreesAssetForNewIncident(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	first := env.insert(t, "P-4", decision.CategoryLeak)

	if _, err := env.store.Insert(context.Background(), &decision.Incident{Kind: decision.CategoryLeak, AssetRef: "P-4"}); !errors.Is(err, decision.ErrDuplicateIncident) {
		t.Fatalf("second active insert err = %v, want ErrDuplicateIncident", err)
	}
	if rec := env.do(http.MethodPost, "/api/v1/incidents/"+first.ID+"/resolve", ""); rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d", rec.Code)
	}
	env.insert(t, "P-4", decision.CategoryLeak)
}

func TestReadings_Ingest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, memsource.New())
	body := `{"readings": [
		{"asset_id": "P-1", "asset_kind": "edge", "sensor_type": "pressure", "value": 52.5, "unit": "psi"},
		{"asset_id": "J-1", "asset_kind": "node", "sensor_type": "pressure", "value": 61, "unit": "psi", "observed_at": "2026-03-01T12:00:00Z"}
	]}`

	rec := env.do(http.MethodPost, "/api/v1/readings", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	snap, err := env.source.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Readings) != 2 {
		t.Fatalf("readings = %d, want 2", len(snap.Readings))
	}
	for _, r := range snap.Readings {
		if r.ObservedAt.IsZero() {
			t.Errorf("reading %s has no observed_at", r.AssetID)
		}
	}
}

func TestReadings_Invalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, memsource.New())
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{bad`},
		{"empty", `{"readings": []}`},
		{"missing asset", `{"readings": [{"asset_kind": "edge", "sensor_type": "flow", "value": 1}]}`},
		{"bad kind", `{"readings": [{"asset_id": "X", "asset_kind": "tank", "sensor_type": "flow", "value": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if rec := env.do(http.MethodPost, "/api/v1/readings", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestReadings_NotSupported(t *testing.T) {
	t.Parallel()

	body := `{"readings": [{"asset_id": "P-1", "asset_kind": "edge", "sensor_type": "flow", "value": 90}]}`
	for name, rc := range map[string]sensor.Recorder{"nil recorder": nil, "unsupported": unsupportedRecorder{}} {
		env := newTestEnv(t, &fakeRunner{}, rc)
		if rec := env.do(http.MethodPost, "/api/v1/readings", body); rec.Code != http.StatusNotImplemented {
			t.Errorf("%s: status = %d, want 501", name, rec.Code)
		}
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &fakeRunner{}, nil)
	for _, path := range []string{"/", "/api/v1", "/api/v2/runs", "/api/v1/unknown"} {
		if rec := env.do(http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

type fakeAnalytics struct {
	rep *evaluator.AnalyticsReport
	err error
}

func (f fakeAnalytics) Report(context.Context) (*evaluator.AnalyticsReport, error) {
	return f.rep, f.err
}

func analyticsRouter(a Analytics) chi.Router {
	api := New(nil, &fakeRunner{}, decision.NewLifecycle(memstore.New(), nil, decision.Hooks{}), nil, a)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func TestAnalytics_Report(t *testing.T) {
	t.Parallel()

	r := analyticsRouter(fakeAnalytics{rep: &evaluator.AnalyticsReport{
		NRW:    &evaluator.NRWEstimate{Percentage: 12.4, TrendDirection: "decreasing"},
		Energy: evaluator.EnergyMetrics{PumpsTotal: 2, PumpsRunning: 1},
		Errors: map[string]string{evaluator.SectionDemand: "reasoning call timed out"},
	}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var got struct {
		NRW struct {
			Percentage float64 `json:"nrw_percentage"`
		} `json:"nrw"`
		Energy struct {
			PumpsRunning int `json:"pumps_running"`
		} `json:"energy_metrics"`
		Errors map[string]string `json:"errors"`
		Uptime *json.RawMessage  `json:"uptime"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NRW.Percentage != 12.4 || got.Energy.PumpsRunning != 1 {
		t.Errorf("report = %+v", got)
	}
	if got.Uptime != nil {
		t.Error("missing section should be omitted")
	}
	if got.Errors[evaluator.SectionDemand] == "" {
		t.Errorf("errors = %v, want demand_forecast entry", got.Errors)
	}
}

func TestAnalytics_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		analytics Analytics
		want      int
	}{
		{"not configured", nil, http.StatusNotImplemented},
		{"snapshot", fakeAnalytics{err: fmt.Errorf("%w: timeout", decision.ErrSnapshot)}, http.StatusBadGateway},
		{"other", fakeAnalytics{err: errors.New("store down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			analyticsRouter(tt.analytics).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
