package evaluator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/sensor"
)

// AnalyticsName identifies the analytics reasoning calls in metrics.
const AnalyticsName = "analytics"

const (
	// AnalyticsWindow is how far back incidents count towards NRW and uptime.
	AnalyticsWindow = 30 * 24 * time.Hour

	analyticsIncidentLimit = 500
	recentLeakLimit        = 10
	recentCriticalLimit    = 5

	nrwTemperature    = 0.3
	uptimeTemperature = 0.3
	demandTemperature = 0.4
)

// Report sections, used as keys in AnalyticsReport.Errors.
const (
	SectionNRW    = "nrw"
	SectionUptime = "uptime"
	SectionDemand = "demand_forecast"
)

// IncidentLister is the read side of the incident store.
type IncidentLister interface {
	List(ctx context.Context, q decision.IncidentQuery) ([]decision.Incident, error)
}

// NRWEstimate is the non-revenue water estimate.
type NRWEstimate struct {
	Percentage      float64  `json:"nrw_percentage"`
	TrendPercentage float64  `json:"trend_percentage"`
	TrendDirection  string   `json:"trend_direction"`
	PrimaryFactors  []string `json:"primary_factors"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
}

// UptimeEstimate is the availability estimate over AnalyticsWindow.
type UptimeEstimate struct {
	Percentage        float64 `json:"uptime_percentage"`
	AvailabilityHours float64 `json:"availability_hours"`
	TotalHours        float64 `json:"total_hours"`
	DowntimeIncidents int     `json:"downtime_incidents"`
	MTBFHours         float64 `json:"average_mtbf_hours"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
}

// HourlyDemand is one hour of the demand forecast.
type HourlyDemand struct {
	Hour       int     `json:"hour"`
	Demand     float64 `json:"demand"`
	Confidence float64 `json:"confidence"`
}

// DemandForecast is the 24 hour demand forecast.
type DemandForecast struct {
	Hours      []HourlyDemand `json:"forecast"`
	PeakHour   int            `json:"peak_hour"`
	PeakDemand float64        `json:"peak_demand"`
	Reasoning  string         `json:"reasoning"`
}

// EnergyMetrics are computed locally from the snapshot.
type EnergyMetrics struct {
	PumpsTotal      int     `json:"pumps_total"`
	PumpsRunning    int     `json:"pumps_running"`
	PriceHours      int     `json:"price_hours"`
	OffPeakHours    int     `json:"off_peak_hours"`
	AvgPricePerKWh  float64 `json:"avg_price_per_kwh"`
	MinPricePerKWh  float64 `json:"min_price_per_kwh"`
	MaxPricePerKWh  float64 `json:"max_price_per_kwh"`
	AveragePressure float64 `json:"average_pressure_psi"`
}

// AnalyticsReport bundles the system analytics. A section whose reasoning
// call failed is nil and its error is listed under Errors.
type AnalyticsReport struct {
	NRW         *NRWEstimate      `json:"nrw,omitempty"`
	Uptime      *UptimeEstimate   `json:"uptime,omitempty"`
	Demand      *DemandForecast   `json:"demand_forecast,omitempty"`
	Energy      EnergyMetrics     `json:"energy_metrics"`
	Errors      map[string]string `json:"errors,omitempty"`
	Model       string            `json:"model,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
	Duration    float64           `json:"duration_seconds"`
}

// Analytics produces NRW, uptime, demand and energy figures from the
// current snapshot and recent incidents.
type Analytics struct {
	r           reasoner
	source      sensor.Source
	incidents   IncidentLister
	priceWindow int
	now         func() time.Time
}

// NewAnalytics wires an analytics generator. priceWindow bounds the energy
// price metrics; non-positive uses DefaultPriceWindow.
func NewAnalytics(cfg Config, source sensor.Source, incidents IncidentLister, priceWindow int) *Analytics {
	switch {
	case source == nil:
		panic(xerrors.New("sensor source is required"))
	case incidents == nil:
		panic(xerrors.New("incident lister is required"))
	}
	if priceWindow <= 0 {
		priceWindow = DefaultPriceWindow
	}
	return &Analytics{
		r:           newReasoner(AnalyticsName, cfg),
		source:      source,
		incidents:   incidents,
		priceWindow: priceWindow,
		now:         time.Now,
	}
}

type nrwResponse struct {
	NRWEstimate
	Percentage *float64 `json:"nrw_percentage"`
}

type uptimeResponse struct {
	UptimeEstimate
	Percentage *float64 `json:"uptime_percentage"`
}

// Report takes a snapshot, lists recent incidents and runs the three
// reasoning calls in parallel. Reasoning failures are reported per section;
// only snapshot and incident lookup failures fail the report.
func (a *Analytics) Report(ctx context.Context) (*AnalyticsReport, error) {
	start := a.now()

	snap, err := a.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", decision.ErrSnapshot, err)
	}
	incidents, err := a.incidents.List(ctx, decision.IncidentQuery{Limit: analyticsIncidentLimit})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	incidents = since(incidents, start.Add(-AnalyticsWindow))

	flows := latestByType(snap.Readings)[sensor.TypeFlow]
	rep := &AnalyticsReport{
		Energy:      energyMetrics(snap, a.priceWindow),
		GeneratedAt: start,
	}

	var (
		mu    sync.Mutex
		g     errgroup.Group
		fails = make(map[string]string)
	)
	fail := func(section string, err error) {
		mu.Lock()
		defer mu.Unlock()
		fails[section] = err.Error()
	}
	model := func(m string) {
		mu.Lock()
		defer mu.Unlock()
		if m != "" {
			rep.Model = m
		}
	}

	g.Go(func() error {
		var out nrwResponse
		m, err := a.r.callJSON(ctx, nrwSystemPrompt, buildNRWPrompt(flows, leakIncidents(incidents)), nrwTemperature, &out)
		model(m)
		if err == nil && out.Percentage == nil {
			err = fmt.Errorf("%w: missing nrw_percentage", ErrMalformedResponse)
		}
		if err != nil {
			fail(SectionNRW, err)
			return nil
		}
		est := out.NRWEstimate
		est.Percentage = *out.Percentage
		rep.NRW = &est
		return nil
	})
	g.Go(func() error {
		var out uptimeResponse
		m, err := a.r.callJSON(ctx, uptimeSystemPrompt, buildUptimePrompt(incidents, countAssets(snap.Readings)), uptimeTemperature, &out)
		model(m)
		if err == nil && out.Percentage == nil {
			err = fmt.Errorf("%w: missing uptime_percentage", ErrMalformedResponse)
		}
		if err != nil {
			fail(SectionUptime, err)
			return nil
		}
		est := out.UptimeEstimate
		est.Percentage = *out.Percentage
		rep.Uptime = &est
		return nil
	})
	g.Go(func() error {
		var out DemandForecast
		m, err := a.r.callJSON(ctx, demandSystemPrompt, buildDemandPrompt(flows), demandTemperature, &out)
		model(m)
		if err == nil && out.Hours == nil {
			err = fmt.Errorf("%w: missing forecast", ErrMalformedResponse)
		}
		if err != nil {
			fail(SectionDemand, err)
			return nil
		}
		rep.Demand = &out
		return nil
	})
	_ = g.Wait()

	if len(fails) > 0 {
		rep.Errors = fails
		a.r.logger.Warn(ctx, "analytics sections failed", "failed", len(fails))
	}
	rep.Duration = a.now().Sub(start).Seconds()
	return rep, nil
}

func since(incidents []decision.Incident, cutoff time.Time) []decision.Incident {
	out := incidents[:0:0]
	for _, inc := range incidents {
		if !inc.CreatedAt.Before(cutoff) {
			out = append(out, inc)
		}
	}
	return out
}

func leakIncidents(incidents []decision.Incident) []decision.Incident {
	var out []decision.Incident
	for _, inc := range incidents {
		if inc.Kind == decision.CategoryLeak {
			out = append(out, inc)
		}
	}
	return out
}

func countAssets(readings []sensor.Reading) int {
	seen := make(map[string]struct{})
	for _, r := range readings {
		seen[r.AssetID] = struct{}{}
	}
	return len(seen)
}

func energyMetrics(snap *sensor.Snapshot, window int) EnergyMetrics {
	pumps := snap.Pumps()
	m := EnergyMetrics{
		PumpsTotal:      len(pumps),
		AveragePressure: snap.AveragePressure(0),
	}
	for _, p := range pumps {
		if strings.EqualFold(p.Status, "on") {
			m.PumpsRunning++
		}
	}

	prices := snap.UpcomingPrices(window)
	m.PriceHours = len(prices)
	if len(prices) == 0 {
		return m
	}
	m.MinPricePerKWh = prices[0].PricePerKWh
	var sum float64
	for _, p := range prices {
		sum += p.PricePerKWh
		m.MinPricePerKWh = min(m.MinPricePerKWh, p.PricePerKWh)
		m.MaxPricePerKWh = max(m.MaxPricePerKWh, p.PricePerKWh)
		if p.OffPeak {
			m.OffPeakHours++
		}
	}
	m.AvgPricePerKWh = sum / float64(len(prices))
	return m
}
