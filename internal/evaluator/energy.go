package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/sensor"
)

// EnergyName identifies the energy evaluator in plans and metrics.
const EnergyName = "energy_evaluator"

const (
	energyTemperature = 0.2

	// DefaultPriceWindow is how many hours of prices the schedule covers.
	DefaultPriceWindow = 24

	// DefaultMinPressurePSI is the pressure the pump schedule must keep.
	DefaultMinPressurePSI = 40

	fallbackPressurePSI = 60
)

// Energy proposes pump schedules that shift load to cheap hours.
type Energy struct {
	r           reasoner
	window      int
	minPressure float64
}

// NewEnergy creates an energy evaluator covering window hours of prices
// and keeping pressure above minPressure. Non-positive values use the defaults.
func NewEnergy(cfg Config, window int, minPressure float64) *Energy {
	if window <= 0 {
		window = DefaultPriceWindow
	}
	if minPressure <= 0 {
		minPressure = DefaultMinPressurePSI
	}
	return &Energy{r: newReasoner(EnergyName, cfg), window: window, minPressure: minPressure}
}

func (e *Energy) Name() string                { return EnergyName }
func (e *Energy) Category() decision.Category { return decision.CategoryEnergy }

type energyResponse struct {
	Optimizations         *[]pumpOptimization `json:"optimizations"`
	OverallStrategy       string              `json:"overall_strategy"`
	RiskAssessment        string              `json:"risk_assessment"`
	PressureGuarantee     string              `json:"pressure_guarantee"`
	TotalEstimatedSavings *float64            `json:"total_estimated_savings"`
}

type pumpOptimization struct {
	PumpName string `json:"pump_name"`
	Schedule []struct {
		Hour      int     `json:"hour"`
		Status    string  `json:"status"`
		Setpoint  float64 `json:"setpoint"`
		Rationale string  `json:"rationale"`
	} `json:"schedule"`
	EstimatedDailySavingsUSD float64 `json:"estimated_daily_savings_usd"`
	Confidence               float64 `json:"confidence"`
	Reasoning                string  `json:"reasoning"`
}

// Evaluate produces one finding per optimized pump.
func (e *Energy) Evaluate(ctx context.Context, snap *sensor.Snapshot) *decision.EvaluationResult {
	res := &decision.EvaluationResult{
		Evaluator: EnergyName,
		Category:  decision.CategoryEnergy,
		Findings:  []decision.Finding{},
	}

	prices := snap.UpcomingPrices(e.window)
	if len(prices) == 0 {
		res.Status = decision.StatusNoData
		res.Summary = "No energy price data available"
		return res
	}
	pumps := snap.Pumps()
	res.AssetsAnalyzed = len(pumps)

	prompt := buildEnergyPrompt(snap.AveragePressure(fallbackPressurePSI), e.minPressure, pumps, prices)

	var out energyResponse
	model, err := e.r.callJSON(ctx, energySystemPrompt, prompt, energyTemperature, &out)
	res.Model = model
	if err == nil && out.Optimizations == nil {
		err = fmt.Errorf("%w: missing optimizations", ErrMalformedResponse)
	}
	if err != nil {
		res.Status = decision.StatusError
		res.Error = err.Error()
		return res
	}

	var sum float64
	for _, opt := range *out.Optimizations {
		f := decision.Finding{
			AssetID:          opt.PumpName,
			AssetKind:        sensor.AssetNode,
			Category:         decision.CategoryEnergy,
			Confidence:       opt.Confidence,
			Urgency:          decision.UrgencyMonitor,
			Title:            "Pump schedule for " + opt.PumpName,
			Reasoning:        opt.Reasoning,
			Recommended:      decision.RecommendedAction{Type: "optimization", Steps: scheduleSteps(opt)},
			EstimatedSavings: opt.EstimatedDailySavingsUSD,
		}
		decision.Score(&f)
		res.Findings = append(res.Findings, f)
		sum += opt.EstimatedDailySavingsUSD
	}

	res.TotalSavings = sum
	if out.TotalEstimatedSavings != nil {
		res.TotalSavings = *out.TotalEstimatedSavings
	}
	res.Status = decision.StatusSuccess
	res.Summary = out.OverallStrategy
	if out.PressureGuarantee != "" {
		res.Recommendations = append(res.Recommendations, out.PressureGuarantee)
	}
	if out.RiskAssessment != "" {
		res.Recommendations = append(res.Recommendations, out.RiskAssessment)
	}
	return res
}

func scheduleSteps(opt pumpOptimization) []string {
	steps := make([]string, 0, len(opt.Schedule))
	for _, s := range opt.Schedule {
		step := fmt.Sprintf("%02d:00 %s", s.Hour, strings.ToLower(s.Status))
		if s.Setpoint > 0 {
			step += fmt.Sprintf(" setpoint %g", s.Setpoint)
		}
		if s.Rationale != "" {
			step += " (" + s.Rationale + ")"
		}
		steps = append(steps, step)
	}
	return steps
}
