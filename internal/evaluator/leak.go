package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/sensor"
)

// LeakName identifies the leak evaluator in plans, incidents and metrics.
const LeakName = "leak_evaluator"

const leakTemperature = 0.5

// Leak predicts pipe leaks from fused pressure, acoustic and flow readings.
type Leak struct {
	r reasoner
}

// NewLeak creates a leak evaluator.
func NewLeak(cfg Config) *Leak {
	return &Leak{r: newReasoner(LeakName, cfg)}
}

func (e *Leak) Name() string                { return LeakName }
func (e *Leak) Category() decision.Category { return decision.CategoryLeak }

type leakResponse struct {
	Leaks *[]leakItem `json:"leaks"`
}

type leakItem struct {
	EdgeID           string         `json:"edge_id"`
	Confidence       float64        `json:"confidence"`
	Urgency          string         `json:"urgency"`
	Reasoning        string         `json:"reasoning"`
	SensorIndicators map[string]any `json:"sensor_indicators"`
	Recommendation   struct {
		Action            string   `json:"action"`
		ValvesToClose     []string `json:"valves_to_close"`
		DispatchCrew      bool     `json:"dispatch_crew"`
		EstimatedLocation string   `json:"estimated_location"`
	} `json:"recommendation"`
}

// Evaluate scores every pipe with edge readings, using only the newest
// reading per pipe and sensor type.
func (e *Leak) Evaluate(ctx context.Context, snap *sensor.Snapshot) *decision.EvaluationResult {
	res := &decision.EvaluationResult{
		Evaluator: LeakName,
		Category:  decision.CategoryLeak,
		Findings:  []decision.Finding{},
	}

	pipes := sensor.LatestByAsset(snap.Readings, sensor.AssetEdge)
	if len(pipes) == 0 {
		res.Status = decision.StatusNoData
		res.Summary = "No pipe sensor data available for analysis"
		return res
	}
	res.AssetsAnalyzed = len(pipes)

	var out leakResponse
	model, err := e.r.callJSON(ctx, leakSystemPrompt, buildLeakPrompt(pipes), leakTemperature, &out)
	res.Model = model
	if err == nil && out.Leaks == nil {
		err = fmt.Errorf("%w: missing leaks", ErrMalformedResponse)
	}
	if err != nil {
		res.Status = decision.StatusError
		res.Error = err.Error()
		return res
	}

	for _, item := range *out.Leaks {
		if item.EdgeID == "" {
			e.r.logger.Warn(ctx, "leak finding without edge_id dropped")
			continue
		}
		f := decision.Finding{
			AssetID:    item.EdgeID,
			AssetKind:  sensor.AssetEdge,
			Category:   decision.CategoryLeak,
			Confidence: item.Confidence,
			Urgency:    decision.Urgency(strings.ToLower(strings.TrimSpace(item.Urgency))),
			Reasoning:  item.Reasoning,
			Recommended: decision.RecommendedAction{
				Type:              item.Recommendation.Action,
				Resources:         item.Recommendation.ValvesToClose,
				DispatchCrew:      item.Recommendation.DispatchCrew,
				EstimatedLocation: item.Recommendation.EstimatedLocation,
			},
			Indicators: stringify(item.SensorIndicators),
		}
		if f.Urgency == "" {
			f.Urgency = decision.UrgencyMonitor
		}
		decision.Score(&f)
		res.Findings = append(res.Findings, f)
	}

	res.Status = decision.StatusSuccess
	res.Summary = fmt.Sprintf("%d pipes analyzed, %d potential leaks", len(pipes), len(res.Findings))
	return res
}

func stringify(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
