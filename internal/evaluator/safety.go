package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/sensor"
)

// SafetyName identifies the safety evaluator in plans, incidents and metrics.
const SafetyName = "safety_evaluator"

const safetyTemperature = 0.0

// networkAsset is the asset reference for issues that name no asset.
const networkAsset = "network"

// DefaultSafetyThresholds are the pressure limits used when none are configured.
var DefaultSafetyThresholds = SafetyThresholds{
	CriticalLowPSI: 30,
	MinSafePSI:     40,
	MaxSafePSI:     120,
}

// Safety checks pressure, flow and acoustic readings against the safety
// thresholds. Readings below the critical-low limit always produce a
// CRITICAL verdict, whatever the reasoning call returns.
type Safety struct {
	r          reasoner
	thresholds SafetyThresholds
}

// NewSafety creates a safety evaluator. Zero thresholds fall back to
// DefaultSafetyThresholds.
func NewSafety(cfg Config, th SafetyThresholds) *Safety {
	if th == (SafetyThresholds{}) {
		th = DefaultSafetyThresholds
	}
	return &Safety{r: newReasoner(SafetyName, cfg), thresholds: th}
}

func (e *Safety) Name() string                { return SafetyName }
func (e *Safety) Category() decision.Category { return decision.CategorySafety }

type safetyResponse struct {
	SafetyStatus              string        `json:"safety_status"`
	Issues                    []safetyIssue `json:"issues"`
	OverallAssessment         string        `json:"overall_assessment"`
	MonitoringRecommendations []string      `json:"monitoring_recommendations"`
}

type safetyIssue struct {
	Severity               string   `json:"severity"`
	Category               string   `json:"category"`
	AffectedAssets         []string `json:"affected_assets"`
	Description            string   `json:"description"`
	Reasoning              string   `json:"reasoning"`
	ImmediateActions       []string `json:"immediate_actions"`
	EstimatedTimeToFailure string   `json:"estimated_time_to_failure"`
	Confidence             float64  `json:"confidence"`
}

// Evaluate runs the guardrail and the reasoning call. Guardrail findings
// are kept even when the reasoning call fails.
func (e *Safety) Evaluate(ctx context.Context, snap *sensor.Snapshot) *decision.EvaluationResult {
	res := &decision.EvaluationResult{
		Evaluator: SafetyName,
		Category:  decision.CategorySafety,
		Findings:  []decision.Finding{},
	}

	byType := latestByType(snap.Readings)
	pressure := byType[sensor.TypePressure]
	if len(pressure) == 0 {
		res.Status = decision.StatusNoData
		res.SafetyStatus = decision.SafetyUnknown
		res.Summary = "No pressure readings available for safety analysis"
		return res
	}
	res.AssetsAnalyzed = len(pressure)

	guarded := make(map[string]bool)
	for _, r := range pressure {
		if r.Value >= e.thresholds.CriticalLowPSI {
			continue
		}
		guarded[r.AssetID] = true
		res.Findings = append(res.Findings, e.guardrailFinding(r))
	}
	if len(guarded) > 0 {
		res.SafetyStatus = decision.SafetyCritical
		e.r.logger.Warn(ctx, "critical low pressure guardrail tripped", "assets", len(guarded))
	}

	var out safetyResponse
	model, err := e.r.callJSON(ctx, safetySystemPrompt, buildSafetyPrompt(e.thresholds, byType, snap.Equipment), safetyTemperature, &out)
	res.Model = model
	if err == nil && out.Issues == nil && strings.TrimSpace(out.SafetyStatus) == "" {
		err = fmt.Errorf("%w: missing issues and safety_status", ErrMalformedResponse)
	}
	if err != nil {
		res.Status = decision.StatusError
		res.Error = err.Error()
		if res.SafetyStatus == "" {
			res.SafetyStatus = decision.SafetyUnknown
		}
		return res
	}

	kinds := assetKinds(byType)
	for _, issue := range out.Issues {
		f := issueFinding(issue, kinds)
		if f.Severity == decision.SeverityCritical && guarded[f.AssetID] {
			continue
		}
		res.Findings = append(res.Findings, f)
	}

	// The aggregate verdict is the model's; only the guardrail overrides it.
	// Individual critical issues do not halt the run on their own.
	if res.SafetyStatus != decision.SafetyCritical {
		res.SafetyStatus = decision.ParseSafetyStatus(out.SafetyStatus)
	}

	res.Status = decision.StatusSuccess
	res.Summary = out.OverallAssessment
	res.Recommendations = out.MonitoringRecommendations
	return res
}

func (e *Safety) guardrailFinding(r sensor.Reading) decision.Finding {
	f := decision.Finding{
		AssetID:    r.AssetID,
		AssetKind:  r.AssetKind,
		Category:   decision.CategorySafety,
		Confidence: 1,
		Urgency:    decision.UrgencyCritical,
		Severity:   decision.SeverityCritical,
		Title:      fmt.Sprintf("Critical low pressure at %s: %g %s", r.AssetID, r.Value, r.Unit),
		Reasoning: fmt.Sprintf("Pressure %g is below the critical limit of %g psi; risk of contamination ingress and supply loss.",
			r.Value, e.thresholds.CriticalLowPSI),
		Recommended: decision.RecommendedAction{
			Type:         "safety_violation",
			Steps:        []string{"Dispatch crew to inspect " + r.AssetID, "Check upstream pumps and valves"},
			Resources:    []string{r.AssetID},
			DispatchCrew: true,
		},
		Indicators: map[string]string{sensor.TypePressure: fmt.Sprintf("%g %s", r.Value, r.Unit)},
		Guardrail:  true,
	}
	decision.Score(&f)
	return f
}

func issueFinding(issue safetyIssue, kinds map[string]sensor.AssetKind) decision.Finding {
	sev := decision.ParseSeverity(issue.Severity)
	asset := networkAsset
	if len(issue.AffectedAssets) > 0 && issue.AffectedAssets[0] != "" {
		asset = issue.AffectedAssets[0]
	}
	kind, ok := kinds[asset]
	if !ok {
		kind = sensor.AssetNode
	}
	f := decision.Finding{
		AssetID:    asset,
		AssetKind:  kind,
		Category:   decision.CategorySafety,
		Confidence: issue.Confidence,
		Urgency:    decision.Urgency(sev),
		Severity:   sev,
		Title:      issue.Description,
		Reasoning:  issue.Reasoning,
		Recommended: decision.RecommendedAction{
			Type:         issue.Category,
			Steps:        issue.ImmediateActions,
			Resources:    issue.AffectedAssets,
			DispatchCrew: sev == decision.SeverityCritical,
		},
	}
	if issue.EstimatedTimeToFailure != "" {
		f.Indicators = map[string]string{"time_to_failure": issue.EstimatedTimeToFailure}
	}
	decision.Score(&f)
	return f
}

// latestByType keeps the newest reading per asset and sensor type across
// nodes and edges, grouped by sensor type.
func latestByType(readings []sensor.Reading) map[string][]sensor.Reading {
	out := make(map[string][]sensor.Reading)
	for _, kind := range []sensor.AssetKind{sensor.AssetNode, sensor.AssetEdge} {
		for _, ar := range sensor.LatestByAsset(readings, kind) {
			for _, r := range ar.Readings {
				out[r.Type] = append(out[r.Type], r)
			}
		}
	}
	return out
}

// assetKinds maps every asset seen in the snapshot to its kind.
func assetKinds(byType map[string][]sensor.Reading) map[string]sensor.AssetKind {
	out := make(map[string]sensor.AssetKind)
	for _, readings := range byType {
		for _, r := range readings {
			out[r.AssetID] = r.AssetKind
		}
	}
	return out
}
