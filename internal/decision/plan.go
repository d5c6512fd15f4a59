package decision

import (
	"sort"
	"time"

	"github.com/linnemanlabs/aware/internal/sensor"
)

// PlanStatus is the terminal state of a coordination run.
type PlanStatus string

const (
	PlanComplete     PlanStatus = "complete"
	PlanCriticalHalt PlanStatus = "critical_safety_override"
)

// Action priority labels.
const (
	LabelCritical = "CRITICAL"
	LabelHigh     = "HIGH"
	LabelNormal   = "NORMAL"
	LabelMonitor  = "MONITOR"
)

// Action types.
const (
	ActionSafetyViolation = "safety_violation"
	ActionSafetyWarning   = "safety_warning"
	ActionLeak            = "leak_detection"
	ActionOptimization    = "optimization"
	ActionMonitoring      = "monitoring"
)

// Action is one entry of an action plan.
type Action struct {
	Priority         string           `json:"priority"`
	Score            int              `json:"priority_score"`
	Agent            string           `json:"agent"`
	Type             string           `json:"type"`
	AssetID          string           `json:"asset_id,omitempty"`
	AssetKind        sensor.AssetKind `json:"asset_kind,omitempty"`
	Description      string           `json:"description"`
	Steps            []string         `json:"actions,omitempty"`
	Resources        []string         `json:"resources,omitempty"`
	DispatchCrew     bool             `json:"dispatch_crew,omitempty"`
	Confidence       float64          `json:"confidence"`
	EstimatedSavings float64          `json:"estimated_savings_usd,omitempty"`
}

// Conflict records a contradiction between two evaluators and how it was resolved.
type Conflict struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Resolution  string   `json:"resolution"`
	Agents      []string `json:"agents_involved"`
}

// Plan is the merged output of one coordination run.
type Plan struct {
	RunID        string             `json:"run_id"`
	Trigger      string             `json:"trigger"`
	Status       PlanStatus         `json:"status"`
	Message      string             `json:"message,omitempty"`
	SafetyStatus SafetyStatus       `json:"safety_status,omitempty"`
	Immediate    []Action           `json:"immediate_actions"`
	Scheduled    []Action           `json:"scheduled_actions"`
	Monitoring   []Action           `json:"monitoring_actions"`
	Conflicts    []Conflict         `json:"conflicts"`
	Evaluations  []EvaluationResult `json:"evaluations"`
	Incidents    []IncidentRecord   `json:"incidents,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at"`
	Duration     float64            `json:"duration_seconds"`
}

func newPlan() *Plan {
	return &Plan{
		Status:     PlanComplete,
		Immediate:  []Action{},
		Scheduled:  []Action{},
		Monitoring: []Action{},
		Conflicts:  []Conflict{},
	}
}

// HaltPlan builds the plan for a critical safety override: one CRITICAL
// immediate action per critical safety finding and nothing else.
func HaltPlan(safety *EvaluationResult) *Plan {
	p := newPlan()
	p.Status = PlanCriticalHalt
	p.Message = "Critical safety issues detected - all other operations suspended"
	p.SafetyStatus = safety.SafetyStatus
	p.Immediate = tier(safety.FindingsWithSeverity(SeverityCritical), safety.Evaluator, LabelCritical, ActionSafetyViolation)
	p.Evaluations = []EvaluationResult{*safety}
	return p
}

// Merge builds a plan from whichever evaluator results exist. Nil results
// are evaluators that did not run. Merge never fails: errored or skipped
// evaluators simply contribute no actions.
//
// Immediate actions are safety-critical, then safety-high, then actionable
// leaks; each tier is ordered by descending priority with ties kept in
// input order.
func Merge(safety, leak, energy *EvaluationResult) *Plan {
	p := newPlan()

	if safety != nil {
		p.SafetyStatus = safety.SafetyStatus
		p.Immediate = append(p.Immediate, tier(safety.FindingsWithSeverity(SeverityCritical), safety.Evaluator, LabelCritical, ActionSafetyViolation)...)
		p.Immediate = append(p.Immediate, tier(safety.FindingsWithSeverity(SeverityHigh), safety.Evaluator, LabelHigh, ActionSafetyWarning)...)

		for _, rec := range safety.Recommendations {
			p.Monitoring = append(p.Monitoring, Action{
				Priority:    LabelMonitor,
				Agent:       safety.Evaluator,
				Type:        ActionMonitoring,
				Description: rec,
			})
		}
		for _, sev := range []Severity{SeverityMedium, SeverityLow} {
			p.Monitoring = append(p.Monitoring, tier(safety.FindingsWithSeverity(sev), safety.Evaluator, LabelMonitor, ActionMonitoring)...)
		}
		p.Evaluations = append(p.Evaluations, *safety)
	}

	if leak != nil {
		var actionable, watch []Finding
		for i := range leak.Findings {
			if IsActionable(&leak.Findings[i]) {
				actionable = append(actionable, leak.Findings[i])
			} else {
				watch = append(watch, leak.Findings[i])
			}
		}
		p.Immediate = append(p.Immediate, tier(actionable, leak.Evaluator, LabelHigh, ActionLeak)...)
		p.Monitoring = append(p.Monitoring, tier(watch, leak.Evaluator, LabelMonitor, ActionMonitoring)...)
		p.Evaluations = append(p.Evaluations, *leak)
	}

	if energy != nil {
		// energy output is advisory scheduling; it is never promoted to immediate
		if energy.Status == StatusSuccess {
			if energy.Summary != "" || energy.TotalSavings != 0 {
				p.Scheduled = append(p.Scheduled, Action{
					Priority:         LabelNormal,
					Agent:            energy.Evaluator,
					Type:             ActionOptimization,
					Description:      energy.Summary,
					EstimatedSavings: energy.TotalSavings,
				})
			}
			for _, f := range energy.Findings {
				a := toAction(f, energy.Evaluator, LabelNormal, ActionOptimization)
				a.EstimatedSavings = f.EstimatedSavings
				p.Scheduled = append(p.Scheduled, a)
			}
		}
		p.Evaluations = append(p.Evaluations, *energy)
	}

	p.Conflicts = DetectConflicts(leak, energy)
	return p
}

// DetectConflicts reports the leak/energy pressure conflict: leak response
// needs full pressure while energy optimization wants to reduce pumping.
func DetectConflicts(leak, energy *EvaluationResult) []Conflict {
	conflicts := []Conflict{}
	if leak == nil || energy == nil || energy.Status != StatusSuccess {
		return conflicts
	}
	for i := range leak.Findings {
		if IsActionable(&leak.Findings[i]) {
			conflicts = append(conflicts, Conflict{
				Type:        "priority_conflict",
				Description: "Leak response requires full pressure while energy optimization suggests reducing pump usage",
				Resolution:  "Leak response takes priority - energy optimization deferred to scheduled actions for reference only",
				Agents:      []string{leak.Evaluator, energy.Evaluator},
			})
			break
		}
	}
	return conflicts
}

func tier(findings []Finding, agent, label, actionType string) []Action {
	out := make([]Action, 0, len(findings))
	for _, f := range findings {
		out = append(out, toAction(f, agent, label, actionType))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func toAction(f Finding, agent, label, actionType string) Action {
	desc := f.Reasoning
	if f.Title != "" {
		desc = f.Title
	}
	return Action{
		Priority:     label,
		Score:        f.Priority,
		Agent:        agent,
		Type:         actionType,
		AssetID:      f.AssetID,
		AssetKind:    f.AssetKind,
		Description:  desc,
		Steps:        f.Recommended.Steps,
		Resources:    f.Recommended.Resources,
		DispatchCrew: f.Recommended.DispatchCrew,
		Confidence:   f.Confidence,
	}
}
