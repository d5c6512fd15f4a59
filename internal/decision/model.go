package decision

import (
	"strings"
	"time"

	"github.com/linnemanlabs/aware/internal/sensor"
)

// Category is the risk category an evaluator scores.
type Category string

const (
	CategoryLeak   Category = "leak"
	CategorySafety Category = "safety"
	CategoryEnergy Category = "energy"
)

// Urgency is how soon a finding needs attention. Leak findings use
// immediate/soon/monitor; safety findings reuse their severity levels.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencySoon      Urgency = "soon"
	UrgencyMonitor   Urgency = "monitor"
	UrgencyCritical  Urgency = "critical"
	UrgencyHigh      Urgency = "high"
	UrgencyMedium    Urgency = "medium"
	UrgencyLow       Urgency = "low"
)

// Severity of a finding or incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity normalizes a free-form severity label. Unknown labels map to medium.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// RecommendedAction is the structured remediation attached to a finding.
type RecommendedAction struct {
	Type              string   `json:"type"`
	Steps             []string `json:"steps,omitempty"`
	Resources         []string `json:"resources,omitempty"` // e.g. valves to close, affected assets
	DispatchCrew      bool     `json:"dispatch_crew"`
	EstimatedLocation string   `json:"estimated_location,omitempty"`
}

// Finding is a normalized risk assertion about one asset.
type Finding struct {
	AssetID     string            `json:"asset_id"`
	AssetKind   sensor.AssetKind  `json:"asset_kind"`
	Category    Category          `json:"category"`
	Confidence  float64           `json:"confidence"`
	Urgency     Urgency           `json:"urgency"`
	Severity    Severity          `json:"severity"`
	Priority    int               `json:"priority"`
	Title       string            `json:"title,omitempty"`
	Reasoning   string            `json:"reasoning"`
	Recommended RecommendedAction `json:"recommended_action"`
	Indicators  map[string]string `json:"raw_indicators,omitempty"`

	// Advisory marks findings at or above the advisory label threshold.
	// It never gates incident creation.
	Advisory bool `json:"advisory_actionable"`

	// Guardrail is set when the finding came from a deterministic check
	// rather than the reasoning call.
	Guardrail bool `json:"guardrail,omitempty"`

	// EstimatedSavings is set on energy findings (USD per day).
	EstimatedSavings float64 `json:"estimated_savings_usd,omitempty"`
}

// Status of one evaluator execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoData  Status = "no_data"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// SafetyStatus is the aggregate safety verdict.
type SafetyStatus string

const (
	SafetySafe     SafetyStatus = "SAFE"
	SafetyWarning  SafetyStatus = "WARNING"
	SafetyCritical SafetyStatus = "CRITICAL"
	SafetyUnknown  SafetyStatus = "UNKNOWN"
)

// ParseSafetyStatus normalizes the aggregate label returned by the reasoning call.
func ParseSafetyStatus(s string) SafetyStatus {
	switch SafetyStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case SafetySafe:
		return SafetySafe
	case SafetyWarning:
		return SafetyWarning
	case SafetyCritical:
		return SafetyCritical
	default:
		return SafetyUnknown
	}
}

// EvaluationResult is what an evaluator returns for one snapshot.
type EvaluationResult struct {
	Evaluator string    `json:"evaluator"`
	Category  Category  `json:"category"`
	Status    Status    `json:"status"`
	Findings  []Finding `json:"findings"`
	Summary   string    `json:"summary,omitempty"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"` // why a stage was skipped

	// safety
	SafetyStatus    SafetyStatus `json:"safety_status,omitempty"`
	Recommendations []string     `json:"monitoring_recommendations,omitempty"`

	// energy
	TotalSavings float64 `json:"total_estimated_savings_usd,omitempty"`

	AssetsAnalyzed int     `json:"assets_analyzed,omitempty"`
	Duration       float64 `json:"duration_seconds"`
	Model          string  `json:"model,omitempty"`
}

// FindingsWithSeverity returns findings whose severity matches, in input order.
func (r *EvaluationResult) FindingsWithSeverity(sev Severity) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// Incident lifecycle states.
type IncidentState string

const (
	StateOpen         IncidentState = "open"
	StateAcknowledged IncidentState = "acknowledged"
	StateResolved     IncidentState = "resolved"
)

// ActiveStates are the states covered by the one-active-incident rule.
var ActiveStates = []IncidentState{StateOpen, StateAcknowledged}

// Incident is a persisted record of an actionable finding.
type Incident struct {
	ID          string           `json:"id"`
	Kind        Category         `json:"kind"`
	Severity    Severity         `json:"severity"`
	AssetRef    string           `json:"asset_ref"`
	AssetKind   sensor.AssetKind `json:"asset_kind"`
	State       IncidentState    `json:"state"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	DetectedBy  string           `json:"detected_by"`
	Confidence  float64          `json:"confidence"`
	Priority    int              `json:"priority"`
	Metadata    map[string]any   `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IncidentQuery filters incidents. Empty fields match everything.
type IncidentQuery struct {
	Kind     Category
	AssetRef string
	States   []IncidentState
	Limit    int
}

// Matches reports whether inc satisfies the query filters (Limit is ignored).
func (q IncidentQuery) Matches(inc *Incident) bool {
	if q.Kind != "" && inc.Kind != q.Kind {
		return false
	}
	if q.AssetRef != "" && inc.AssetRef != q.AssetRef {
		return false
	}
	if len(q.States) == 0 {
		return true
	}
	for _, s := range q.States {
		if inc.State == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether an operator may move an incident from one state to another.
func CanTransition(from, to IncidentState) bool {
	switch from {
	case StateOpen:
		return to == StateAcknowledged || to == StateResolved
	case StateAcknowledged:
		return to == StateResolved
	default:
		return false
	}
}
