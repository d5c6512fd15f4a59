package decision

import "math"

const (
	// ActionableThreshold is the minimum confidence for a leak finding to
	// create an incident. The comparison is inclusive.
	ActionableThreshold = 0.70

	// AdvisoryThreshold labels findings as advisory-actionable for operators.
	// It is independent from ActionableThreshold.
	AdvisoryThreshold = 0.84

	// EnergyDeferralConfidence: any leak finding strictly above this defers
	// energy optimization for the run.
	EnergyDeferralConfidence = 0.95

	maxPriority = 100
)

var urgencyBonus = map[Urgency]int{
	UrgencyImmediate: 50,
	UrgencySoon:      30,
	UrgencyMonitor:   10,
	UrgencyCritical:  50,
	UrgencyHigh:      30,
	UrgencyMedium:    10,
	UrgencyLow:       0,
}

var urgencySeverity = map[Urgency]Severity{
	UrgencyImmediate: SeverityCritical,
	UrgencySoon:      SeverityHigh,
	UrgencyMonitor:   SeverityMedium,
	UrgencyCritical:  SeverityCritical,
	UrgencyHigh:      SeverityHigh,
	UrgencyMedium:    SeverityMedium,
	UrgencyLow:       SeverityLow,
}

// Priority scores a finding 0..100: floor(confidence*50) plus the urgency
// bonus. Unknown urgencies get the monitor bonus.
func Priority(confidence float64, u Urgency) int {
	bonus, ok := urgencyBonus[u]
	if !ok {
		bonus = urgencyBonus[UrgencyMonitor]
	}
	p := int(math.Floor(clampConfidence(confidence)*50)) + bonus
	if p > maxPriority {
		return maxPriority
	}
	if p < 0 {
		return 0
	}
	return p
}

// SeverityForUrgency maps urgency to incident severity, defaulting to medium.
func SeverityForUrgency(u Urgency) Severity {
	if s, ok := urgencySeverity[u]; ok {
		return s
	}
	return SeverityMedium
}

// IsActionable reports whether a finding clears the incident creation gate.
// Safety findings of critical or high severity are always actionable;
// leak findings need confidence >= ActionableThreshold. Energy findings
// never create incidents.
func IsActionable(f *Finding) bool {
	switch f.Category {
	case CategorySafety:
		return f.Severity == SeverityCritical || f.Severity == SeverityHigh
	case CategoryLeak:
		return f.Confidence >= ActionableThreshold
	default:
		return false
	}
}

// Score fills Severity, Priority and Advisory from confidence and urgency.
// Safety findings keep the severity reported by the evaluator.
func Score(f *Finding) {
	f.Confidence = clampConfidence(f.Confidence)
	if f.Category != CategorySafety || f.Severity == "" {
		f.Severity = SeverityForUrgency(f.Urgency)
	}
	f.Priority = Priority(f.Confidence, f.Urgency)
	f.Advisory = f.Confidence >= AdvisoryThreshold
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
