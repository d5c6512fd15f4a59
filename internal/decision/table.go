package decision

// Stage is a point in the coordination run after which rules are evaluated.
type Stage string

const (
	StageSafety Stage = "safety"
	StageLeak   Stage = "leak"
)

// Transition is what the coordinator does next.
type Transition string

const (
	TransitionContinue   Transition = "continue"
	TransitionHalt       Transition = "critical_halt"
	TransitionSkipEnergy Transition = "skip_energy"
)

// Rule is one row of the coordination decision table.
type Rule struct {
	Name   string
	After  Stage
	When   func(*EvaluationResult) bool
	Then   Transition
	Reason string
}

// Rules is the coordination decision table. The first matching rule for a
// stage wins; no match means TransitionContinue.
var Rules = []Rule{
	{
		Name:   "critical-safety-halt",
		After:  StageSafety,
		When:   safetyCritical,
		Then:   TransitionHalt,
		Reason: "critical safety status suspends leak detection and energy optimization",
	},
	{
		Name:   "near-certain-leak-defers-energy",
		After:  StageLeak,
		When:   nearCertainLeak,
		Then:   TransitionSkipEnergy,
		Reason: "critical leaks detected - energy optimization deferred to preserve leak-response pressure",
	},
}

// Decide evaluates the decision table for the given stage and result.
func Decide(after Stage, res *EvaluationResult) (Transition, Rule) {
	if res == nil {
		return TransitionContinue, Rule{}
	}
	for _, r := range Rules {
		if r.After == after && r.When(res) {
			return r.Then, r
		}
	}
	return TransitionContinue, Rule{}
}

func safetyCritical(res *EvaluationResult) bool {
	return res.SafetyStatus == SafetyCritical
}

func nearCertainLeak(res *EvaluationResult) bool {
	for _, f := range res.Findings {
		if f.Confidence > EnergyDeferralConfidence {
			return true
		}
	}
	return false
}
