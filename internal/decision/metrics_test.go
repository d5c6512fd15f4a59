package decision

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	h := m.Hooks()

	h.OnEvaluation("leak_evaluator", StatusSuccess, 1.5)
	h.OnEvaluation("energy_evaluator", StatusSkipped, 0)
	h.OnIncident(CategoryLeak, OutcomeCreated)
	h.OnIncident(CategoryLeak, OutcomeDuplicate)
	h.OnIncident(CategoryLeak, OutcomeDuplicate)
	h.OnRun(TriggerAll, string(PlanComplete), 4.2)
	h.OnRun(TriggerAll, RunCancelled, 0)
	h.OnRule("critical-safety-halt")

	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("leak_evaluator", "success")); got != 1 {
		t.Errorf("evaluations{leak,success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("energy_evaluator", "skipped")); got != 1 {
		t.Errorf("evaluations{energy,skipped} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.EvaluationDuration); got != 1 {
		t.Errorf("evaluation duration series = %d, want 1 (skipped not observed)", got)
	}
	if got := testutil.ToFloat64(m.IncidentsTotal.WithLabelValues("leak", "duplicate_suppressed")); got != 2 {
		t.Errorf("incidents{leak,duplicate} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("all", "cancelled")); got != 1 {
		t.Errorf("runs{all,cancelled} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RulesFiredTotal.WithLabelValues("critical-safety-halt")); got != 1 {
		t.Errorf("rules fired = %v, want 1", got)
	}
}

func TestObserveReasoningCall(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveReasoningCall("leak_evaluator", 1200, 300, 2.5, false)
	m.ObserveReasoningCall("leak_evaluator", 800, 0, 60, true)

	if got := testutil.ToFloat64(m.ReasoningCallsTotal.WithLabelValues("leak_evaluator", "success")); got != 1 {
		t.Errorf("calls{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReasoningCallsTotal.WithLabelValues("leak_evaluator", "error")); got != 1 {
		t.Errorf("calls{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReasoningTokensIn); got != 2000 {
		t.Errorf("tokens in = %v, want 2000", got)
	}
	if got := testutil.ToFloat64(m.ReasoningTokensOut); got != 300 {
		t.Errorf("tokens out = %v, want 300", got)
	}
}
