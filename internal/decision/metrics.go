package decision

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the decision subsystem.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	EvaluationsTotal    *prometheus.CounterVec
	EvaluationDuration  *prometheus.HistogramVec
	IncidentsTotal      *prometheus.CounterVec
	RulesFiredTotal     *prometheus.CounterVec
	ReasoningCallsTotal *prometheus.CounterVec
	ReasoningTokensIn   prometheus.Counter
	ReasoningTokensOut  prometheus.Counter
	ReasoningDuration   *prometheus.HistogramVec
}

// NewMetrics registers and returns decision metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aware_runs_total",
			Help: "Total coordination runs by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aware_run_duration_seconds",
			Help:    "Duration of coordination runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"trigger"}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aware_evaluations_total",
			Help: "Total evaluator executions by evaluator and status.",
		}, []string{"evaluator", "status"}),
		EvaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aware_evaluation_duration_seconds",
			Help:    "Duration of evaluator executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"evaluator"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aware_incident_decisions_total",
			Help: "Findings run through the incident gate by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RulesFiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aware_decision_rules_fired_total",
			Help: "Decision table rules that changed the run flow.",
		}, []string{"rule"}),
		ReasoningCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aware_reasoning_calls_total",
			Help: "Total reasoning provider calls by evaluator and status.",
		}, []string{"evaluator", "status"}),
		ReasoningTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aware_reasoning_tokens_input_total",
			Help: "Total reasoning input tokens consumed.",
		}),
		ReasoningTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aware_reasoning_tokens_output_total",
			Help: "Total reasoning output tokens consumed.",
		}),
		ReasoningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aware_reasoning_call_duration_seconds",
			Help:    "Duration of individual reasoning calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"evaluator"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.IncidentsTotal,
		m.RulesFiredTotal,
		m.ReasoningCallsTotal,
		m.ReasoningTokensIn,
		m.ReasoningTokensOut,
		m.ReasoningDuration,
	)

	return m
}

// Hooks returns coordinator hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEvaluation: func(evaluator string, status Status, duration float64) {
			m.EvaluationsTotal.WithLabelValues(evaluator, string(status)).Inc()
			if status != StatusSkipped {
				m.EvaluationDuration.WithLabelValues(evaluator).Observe(duration)
			}
		},
		OnIncident: func(kind Category, outcome IncidentOutcome) {
			m.IncidentsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
		},
		OnRun: func(trigger, outcome string, duration float64) {
			m.RunsTotal.WithLabelValues(trigger, outcome).Inc()
			if outcome != RunCancelled {
				m.RunDuration.WithLabelValues(trigger).Observe(duration)
			}
		},
		OnRule: func(rule string) {
			m.RulesFiredTotal.WithLabelValues(rule).Inc()
		},
	}
}

// ObserveReasoningCall records one provider call made by an evaluator.
func (m *Metrics) ObserveReasoningCall(evaluator string, inputTokens, outputTokens int, duration float64, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.ReasoningCallsTotal.WithLabelValues(evaluator, status).Inc()
	m.ReasoningTokensIn.Add(float64(inputTokens))
	m.ReasoningTokensOut.Add(float64(outputTokens))
	m.ReasoningDuration.WithLabelValues(evaluator).Observe(duration)
}
