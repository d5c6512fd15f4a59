package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aware/internal/sensor"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aware/internal/decision")

// Run triggers.
const (
	TriggerAll    = "all"
	TriggerSafety = "safety"
	TriggerLeak   = "leak"
	TriggerEnergy = "energy"
)

// Run outcomes reported to Hooks.OnRun in addition to the plan statuses.
const (
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

var (
	// ErrRunCancelled is returned when the caller's context ends before the
	// plan is merged. Incidents already written are kept.
	ErrRunCancelled = errors.New("coordination run cancelled")

	// ErrSnapshot is returned when sensor data could not be read.
	ErrSnapshot = errors.New("sensor snapshot failed")
)

// Hooks receives coordination events. Nil fields are skipped.
type Hooks struct {
	OnEvaluation func(evaluator string, status Status, duration float64)
	OnIncident   func(kind Category, outcome IncidentOutcome)
	OnRun        func(trigger, outcome string, duration float64)
	OnRule       func(rule string)
}

// Evaluators is the set of evaluators a coordinator drives.
type Evaluators struct {
	Safety Evaluator
	Leak   Evaluator
	Energy Evaluator
}

// Coordinator sequences evaluators through the decision table, records
// incidents between stages, and merges the results into a plan. Runs are
// serialized: a second run waits for the first to finish.
type Coordinator struct {
	source    sensor.Source
	evals     Evaluators
	lifecycle *Lifecycle
	notifier  Notifier
	logger    log.Logger
	hooks     Hooks
	sem       chan struct{}
	now       func() time.Time
}

// NewCoordinator wires a coordinator. notifier may be nil.
func NewCoordinator(source sensor.Source, evals Evaluators, lifecycle *Lifecycle, notifier Notifier, logger log.Logger, hooks Hooks) *Coordinator {
	switch {
	case source == nil:
		panic(xerrors.New("sensor source is required"))
	case evals.Safety == nil || evals.Leak == nil || evals.Energy == nil:
		panic(xerrors.New("safety, leak and energy evaluators are required"))
	case lifecycle == nil:
		panic(xerrors.New("incident lifecycle is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{
		source:    source,
		evals:     evals,
		lifecycle: lifecycle,
		notifier:  notifier,
		logger:    logger,
		hooks:     hooks,
		sem:       make(chan struct{}, 1),
		now:       time.Now,
	}
}

// run is the shared envelope: it serializes, assigns a run ID, times the
// run, and notifies after the lock is released.
func (c *Coordinator) run(ctx context.Context, trigger string, body func(context.Context, *runState) (*Plan, error)) (*Plan, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.observeRun(trigger, RunCancelled, 0)
		return nil, fmt.Errorf("%w: waiting for previous run: %w", ErrRunCancelled, ctx.Err())
	}

	plan, err := func() (*Plan, error) {
		defer func() { <-c.sem }()

		start := c.now()
		id := ulid.Make().String()
		rs := &runState{
			id:     id,
			logger: c.logger.With("run_id", id, "trigger", trigger),
		}

		ctx, span := tracer.Start(ctx, "decision.Run", trace.WithAttributes(
			attribute.String("aware.run_id", rs.id),
			attribute.String("aware.trigger", trigger),
		))
		defer span.End()

		rs.logger.Info(ctx, "coordination run started")

		plan, err := body(ctx, rs)
		dur := c.now().Sub(start).Seconds()
		if err != nil {
			outcome := RunFailed
			if errors.Is(err, ErrRunCancelled) {
				outcome = RunCancelled
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			rs.logger.Warn(ctx, "coordination run aborted", "outcome", outcome, "error", err, "incidents", len(rs.incidents))
			c.observeRun(trigger, outcome, dur)
			return nil, err
		}

		plan.RunID = rs.id
		plan.Trigger = trigger
		plan.Incidents = rs.incidents
		plan.StartedAt = start
		plan.CompletedAt = c.now()
		plan.Duration = dur

		span.SetAttributes(
			attribute.String("aware.plan.status", string(plan.Status)),
			attribute.Int("aware.plan.immediate", len(plan.Immediate)),
		)
		rs.logger.Info(ctx, "coordination run complete",
			"status", plan.Status,
			"immediate", len(plan.Immediate),
			"scheduled", len(plan.Scheduled),
			"monitoring", len(plan.Monitoring),
			"conflicts", len(plan.Conflicts),
			"duration", dur,
		)
		c.observeRun(trigger, string(plan.Status), dur)
		return plan, nil
	}()
	if err != nil {
		return nil, err
	}

	c.notify(ctx, plan)
	return plan, nil
}

type runState struct {
	id        string
	logger    log.Logger
	incidents []IncidentRecord
}

// RunAll runs safety, then leak, then energy, consulting the decision
// table after safety and leak.
func (c *Coordinator) RunAll(ctx context.Context) (*Plan, error) {
	return c.run(ctx, TriggerAll, func(ctx context.Context, rs *runState) (*Plan, error) {
		snap, err := c.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		safety := c.stage(ctx, rs, c.evals.Safety, snap)
		c.recordIncidents(ctx, rs, safety)
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		if t, rule := Decide(StageSafety, safety); t == TransitionHalt {
			c.ruleFired(ctx, rs, rule)
			return HaltPlan(safety), nil
		}

		leak := c.stage(ctx, rs, c.evals.Leak, snap)
		c.recordIncidents(ctx, rs, leak)
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		var energy *EvaluationResult
		if t, rule := Decide(StageLeak, leak); t == TransitionSkipEnergy {
			c.ruleFired(ctx, rs, rule)
			energy = &EvaluationResult{
				Evaluator: c.evals.Energy.Name(),
				Category:  c.evals.Energy.Category(),
				Status:    StatusSkipped,
				Findings:  []Finding{},
				Reason:    rule.Reason,
			}
		} else {
			energy = c.stage(ctx, rs, c.evals.Energy, snap)
		}
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		return Merge(safety, leak, energy), nil
	})
}

// RunSafety runs only the safety evaluator. A CRITICAL result still halts.
func (c *Coordinator) RunSafety(ctx context.Context) (*Plan, error) {
	return c.run(ctx, TriggerSafety, func(ctx context.Context, rs *runState) (*Plan, error) {
		snap, err := c.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		safety := c.stage(ctx, rs, c.evals.Safety, snap)
		c.recordIncidents(ctx, rs, safety)
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		if t, rule := Decide(StageSafety, safety); t == TransitionHalt {
			c.ruleFired(ctx, rs, rule)
			return HaltPlan(safety), nil
		}
		return Merge(safety, nil, nil), nil
	})
}

// RunLeak runs only the leak evaluator.
func (c *Coordinator) RunLeak(ctx context.Context) (*Plan, error) {
	return c.run(ctx, TriggerLeak, func(ctx context.Context, rs *runState) (*Plan, error) {
		snap, err := c.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		leak := c.stage(ctx, rs, c.evals.Leak, snap)
		c.recordIncidents(ctx, rs, leak)
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		return Merge(nil, leak, nil), nil
	})
}

// RunEnergy runs only the energy evaluator. Energy findings never create incidents.
func (c *Coordinator) RunEnergy(ctx context.Context) (*Plan, error) {
	return c.run(ctx, TriggerEnergy, func(ctx context.Context, rs *runState) (*Plan, error) {
		snap, err := c.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		energy := c.stage(ctx, rs, c.evals.Energy, snap)
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		return Merge(nil, nil, energy), nil
	})
}

func (c *Coordinator) snapshot(ctx context.Context) (*sensor.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "decision.Snapshot")
	defer span.End()

	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrRunCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	span.SetAttributes(
		attribute.Int("aware.snapshot.readings", len(snap.Readings)),
		attribute.Int("aware.snapshot.equipment", len(snap.Equipment)),
		attribute.Int("aware.snapshot.prices", len(snap.Prices)),
	)
	return snap, nil
}

// stage runs one evaluator and normalizes its result. A panicking or
// nil-returning evaluator is reported as StatusError.
func (c *Coordinator) stage(ctx context.Context, rs *runState, ev Evaluator, snap *sensor.Snapshot) (res *EvaluationResult) {
	ctx, span := tracer.Start(ctx, "decision.Evaluate", trace.WithAttributes(
		attribute.String("aware.evaluator", ev.Name()),
	))
	defer span.End()

	start := c.now()
	defer func() {
		if r := recover(); r != nil {
			res = &EvaluationResult{Status: StatusError, Error: fmt.Sprintf("evaluator panic: %v", r)}
		}
		if res == nil {
			res = &EvaluationResult{Status: StatusError, Error: "evaluator returned no result"}
		}
		res.Evaluator = ev.Name()
		res.Category = ev.Category()
		if res.Findings == nil {
			res.Findings = []Finding{}
		}
		if res.Duration == 0 {
			res.Duration = c.now().Sub(start).Seconds()
		}

		span.SetAttributes(
			attribute.String("aware.evaluation.status", string(res.Status)),
			attribute.Int("aware.evaluation.findings", len(res.Findings)),
		)
		if res.Status == StatusError {
			span.SetStatus(codes.Error, res.Error)
			rs.logger.Warn(ctx, "evaluator failed", "evaluator", res.Evaluator, "error", res.Error)
		} else {
			rs.logger.Info(ctx, "evaluator finished",
				"evaluator", res.Evaluator,
				"status", res.Status,
				"findings", len(res.Findings),
				"duration", res.Duration,
			)
		}
		if c.hooks.OnEvaluation != nil {
			c.hooks.OnEvaluation(res.Evaluator, res.Status, res.Duration)
		}
	}()

	return ev.Evaluate(ctx, snap)
}

// recordIncidents runs every finding of a stage through the lifecycle
// manager. Persistence failures are recorded on the plan and never abort
// the run.
func (c *Coordinator) recordIncidents(ctx context.Context, rs *runState, res *EvaluationResult) {
	for i := range res.Findings {
		f := &res.Findings[i]
		inc, outcome, err := c.lifecycle.create(ctx, f, res.Evaluator, rs.id)
		if outcome == OutcomeNotActionable {
			continue
		}
		rec := IncidentRecord{AssetID: f.AssetID, Category: f.Category, Outcome: outcome}
		if inc != nil {
			rec.IncidentID = inc.ID
		}
		if err != nil {
			rec.Error = err.Error()
		}
		rs.incidents = append(rs.incidents, rec)
	}
}

func (c *Coordinator) ruleFired(ctx context.Context, rs *runState, r Rule) {
	rs.logger.Warn(ctx, "decision rule fired", "rule", r.Name, "transition", r.Then, "reason", r.Reason)
	trace.SpanFromContext(ctx).AddEvent("decision.rule", trace.WithAttributes(
		attribute.String("aware.rule", r.Name),
		attribute.String("aware.transition", string(r.Then)),
	))
	if c.hooks.OnRule != nil {
		c.hooks.OnRule(r.Name)
	}
}

func (c *Coordinator) notify(ctx context.Context, p *Plan) {
	if c.notifier == nil || (p.Status != PlanCriticalHalt && len(p.Immediate) == 0) {
		return
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), p); err != nil {
		c.logger.Error(ctx, err, "plan notification failed", "run_id", p.RunID)
	}
}

func (c *Coordinator) observeRun(trigger, outcome string, dur float64) {
	if c.hooks.OnRun != nil {
		c.hooks.OnRun(trigger, outcome, dur)
	}
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRunCancelled, err)
	}
	return nil
}
