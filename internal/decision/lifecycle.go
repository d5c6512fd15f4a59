package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// IncidentOutcome describes what CreateIfActionable did with a finding.
type IncidentOutcome string

const (
	OutcomeCreated       IncidentOutcome = "created"
	OutcomeDuplicate     IncidentOutcome = "duplicate_suppressed"
	OutcomeNotActionable IncidentOutcome = "not_actionable"
	OutcomeFailed        IncidentOutcome = "persistence_failed"
)

// IncidentRecord is the per-finding incident outcome carried on a plan.
type IncidentRecord struct {
	AssetID    string          `json:"asset_id"`
	Category   Category        `json:"category"`
	Outcome    IncidentOutcome `json:"outcome"`
	IncidentID string          `json:"incident_id,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Lifecycle converts actionable findings into incidents, enforcing at most
// one active incident per asset and kind.
type Lifecycle struct {
	store  IncidentStore
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewLifecycle creates a lifecycle manager over the given store.
func NewLifecycle(store IncidentStore, logger log.Logger, hooks Hooks) *Lifecycle {
	if store == nil {
		panic(xerrors.New("incident store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Lifecycle{
		store:  store,
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
	}
}

// CreateIfActionable persists a new open incident for f when it is
// actionable and no active incident exists for the same asset and kind.
// It returns (nil, nil) when the finding is below the gate or a duplicate,
// and (nil, err) wrapping ErrPersistence when the store fails. Failures are
// not retried.
func (l *Lifecycle) CreateIfActionable(ctx context.Context, f *Finding, detectedBy string) (*Incident, error) {
	inc, _, err := l.create(ctx, f, detectedBy, "")
	return inc, err
}

func (l *Lifecycle) create(ctx context.Context, f *Finding, detectedBy, runID string) (*Incident, IncidentOutcome, error) {
	ctx, span := tracer.Start(ctx, "decision.CreateIfActionable")
	defer span.End()
	span.SetAttributes(
		attribute.String("aware.asset_id", f.AssetID),
		attribute.String("aware.category", string(f.Category)),
		attribute.Float64("aware.confidence", f.Confidence),
	)

	L := l.logger.With("asset_id", f.AssetID, "kind", f.Category, "detected_by", detectedBy)

	outcome, inc, err := l.decide(ctx, L, f, detectedBy, runID)
	span.SetAttributes(attribute.String("aware.incident.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if l.hooks.OnIncident != nil {
		l.hooks.OnIncident(f.Category, outcome)
	}
	return inc, outcome, err
}

func (l *Lifecycle) decide(ctx context.Context, L log.Logger, f *Finding, detectedBy, runID string) (IncidentOutcome, *Incident, error) {
	if !IsActionable(f) {
		return OutcomeNotActionable, nil, nil
	}

	// always re-check current state; never assume a previous run's view is fresh
	existing, err := l.store.Query(ctx, IncidentQuery{
		Kind:     f.Category,
		AssetRef: f.AssetID,
		States:   ActiveStates,
		Limit:    1,
	})
	if err != nil {
		L.Error(ctx, err, "incident dedup query failed")
		return OutcomeFailed, nil, fmt.Errorf("%w: query active incidents: %w", ErrPersistence, err)
	}
	if len(existing) > 0 {
		L.Info(ctx, "duplicate incident suppressed", "existing_id", existing[0].ID, "existing_state", existing[0].State)
		return OutcomeDuplicate, nil, nil
	}

	severity := f.Severity
	if f.Category != CategorySafety {
		severity = SeverityForUrgency(f.Urgency)
	}

	inc := &Incident{
		Kind:        f.Category,
		Severity:    severity,
		AssetRef:    f.AssetID,
		AssetKind:   f.AssetKind,
		State:       StateOpen,
		Title:       incidentTitle(f),
		Description: fmt.Sprintf("Confidence: %d%%\n\n%s", int(math.Round(f.Confidence*100)), f.Reasoning),
		DetectedBy:  detectedBy,
		Confidence:  f.Confidence,
		Priority:    Priority(f.Confidence, f.Urgency),
		Metadata:    incidentMetadata(f, runID, l.now()),
	}

	created, err := l.store.Insert(ctx, inc)
	if errors.Is(err, ErrDuplicateIncident) {
		// lost a race with a concurrent writer; the store constraint is authoritative
		L.Info(ctx, "duplicate incident suppressed by store constraint")
		return OutcomeDuplicate, nil, nil
	}
	if err != nil {
		L.Error(ctx, err, "incident insert failed")
		return OutcomeFailed, nil, fmt.Errorf("%w: insert incident: %w", ErrPersistence, err)
	}

	L.Info(ctx, "incident created",
		"incident_id", created.ID,
		"severity", created.Severity,
		"priority", created.Priority,
		"confidence", created.Confidence,
	)
	return OutcomeCreated, created, nil
}

func incidentTitle(f *Finding) string {
	if f.Title != "" {
		return f.Title
	}
	switch f.Category {
	case CategoryLeak:
		return fmt.Sprintf("Potential leak at %s %s", f.AssetKind, f.AssetID)
	case CategorySafety:
		return fmt.Sprintf("Safety violation at %s", f.AssetID)
	default:
		return fmt.Sprintf("%s finding at %s", f.Category, f.AssetID)
	}
}

func incidentMetadata(f *Finding, runID string, at time.Time) map[string]any {
	md := map[string]any{
		"reasoning":           f.Reasoning,
		"urgency":             string(f.Urgency),
		"recommendation":      f.Recommended,
		"advisory_actionable": f.Advisory,
		"guardrail":           f.Guardrail,
		"detection_timestamp": at.UTC().Format(time.RFC3339),
	}
	if len(f.Indicators) > 0 {
		md["sensor_indicators"] = f.Indicators
	}
	if runID != "" {
		md["run_id"] = runID
	}
	return md
}

// Acknowledge moves an open incident to acknowledged.
func (l *Lifecycle) Acknowledge(ctx context.Context, id string) (*Incident, error) {
	return l.transition(ctx, id, StateAcknowledged)
}

// Resolve moves an open or acknowledged incident to resolved.
func (l *Lifecycle) Resolve(ctx context.Context, id string) (*Incident, error) {
	return l.transition(ctx, id, StateResolved)
}

func (l *Lifecycle) transition(ctx context.Context, id string, to IncidentState) (*Incident, error) {
	inc, err := l.store.UpdateState(ctx, id, to)
	if err != nil {
		return nil, err
	}
	l.logger.Info(ctx, "incident state changed", "incident_id", id, "state", to)
	return inc, nil
}

// Get retrieves an incident by ID.
func (l *Lifecycle) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return l.store.Get(ctx, id)
}

// List returns incidents matching q.
func (l *Lifecycle) List(ctx context.Context, q IncidentQuery) ([]Incident, error) {
	return l.store.Query(ctx, q)
}
