package decision

import (
	"context"

	"github.com/linnemanlabs/aware/internal/sensor"
)

// Evaluator scores one risk category from a snapshot.
//
// Evaluate never panics and never returns nil in normal operation: reasoning
// failures, timeouts and malformed output are reported as StatusError on
// the result so the coordinator can keep going.
type Evaluator interface {
	Name() string
	Category() Category
	Evaluate(ctx context.Context, snap *sensor.Snapshot) *EvaluationResult
}

// Notifier is told about plans that need operator attention.
type Notifier interface {
	Notify(ctx context.Context, p *Plan) error
}
