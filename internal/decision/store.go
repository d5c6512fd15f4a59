package decision

import (
	"context"
	"errors"
)

var (
	// ErrDuplicateIncident is returned by IncidentStore.Insert when an
	// active incident already exists for the same asset and kind.
	ErrDuplicateIncident = errors.New("active incident already exists for asset and kind")

	// ErrIncidentNotFound is returned when an incident ID is unknown.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidTransition is returned for state changes the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid incident state transition")

	// ErrPersistence wraps store failures surfaced by the lifecycle manager.
	ErrPersistence = errors.New("incident persistence failed")
)

// IncidentStore is the persistence interface for incidents.
//
// Insert must enforce the one-active-incident-per-(asset_ref, kind) rule
// and return ErrDuplicateIncident when it would be violated. The store
// assigns ID and CreatedAt.
type IncidentStore interface {
	Query(ctx context.Context, q IncidentQuery) ([]Incident, error)
	Insert(ctx context.Context, inc *Incident) (*Incident, error)
	Get(ctx context.Context, id string) (*Incident, bool, error)
	UpdateState(ctx context.Context, id string, to IncidentState) (*Incident, error)
}
