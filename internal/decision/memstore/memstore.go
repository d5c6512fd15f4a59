// Package memstore provides an in-memory implementation of decision.IncidentStore.
package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aware/internal/decision"
)

// Store holds incidents in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*decision.Incident // incident ID -> incident
	now       func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*decision.Incident),
		now:       time.Now,
	}
}

// Query returns copies of matching incidents, newest first.
func (s *Store) Query(_ context.Context, q decision.IncidentQuery) ([]decision.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []decision.Incident{}
	for _, inc := range s.incidents {
		if q.Matches(inc) {
			out = append(out, clone(inc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert stores a copy of inc with a fresh ID. The active-incident check
// and the write happen under one lock.
func (s *Store) Insert(_ context.Context, inc *decision.Incident) (*decision.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := decision.IncidentQuery{Kind: inc.Kind, AssetRef: inc.AssetRef, States: decision.ActiveStates}
	for _, existing := range s.incidents {
		if active.Matches(existing) {
			return nil, decision.ErrDuplicateIncident
		}
	}

	cp := clone(inc)
	cp.ID = ulid.Make().String()
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	if cp.State == "" {
		cp.State = decision.StateOpen
	}
	s.incidents[cp.ID] = &cp

	out := clone(&cp)
	return &out, nil
}

// Get retrieves an incident by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*decision.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := clone(inc)
	return &cp, true, nil
}

// UpdateState applies a lifecycle transition.
func (s *Store) UpdateState(_ context.Context, id string, to decision.IncidentState) (*decision.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, decision.ErrIncidentNotFound
	}
	if !decision.CanTransition(inc.State, to) {
		return nil, decision.ErrInvalidTransition
	}
	inc.State = to
	inc.UpdatedAt = s.now()

	cp := clone(inc)
	return &cp, nil
}

func clone(inc *decision.Incident) decision.Incident {
	cp := *inc
	cp.Metadata = maps.Clone(inc.Metadata)
	return cp
}
