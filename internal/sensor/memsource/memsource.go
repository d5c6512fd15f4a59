// Package memsource provides an in-memory implementation of sensor.Source.
package memsource

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aware/internal/sensor"
)

// Source holds readings, equipment and prices in memory. Suitable for dev/testing.
type Source struct {
	mu        sync.RWMutex
	readings  []sensor.Reading
	equipment []sensor.Equipment
	prices    []sensor.Price
	now       func() time.Time
}

// New initializes an empty Source.
func New() *Source {
	return &Source{now: time.Now}
}

// Snapshot returns a copy of everything currently held.
func (s *Source) Snapshot(_ context.Context) (*sensor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &sensor.Snapshot{
		TakenAt:   s.now(),
		Readings:  make([]sensor.Reading, len(s.readings)),
		Equipment: make([]sensor.Equipment, len(s.equipment)),
		Prices:    make([]sensor.Price, len(s.prices)),
	}
	copy(snap.Readings, s.readings)
	copy(snap.Equipment, s.equipment)
	copy(snap.Prices, s.prices)
	return snap, nil
}

// Record appends readings, assigning IDs and observation times where missing.
func (s *Source) Record(_ context.Context, readings ...sensor.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range readings {
		if r.ID == "" {
			r.ID = ulid.Make().String()
		}
		if r.ObservedAt.IsZero() {
			r.ObservedAt = s.now()
		}
		s.readings = append(s.readings, r)
	}
	return nil
}

// SetEquipment replaces the valve and pump inventory.
func (s *Source) SetEquipment(eq ...sensor.Equipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equipment = append([]sensor.Equipment(nil), eq...)
}

// SetPrices replaces the energy price curve.
func (s *Source) SetPrices(prices ...sensor.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append([]sensor.Price(nil), prices...)
}
