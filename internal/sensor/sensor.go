// Package sensor defines the read-only view of the piped network that
// evaluators score: sensor readings, valves and pumps, and energy prices.
package sensor

import (
	"context"
	"errors"
	"sort"
	"time"
)

// AssetKind identifies which part of the network graph a reading belongs to.
type AssetKind string

const (
	// AssetNode is a junction, tank, pump station or other graph vertex.
	AssetNode AssetKind = "node"

	// AssetEdge is a pipe between two nodes.
	AssetEdge AssetKind = "edge"
)

// Sensor types the evaluators understand.
const (
	TypePressure = "pressure"
	TypeFlow     = "flow"
	TypeAcoustic = "acoustic"
)

// ErrRecordingUnsupported is returned by sources that cannot accept readings.
var ErrRecordingUnsupported = errors.New("sensor source does not support recording")

// Reading is a single observed sensor value.
type Reading struct {
	ID         string    `json:"id,omitempty"`
	AssetID    string    `json:"asset_id"`
	AssetKind  AssetKind `json:"asset_kind"`
	Type       string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	ObservedAt time.Time `json:"observed_at"`
}

// Equipment is a valve or pump and its current operating state.
type Equipment struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"` // valve or pump
	Status   string  `json:"status"`
	Setpoint float64 `json:"setpoint"`
}

// Price is one hour of the day-ahead energy price curve.
type Price struct {
	At          time.Time `json:"at"`
	PricePerKWh float64   `json:"price_per_kwh"`
	OffPeak     bool      `json:"off_peak"`
}

// Snapshot is the consistent view of the network taken once per coordination run.
type Snapshot struct {
	TakenAt   time.Time   `json:"taken_at"`
	Readings  []Reading   `json:"readings"`
	Equipment []Equipment `json:"equipment"`
	Prices    []Price     `json:"prices"`
}

// Source produces full current snapshots.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Recorder accepts new readings. Sources that also implement Recorder can
// be fed through the API.
type Recorder interface {
	Record(ctx context.Context, readings ...Reading) error
}

// ByType returns all readings of the given sensor type in snapshot order.
func (s *Snapshot) ByType(sensorType string) []Reading {
	var out []Reading
	for _, r := range s.Readings {
		if r.Type == sensorType {
			out = append(out, r)
		}
	}
	return out
}

// Pumps returns the equipment entries whose kind is pump.
func (s *Snapshot) Pumps() []Equipment {
	var out []Equipment
	for _, e := range s.Equipment {
		if e.Kind == "pump" {
			out = append(out, e)
		}
	}
	return out
}

// UpcomingPrices returns at most limit prices ordered by time.
func (s *Snapshot) UpcomingPrices(limit int) []Price {
	out := make([]Price, len(s.Prices))
	copy(out, s.Prices)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AssetReadings is the deduplicated set of readings for one asset.
type AssetReadings struct {
	AssetID   string
	AssetKind AssetKind
	Readings  []Reading // one per sensor type, ordered by type
}

// LatestByAsset groups readings of the given asset kind first by asset,
// then by sensor type, keeping only the most recent reading per type.
// Assets are returned in order of first appearance.
func LatestByAsset(readings []Reading, kind AssetKind) []AssetReadings {
	latest := make(map[string]map[string]Reading)
	var order []string

	for _, r := range readings {
		if r.AssetKind != kind {
			continue
		}
		byType, ok := latest[r.AssetID]
		if !ok {
			byType = make(map[string]Reading)
			latest[r.AssetID] = byType
			order = append(order, r.AssetID)
		}
		if existing, ok := byType[r.Type]; ok && !r.ObservedAt.After(existing.ObservedAt) {
			continue
		}
		byType[r.Type] = r
	}

	out := make([]AssetReadings, 0, len(order))
	for _, id := range order {
		byType := latest[id]
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)

		ar := AssetReadings{AssetID: id, AssetKind: kind}
		for _, t := range types {
			ar.Readings = append(ar.Readings, byType[t])
		}
		out = append(out, ar)
	}
	return out
}

// AveragePressure returns the mean of all pressure readings, or fallback
// when there are none.
func (s *Snapshot) AveragePressure(fallback float64) float64 {
	ps := s.ByType(TypePressure)
	if len(ps) == 0 {
		return fallback
	}
	var sum float64
	for _, r := range ps {
		sum += r.Value
	}
	return sum / float64(len(ps))
}
