package memsource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/aware/internal/sensor"
)

func TestSource_RecordAndSnapshot(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.Record(ctx, sensor.Reading{AssetID: "P5", AssetKind: sensor.AssetEdge, Type: sensor.TypePressure, Value: 48}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Readings) != 1 {
		t.Fatalf("len(Readings) = %d, want 1", len(snap.Readings))
	}
	r := snap.Readings[0]
	if r.ID == "" {
		t.Error("expected an assigned reading ID")
	}
	if r.ObservedAt.IsZero() {
		t.Error("expected an assigned observation time")
	}
	if snap.TakenAt.IsZero() {
		t.Error("expected TakenAt to be set")
	}
}

func TestSource_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Record(ctx, sensor.Reading{AssetID: "P1", Type: sensor.TypeFlow, Value: 90, ObservedAt: time.Now()})

	snap, _ := s.Snapshot(ctx)
	snap.Readings[0].Value = 0

	again, _ := s.Snapshot(ctx)
	if again.Readings[0].Value != 90 {
		t.Errorf("Value = %v, want 90 (snapshot must not alias storage)", again.Readings[0].Value)
	}
}

func TestSource_SetEquipmentAndPrices(t *testing.T) {
	t.Parallel()

	s := New()
	s.SetEquipment(sensor.Equipment{Name: "PUMP1", Kind: "pump"})
	s.SetPrices(sensor.Price{PricePerKWh: 0.12}, sensor.Price{PricePerKWh: 0.3})

	snap, _ := s.Snapshot(context.Background())
	if len(snap.Equipment) != 1 || len(snap.Prices) != 2 {
		t.Errorf("equipment=%d prices=%d, want 1 and 2", len(snap.Equipment), len(snap.Prices))
	}
}

func TestSource_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Record(ctx, sensor.Reading{AssetID: "P1", Type: sensor.TypeFlow})
		}()
	}
	wg.Wait()

	snap, _ := s.Snapshot(ctx)
	if len(snap.Readings) != 50 {
		t.Errorf("len(Readings) = %d, want 50", len(snap.Readings))
	}
}

var (
	_ sensor.Source   = (*Source)(nil)
	_ sensor.Recorder = (*Source)(nil)
)
