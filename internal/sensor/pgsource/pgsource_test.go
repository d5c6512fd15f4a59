package pgsource_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aware/internal/postgres"
	"github.com/linnemanlabs/aware/internal/sensor"
	"github.com/linnemanlabs/aware/internal/sensor/pgsource"
)

func openSource(t *testing.T) *pgsource.Source {
	t.Helper()
	dsn := os.Getenv("AWARE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AWARE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgsource.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgsource.New: %v", err)
	}
	return s
}

func TestRecordAndSnapshot(t *testing.T) {
	s := openSource(t)
	ctx := context.Background()

	asset := "edge-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()
	err := s.Record(ctx,
		sensor.Reading{AssetID: asset, AssetKind: sensor.AssetEdge, Type: sensor.TypePressure, Value: 62, Unit: "psi", ObservedAt: now.Add(-time.Minute)},
		sensor.Reading{AssetID: asset, AssetKind: sensor.AssetEdge, Type: sensor.TypePressure, Value: 48, Unit: "psi", ObservedAt: now},
	)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var mine []sensor.Reading
	for _, r := range snap.Readings {
		if r.AssetID == asset {
			mine = append(mine, r)
		}
	}
	if len(mine) != 2 {
		t.Fatalf("found %d readings for %s, want 2", len(mine), asset)
	}

	latest := sensor.LatestByAsset(mine, sensor.AssetEdge)
	if len(latest) != 1 || latest[0].Readings[0].Value != 48 {
		t.Errorf("latest = %+v, want single pressure reading of 48", latest)
	}
}
