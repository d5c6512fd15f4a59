// Package pgsource provides a PostgreSQL implementation of sensor.Source.
package pgsource

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/aware/internal/sensor"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aware/internal/sensor/pgsource")

//go:embed schema.sql
var schema string

// Source reads network snapshots from PostgreSQL.
type Source struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Source. The pool is owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Source, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Source{pool: pool}, nil
}

// Snapshot fetches readings, equipment and prices concurrently and returns
// them as one snapshot. Any failing query fails the whole snapshot.
func (s *Source) Snapshot(ctx context.Context) (*sensor.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "pgsource.Snapshot", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	snap := &sensor.Snapshot{TakenAt: time.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		readings, err := s.readings(gctx)
		snap.Readings = readings
		return err
	})
	g.Go(func() error {
		eq, err := s.equipment(gctx)
		snap.Equipment = eq
		return err
	})
	g.Go(func() error {
		prices, err := s.prices(gctx)
		snap.Prices = prices
		return err
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("aware.snapshot.readings", len(snap.Readings)),
		attribute.Int("aware.snapshot.equipment", len(snap.Equipment)),
		attribute.Int("aware.snapshot.prices", len(snap.Prices)),
	)
	return snap, nil
}

// Record inserts readings in a single transaction.
func (s *Source) Record(ctx context.Context, readings ...sensor.Reading) error {
	ctx, span := tracer.Start(ctx, "pgsource.Record", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	for _, r := range readings {
		if r.ID == "" {
			r.ID = ulid.Make().String()
		}
		if r.ObservedAt.IsZero() {
			r.ObservedAt = time.Now()
		}
		batch.Queue(
			`INSERT INTO sensors (id, asset_id, asset_type, type, value, unit, last_seen)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.AssetID, string(r.AssetKind), r.Type, r.Value, r.Unit, r.ObservedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert readings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Source) readings(ctx context.Context) ([]sensor.Reading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, asset_type, type, value, unit, last_seen FROM sensors ORDER BY last_seen, id`)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var out []sensor.Reading
	for rows.Next() {
		var (
			r    sensor.Reading
			kind string
		)
		if err := rows.Scan(&r.ID, &r.AssetID, &kind, &r.Type, &r.Value, &r.Unit, &r.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		r.AssetKind = sensor.AssetKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensors: %w", err)
	}
	return out, nil
}

func (s *Source) equipment(ctx context.Context) ([]sensor.Equipment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, kind, status, setpoint FROM valves_pumps ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query valves_pumps: %w", err)
	}
	defer rows.Close()

	var out []sensor.Equipment
	for rows.Next() {
		var e sensor.Equipment
		if err := rows.Scan(&e.ID, &e.Name, &e.Kind, &e.Status, &e.Setpoint); err != nil {
			return nil, fmt.Errorf("scan valves_pumps: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valves_pumps: %w", err)
	}
	return out, nil
}

func (s *Source) prices(ctx context.Context) ([]sensor.Price, error) {
	rows, err := s.pool.Query(ctx, `SELECT ts, price_per_kwh, is_off_peak FROM energy_prices ORDER BY ts`)
	if err != nil {
		return nil, fmt.Errorf("query energy_prices: %w", err)
	}
	defer rows.Close()

	var out []sensor.Price
	for rows.Next() {
		var p sensor.Price
		if err := rows.Scan(&p.At, &p.PricePerKWh, &p.OffPeak); err != nil {
			return nil, fmt.Errorf("scan energy_prices: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate energy_prices: %w", err)
	}
	return out, nil
}
