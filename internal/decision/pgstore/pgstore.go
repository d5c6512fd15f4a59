// Package pgstore provides a PostgreSQL implementation of decision.IncidentStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aware/internal/decision"
	"github.com/linnemanlabs/aware/internal/sensor"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aware/internal/decision/pgstore")

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, kind, severity, asset_ref, asset_kind, state, title, description,
	detected_by, confidence, priority, metadata, created_at, updated_at`

// Query returns matching incidents, newest first.
func (s *Store) Query(ctx context.Context, q decision.IncidentQuery) ([]decision.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Query", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if q.AssetRef != "" {
		args = append(args, q.AssetRef)
		where = append(where, fmt.Sprintf("asset_ref = $%d", len(args)))
	}
	if len(q.States) > 0 {
		states := make([]string, len(q.States))
		for i, st := range q.States {
			states[i] = string(st)
		}
		args = append(args, states)
		where = append(where, fmt.Sprintf("state = ANY($%d)", len(args)))
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	out := []decision.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, *inc)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return out, nil
}

// Insert writes a new incident. The partial unique index on active
// incidents turns a concurrent duplicate into ErrDuplicateIncident.
func (s *Store) Insert(ctx context.Context, inc *decision.Incident) (*decision.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Insert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	cp := *inc
	cp.ID = ulid.Make().String()
	cp.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	cp.UpdatedAt = cp.CreatedAt
	if cp.State == "" {
		cp.State = decision.StateOpen
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}

	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		cp.ID, string(cp.Kind), string(cp.Severity), cp.AssetRef, string(cp.AssetKind), string(cp.State),
		cp.Title, cp.Description, cp.DetectedBy, cp.Confidence, cp.Priority, metadataJSON,
		cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			span.SetAttributes(attribute.Bool("aware.incident.duplicate", true))
			return nil, decision.ErrDuplicateIncident
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("insert incident: %w", err)
	}
	return &cp, nil
}

// Get retrieves an incident by ID.
func (s *Store) Get(ctx context.Context, id string) (*decision.Incident, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return inc, true, nil
}

// UpdateState applies a lifecycle transition under a row lock.
func (s *Store) UpdateState(ctx context.Context, id string, to decision.IncidentState) (*decision.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.UpdateState", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	inc, err := s.updateState(ctx, id, to)
	if err != nil && !errors.Is(err, decision.ErrIncidentNotFound) && !errors.Is(err, decision.ErrInvalidTransition) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return inc, err
}

func (s *Store) updateState(ctx context.Context, id string, to decision.IncidentState) (*decision.Incident, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var from string
	err = tx.QueryRow(ctx, `SELECT state FROM incidents WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, decision.ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock incident: %w", err)
	}
	if !decision.CanTransition(decision.IncidentState(from), to) {
		return nil, decision.ErrInvalidTransition
	}

	inc, err := scanIncident(tx.QueryRow(ctx,
		`UPDATE incidents SET state = $2, updated_at = $3 WHERE id = $1 RETURNING `+incidentColumns,
		id, string(to), time.Now().UTC(),
	))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inc, nil
}

// scanIncident scans a single row. pgx.ErrNoRows is returned unwrapped.
func scanIncident(row pgx.Row) (*decision.Incident, error) {
	var (
		inc          decision.Incident
		kind         string
		severity     string
		assetKind    string
		state        string
		metadataJSON []byte
	)
	err := row.Scan(
		&inc.ID, &kind, &severity, &inc.AssetRef, &assetKind, &state, &inc.Title, &inc.Description,
		&inc.DetectedBy, &inc.Confidence, &inc.Priority, &metadataJSON, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Kind = decision.Category(kind)
	inc.Severity = decision.Severity(severity)
	inc.AssetKind = sensor.AssetKind(assetKind)
	inc.State = decision.IncidentState(state)

	if err := json.Unmarshal(metadataJSON, &inc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &inc, nil
}
