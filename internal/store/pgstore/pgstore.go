// Package pgstore provides a PostgreSQL implementation of store.Store.
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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/store"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aegis/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists canonical alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `external_id, source, title, description, severity, priority, status, category,
	asset, vulnerability, threat, detection, remediation, analysis, assignee,
	tags, comments, created_at, updated_at, resolved_at`

// GetByExternalID retrieves one alert by its external ID.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByExternalID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE external_id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// Insert stores a new alert. The external ID must not already exist.
func (s *Store) Insert(ctx context.Context, a *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Insert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	args, err := alertArgs(a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert alert %s: %w", a.ExternalID, err)
	}
	return nil
}

// Update replaces the stored alert with the same external ID.
func (s *Store) Update(ctx context.Context, a *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	args, err := alertArgs(a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	query := `UPDATE alerts SET
		source = $2, title = $3, description = $4, severity = $5, priority = $6,
		status = $7, category = $8, asset = $9, vulnerability = $10, threat = $11,
		detection = $12, remediation = $13, analysis = $14, assignee = $15,
		tags = $16, comments = $17, created_at = $18, updated_at = $19, resolved_at = $20
		WHERE external_id = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update alert %s: %w", a.ExternalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update alert %s: %w", a.ExternalID, store.ErrNotFound)
	}
	return nil
}

// List returns alerts matching the filter, ordered by priority descending
// then created_at descending.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query, args := buildListQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func buildListQuery(f store.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if f.Severity != "" {
		conds = append(conds, "severity = "+arg(string(f.Severity)))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(string(f.Category)))
	}
	if f.Source != "" {
		conds = append(conds, "source = "+arg(string(f.Source)))
	}
	if f.MinPriority > 0 {
		conds = append(conds, "priority >= "+arg(f.MinPriority))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	return query, args
}

// alertArgs builds the positional argument list matching alertColumns.
func alertArgs(a *alert.Alert) ([]any, error) {
	asset, err := marshalOpt(a.Asset)
	if err != nil {
		return nil, fmt.Errorf("marshal asset: %w", err)
	}
	vuln, err := marshalOpt(a.Vulnerability)
	if err != nil {
		return nil, fmt.Errorf("marshal vulnerability: %w", err)
	}
	threat, err := marshalOpt(a.Threat)
	if err != nil {
		return nil, fmt.Errorf("marshal threat: %w", err)
	}
	detection, err := marshalOpt(a.Detection)
	if err != nil {
		return nil, fmt.Errorf("marshal detection: %w", err)
	}
	remediation, err := marshalOpt(a.Remediation)
	if err != nil {
		return nil, fmt.Errorf("marshal remediation: %w", err)
	}
	analysis, err := marshalOpt(a.Analysis)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	assignee, err := marshalOpt(a.Assignee)
	if err != nil {
		return nil, fmt.Errorf("marshal assignee: %w", err)
	}

	comments := a.Comments
	if comments == nil {
		comments = []alert.Comment{}
	}
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		return nil, fmt.Errorf("marshal comments: %w", err)
	}

	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	return []any{
		a.ExternalID, string(a.Source), a.Title, a.Description, string(a.Severity),
		a.Priority, string(a.Status), string(a.Category),
		asset, vuln, threat, detection, remediation, analysis, assignee,
		tags, commentsJSON, a.CreatedAt, a.UpdatedAt, a.ResolvedAt,
	}, nil
}

// marshalOpt marshals a sub-record pointer, keeping nil as SQL NULL. The
// typed-nil check matters because the fields arrive as concrete pointers.
func marshalOpt[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	var (
		a                                                     alert.Alert
		source, severity, status, category                    string
		asset, vuln, threat, detection, remediation, analysis []byte
		assignee, commentsJSON                                []byte
		resolvedAt                                            *time.Time
	)

	err := row.Scan(
		&a.ExternalID, &source, &a.Title, &a.Description, &severity,
		&a.Priority, &status, &category,
		&asset, &vuln, &threat, &detection, &remediation, &analysis, &assignee,
		&a.Tags, &commentsJSON, &a.CreatedAt, &a.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	a.Source = alert.Source(source)
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	a.Category = alert.Category(category)
	a.ResolvedAt = resolvedAt

	if err := unmarshalOpt(asset, &a.Asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}
	if err := unmarshalOpt(vuln, &a.Vulnerability); err != nil {
		return nil, fmt.Errorf("unmarshal vulnerability: %w", err)
	}
	if err := unmarshalOpt(threat, &a.Threat); err != nil {
		return nil, fmt.Errorf("unmarshal threat: %w", err)
	}
	if err := unmarshalOpt(detection, &a.Detection); err != nil {
		return nil, fmt.Errorf("unmarshal detection: %w", err)
	}
	if err := unmarshalOpt(remediation, &a.Remediation); err != nil {
		return nil, fmt.Errorf("unmarshal remediation: %w", err)
	}
	if err := unmarshalOpt(analysis, &a.Analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	if err := unmarshalOpt(assignee, &a.Assignee); err != nil {
		return nil, fmt.Errorf("unmarshal assignee: %w", err)
	}
	if len(commentsJSON) > 0 {
		if err := json.Unmarshal(commentsJSON, &a.Comments); err != nil {
			return nil, fmt.Errorf("unmarshal comments: %w", err)
		}
	}
	return &a, nil
}

func unmarshalOpt[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}
