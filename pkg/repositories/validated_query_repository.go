package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lumina-bi/lumina-engine/pkg/apperrors"
	"github.com/lumina-bi/lumina-engine/pkg/database"
	"github.com/lumina-bi/lumina-engine/pkg/models"
)

// ValidatedQueryRepository provides data access for the validated-query
// catalogue.
type ValidatedQueryRepository interface {
	// CRUD operations. Queries are never hard deleted; Deactivate flips the
	// active flag.
	Create(ctx context.Context, query *models.ValidatedQuery) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ValidatedQuery, error)
	// GetByName resolves an active query by its unique human-readable name.
	GetByName(ctx context.Context, name string) (*models.ValidatedQuery, error)
	ListActive(ctx context.Context, scope string) ([]*models.ValidatedQuery, error)
	Update(ctx context.Context, query *models.ValidatedQuery) error
	Deactivate(ctx context.Context, id uuid.UUID) error

	// RecordRun bumps run_count and last_run_at after an execution.
	RecordRun(ctx context.Context, id uuid.UUID) error
}

type validatedQueryRepository struct {
	db *database.DB
}

// NewValidatedQueryRepository creates a ValidatedQueryRepository backed by
// the engine database.
func NewValidatedQueryRepository(db *database.DB) ValidatedQueryRepository {
	return &validatedQueryRepository{db: db}
}

var _ ValidatedQueryRepository = (*validatedQueryRepository)(nil)

const validatedQueryColumns = `id, name, scope, sql_template, chart_hint, backend_affinity,
	       validated_by, validated_at, active, run_count, last_run_at, created_at, updated_at`

func (r *validatedQueryRepository) Create(ctx context.Context, query *models.ValidatedQuery) error {
	now := time.Now()
	if query.ID == uuid.Nil {
		query.ID = uuid.New()
	}
	query.CreatedAt = now
	query.UpdatedAt = now

	sql := `
		INSERT INTO validated_queries (
			id, name, scope, sql_template, chart_hint, backend_affinity,
			validated_by, validated_at, active, run_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, sql,
		query.ID, query.Name, query.Scope, query.SQLTemplate, query.ChartHint, query.BackendAffinity,
		query.ValidatedBy, query.ValidatedAt, query.Active, query.RunCount, query.CreatedAt, query.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on (name) WHERE active enforces name
		// uniqueness within the lookup path.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create validated query: %w", err)
	}

	return nil
}

func (r *validatedQueryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ValidatedQuery, error) {
	sql := `
		SELECT ` + validatedQueryColumns + `
		FROM validated_queries
		WHERE id = $1`

	row := r.db.QueryRow(ctx, sql, id)
	query, err := scanValidatedQueryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get validated query: %w", err)
	}

	return query, nil
}

func (r *validatedQueryRepository) GetByName(ctx context.Context, name string) (*models.ValidatedQuery, error) {
	sql := `
		SELECT ` + validatedQueryColumns + `
		FROM validated_queries
		WHERE name = $1 AND active = true`

	row := r.db.QueryRow(ctx, sql, name)
	query, err := scanValidatedQueryRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get validated query by name: %w", err)
	}

	return query, nil
}

func (r *validatedQueryRepository) ListActive(ctx context.Context, scope string) ([]*models.ValidatedQuery, error) {
	sql := `
		SELECT ` + validatedQueryColumns + `
		FROM validated_queries
		WHERE active = true`
	args := []any{}
	if scope != "" {
		sql += ` AND scope = $1`
		args = append(args, scope)
	}
	sql += ` ORDER BY name`

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list validated queries: %w", err)
	}
	defer rows.Close()

	queries := make([]*models.ValidatedQuery, 0)
	for rows.Next() {
		query, err := scanValidatedQuery(rows)
		if err != nil {
			return nil, err
		}
		queries = append(queries, query)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validated queries: %w", err)
	}

	return queries, nil
}

func (r *validatedQueryRepository) Update(ctx context.Context, query *models.ValidatedQuery) error {
	query.UpdatedAt = time.Now()

	sql := `
		UPDATE validated_queries
		SET name = $2,
		    scope = $3,
		    sql_template = $4,
		    chart_hint = $5,
		    backend_affinity = $6,
		    validated_by = $7,
		    validated_at = $8,
		    active = $9,
		    updated_at = $10
		WHERE id = $1`

	result, err := r.db.Exec(ctx, sql,
		query.ID, query.Name, query.Scope, query.SQLTemplate, query.ChartHint, query.BackendAffinity,
		query.ValidatedBy, query.ValidatedAt, query.Active, query.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update validated query: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *validatedQueryRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	sql := `
		UPDATE validated_queries
		SET active = false, updated_at = NOW()
		WHERE id = $1 AND active = true`

	result, err := r.db.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate validated query: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *validatedQueryRepository) RecordRun(ctx context.Context, id uuid.UUID) error {
	sql := `
		UPDATE validated_queries
		SET run_count = run_count + 1,
		    last_run_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("failed to record query run: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanValidatedQuery(rows pgx.Rows) (*models.ValidatedQuery, error) {
	var q models.ValidatedQuery
	err := rows.Scan(
		&q.ID, &q.Name, &q.Scope, &q.SQLTemplate, &q.ChartHint, &q.BackendAffinity,
		&q.ValidatedBy, &q.ValidatedAt, &q.Active, &q.RunCount, &q.LastRunAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan validated query: %w", err)
	}
	return &q, nil
}

func scanValidatedQueryRow(row pgx.Row) (*models.ValidatedQuery, error) {
	var q models.ValidatedQuery
	err := row.Scan(
		&q.ID, &q.Name, &q.Scope, &q.SQLTemplate, &q.ChartHint, &q.BackendAffinity,
		&q.ValidatedBy, &q.ValidatedAt, &q.Active, &q.RunCount, &q.LastRunAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}
