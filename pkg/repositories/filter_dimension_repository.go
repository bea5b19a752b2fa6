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

// FilterDimensionRepository provides data access for filter dimensions.
type FilterDimensionRepository interface {
	Create(ctx context.Context, dim *models.FilterDimension) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FilterDimension, error)
	// GetByParam resolves an active dimension by the :param it binds.
	GetByParam(ctx context.Context, param string) (*models.FilterDimension, error)
	ListActive(ctx context.Context) ([]*models.FilterDimension, error)
	Update(ctx context.Context, dim *models.FilterDimension) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type filterDimensionRepository struct {
	db *database.DB
}

// NewFilterDimensionRepository creates a FilterDimensionRepository backed by
// the engine database.
func NewFilterDimensionRepository(db *database.DB) FilterDimensionRepository {
	return &filterDimensionRepository{db: db}
}

var _ FilterDimensionRepository = (*filterDimensionRepository)(nil)

const filterDimensionColumns = `id, label, param, control, options_sql, active, created_at, updated_at`

func (r *filterDimensionRepository) Create(ctx context.Context, dim *models.FilterDimension) error {
	now := time.Now()
	if dim.ID == uuid.Nil {
		dim.ID = uuid.New()
	}
	dim.CreatedAt = now
	dim.UpdatedAt = now

	sql := `
		INSERT INTO filter_dimensions (id, label, param, control, options_sql, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, sql,
		dim.ID, dim.Label, dim.Param, dim.Control, dim.OptionsSQL, dim.Active, dim.CreatedAt, dim.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create filter dimension: %w", err)
	}

	return nil
}

func (r *filterDimensionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FilterDimension, error) {
	sql := `
		SELECT ` + filterDimensionColumns + `
		FROM filter_dimensions
		WHERE id = $1`

	row := r.db.QueryRow(ctx, sql, id)
	dim, err := scanFilterDimensionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get filter dimension: %w", err)
	}

	return dim, nil
}

func (r *filterDimensionRepository) GetByParam(ctx context.Context, param string) (*models.FilterDimension, error) {
	sql := `
		SELECT ` + filterDimensionColumns + `
		FROM filter_dimensions
		WHERE param = $1 AND active = true`

	row := r.db.QueryRow(ctx, sql, param)
	dim, err := scanFilterDimensionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get filter dimension by param: %w", err)
	}

	return dim, nil
}

func (r *filterDimensionRepository) ListActive(ctx context.Context) ([]*models.FilterDimension, error) {
	sql := `
		SELECT ` + filterDimensionColumns + `
		FROM filter_dimensions
		WHERE active = true
		ORDER BY label`

	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list filter dimensions: %w", err)
	}
	defer rows.Close()

	dims := make([]*models.FilterDimension, 0)
	for rows.Next() {
		dim, err := scanFilterDimension(rows)
		if err != nil {
			return nil, err
		}
		dims = append(dims, dim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating filter dimensions: %w", err)
	}

	return dims, nil
}

func (r *filterDimensionRepository) Update(ctx context.Context, dim *models.FilterDimension) error {
	dim.UpdatedAt = time.Now()

	sql := `
		UPDATE filter_dimensions
		SET label = $2,
		    param = $3,
		    control = $4,
		    options_sql = $5,
		    active = $6,
		    updated_at = $7
		WHERE id = $1`

	result, err := r.db.Exec(ctx, sql,
		dim.ID, dim.Label, dim.Param, dim.Control, dim.OptionsSQL, dim.Active, dim.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update filter dimension: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *filterDimensionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	sql := `
		UPDATE filter_dimensions
		SET active = false, updated_at = NOW()
		WHERE id = $1 AND active = true`

	result, err := r.db.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate filter dimension: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanFilterDimension(rows pgx.Rows) (*models.FilterDimension, error) {
	var d models.FilterDimension
	err := rows.Scan(
		&d.ID, &d.Label, &d.Param, &d.Control, &d.OptionsSQL, &d.Active, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan filter dimension: %w", err)
	}
	return &d, nil
}

func scanFilterDimensionRow(row pgx.Row) (*models.FilterDimension, error) {
	var d models.FilterDimension
	err := row.Scan(
		&d.ID, &d.Label, &d.Param, &d.Control, &d.OptionsSQL, &d.Active, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
