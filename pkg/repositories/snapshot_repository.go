package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lumina-bi/lumina-engine/pkg/database"
	"github.com/lumina-bi/lumina-engine/pkg/models"
)

// SnapshotRepository persists the durable execution trail: result snapshots
// and cache-invalidation records. Both tables are append-only.
type SnapshotRepository interface {
	// InsertSnapshot appends one result snapshot. Snapshots never expire and
	// are untouched by cache invalidation.
	InsertSnapshot(ctx context.Context, snap *models.ResultSnapshot) error

	// ListByQuery returns the most recent snapshots for a query, newest
	// first, bounded by limit.
	ListByQuery(ctx context.Context, queryID uuid.UUID, limit int) ([]*models.ResultSnapshot, error)

	// RecordInvalidation appends one cache-invalidation record. The record is
	// evidence, not state: cache decisions never read it back.
	RecordInvalidation(ctx context.Context, inv *models.CacheInvalidation) error
}

type snapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a SnapshotRepository backed by the engine
// database.
func NewSnapshotRepository(db *database.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

var _ SnapshotRepository = (*snapshotRepository)(nil)

// defaultSnapshotListLimit bounds ListByQuery when the caller passes no
// limit.
const defaultSnapshotListLimit = 20

func (r *snapshotRepository) InsertSnapshot(ctx context.Context, snap *models.ResultSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.RunAt.IsZero() {
		snap.RunAt = time.Now()
	}

	filters, err := json.Marshal(snap.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot filters: %w", err)
	}

	sql := `
		INSERT INTO result_snapshots (id, query_id, run_at, filters, row_count, result)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.Exec(ctx, sql,
		snap.ID, snap.QueryID, snap.RunAt, filters, snap.RowCount, snap.Result,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result snapshot: %w", err)
	}

	return nil
}

func (r *snapshotRepository) ListByQuery(ctx context.Context, queryID uuid.UUID, limit int) ([]*models.ResultSnapshot, error) {
	if limit <= 0 {
		limit = defaultSnapshotListLimit
	}

	sql := `
		SELECT id, query_id, run_at, filters, row_count, result
		FROM result_snapshots
		WHERE query_id = $1
		ORDER BY run_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, sql, queryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list result snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make([]*models.ResultSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result snapshots: %w", err)
	}

	return snaps, nil
}

func (r *snapshotRepository) RecordInvalidation(ctx context.Context, inv *models.CacheInvalidation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.CreatedAt = time.Now()

	sql := `
		INSERT INTO cache_invalidations (id, query_id, reason, keys_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, sql,
		inv.ID, inv.QueryID, inv.Reason, inv.KeysDeleted, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record cache invalidation: %w", err)
	}

	return nil
}

func scanSnapshot(rows pgx.Rows) (*models.ResultSnapshot, error) {
	var (
		s       models.ResultSnapshot
		filters []byte
	)
	err := rows.Scan(&s.ID, &s.QueryID, &s.RunAt, &filters, &s.RowCount, &s.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to scan result snapshot: %w", err)
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &s.Filters); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot filters: %w", err)
		}
	}
	return &s, nil
}
