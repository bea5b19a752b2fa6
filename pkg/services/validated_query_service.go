package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lumina-bi/lumina-engine/pkg/apperrors"
	"github.com/lumina-bi/lumina-engine/pkg/backend"
	"github.com/lumina-bi/lumina-engine/pkg/cache"
	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/repositories"
	"github.com/lumina-bi/lumina-engine/pkg/sql"
)

// adHocRole names the only principal allowed through the ad-hoc test path.
// It participates in the ad-hoc cache key.
const adHocRole = "admin"

// QueryRouter is the slice of the backend router the services depend on.
// *backend.Router satisfies it; tests substitute fakes.
type QueryRouter interface {
	Execute(ctx context.Context, query *models.ValidatedQuery, filters models.FilterParams) (*backend.RowSet, string, error)
	ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*backend.RowSet, string, error)
	ExecuteEnumeration(ctx context.Context, sqlText string) (*backend.RowSet, string, error)
}

var _ QueryRouter = (*backend.Router)(nil)

// CacheTTLs carries the expiry applied per cache namespace.
type CacheTTLs struct {
	Results       time.Duration
	FilterOptions time.Duration
	AdHoc         time.Duration
}

// DefaultCacheTTLs returns the stock expiries: 24h query results, 12h filter
// options, 1h ad-hoc results.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Results:       24 * time.Hour,
		FilterOptions: 12 * time.Hour,
		AdHoc:         time.Hour,
	}
}

// CacheWriteResult reports the outcome of the write-behind step after an
// execution. Rows have already been returned to the caller by the time these
// writes run, so failures degrade future reads but never the current one.
type CacheWriteResult struct {
	EphemeralErr error
	SnapshotErr  error
}

// Ok reports whether both writes landed.
func (r CacheWriteResult) Ok() bool {
	return r.EphemeralErr == nil && r.SnapshotErr == nil
}

// ExecutionResult carries rows plus the provenance a dashboard needs: which
// catalogue entry ran, whether the rows came from cache, and which backend
// produced them. Backend is "cache" on a hit; Query is nil for ad-hoc
// statements.
type ExecutionResult struct {
	RowSet  *backend.RowSet
	Query   *models.ValidatedQuery
	Cached  bool
	Backend string
}

// MaterializeReport summarizes one pass over the active catalogue.
type MaterializeReport struct {
	Total     int      `json:"total"`
	Refreshed int      `json:"refreshed"`
	Failed    []string `json:"failed,omitempty"`
}

// CreateValidatedQueryRequest contains fields for publishing a new query.
type CreateValidatedQueryRequest struct {
	Name            string `json:"name"`
	Scope           string `json:"scope,omitempty"`
	SQLTemplate     string `json:"sql_template"`
	ChartHint       string `json:"chart_hint,omitempty"`
	BackendAffinity string `json:"backend_affinity,omitempty"`
	ValidatedBy     string `json:"validated_by"`
}

// UpdateValidatedQueryRequest contains fields for editing a query.
// All fields are optional - only non-nil values are applied.
type UpdateValidatedQueryRequest struct {
	Name            *string `json:"name,omitempty"`
	Scope           *string `json:"scope,omitempty"`
	SQLTemplate     *string `json:"sql_template,omitempty"`
	ChartHint       *string `json:"chart_hint,omitempty"`
	BackendAffinity *string `json:"backend_affinity,omitempty"`
	ValidatedBy     *string `json:"validated_by,omitempty"`
	Active          *bool   `json:"active,omitempty"`
}

// ValidatedQueryService owns the catalogue of admin-approved queries and the
// read path that serves them: cache lookup, backend routing, write-behind.
type ValidatedQueryService interface {
	// Catalogue management.
	Create(ctx context.Context, req *CreateValidatedQueryRequest) (*models.ValidatedQuery, error)
	GetByIDOrName(ctx context.Context, idOrName string) (*models.ValidatedQuery, error)
	List(ctx context.Context, scope string) ([]*models.ValidatedQuery, error)
	Update(ctx context.Context, id uuid.UUID, req *UpdateValidatedQueryRequest) (*models.ValidatedQuery, error)
	Deactivate(ctx context.Context, id uuid.UUID) error

	// Execution.
	Execute(ctx context.Context, idOrName string, filters models.FilterParams) (*ExecutionResult, error)
	ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*ExecutionResult, error)

	// Cache lifecycle.
	MaterializeAll(ctx context.Context) (*MaterializeReport, error)
	InvalidateCache(ctx context.Context, queryID uuid.UUID, reason string) (int, error)

	// Snapshots.
	ListSnapshots(ctx context.Context, queryID uuid.UUID, limit int) ([]*models.ResultSnapshot, error)
}

type validatedQueryService struct {
	queries   repositories.ValidatedQueryRepository
	snapshots repositories.SnapshotRepository
	store     cache.Store
	router    QueryRouter
	renderer  *sql.Renderer
	ttls      CacheTTLs
	flight    singleflight.Group
	now       func() time.Time
	logger    *zap.Logger
}

// NewValidatedQueryService creates a validated query service with its
// dependencies. The renderer must be the same one the router renders with so
// ad-hoc cache keys are derived from the statement that actually runs.
func NewValidatedQueryService(
	queries repositories.ValidatedQueryRepository,
	snapshots repositories.SnapshotRepository,
	store cache.Store,
	router QueryRouter,
	renderer *sql.Renderer,
	ttls CacheTTLs,
	logger *zap.Logger,
) ValidatedQueryService {
	return &validatedQueryService{
		queries:   queries,
		snapshots: snapshots,
		store:     store,
		router:    router,
		renderer:  renderer,
		ttls:      ttls,
		now:       time.Now,
		logger:    logger,
	}
}

// Create publishes a new validated query. The template is normalized and
// checked for statement smuggling before it reaches the catalogue.
func (s *validatedQueryService) Create(ctx context.Context, req *CreateValidatedQueryRequest) (*models.ValidatedQuery, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.ValidatedBy) == "" {
		return nil, fmt.Errorf("%w: validated_by is required", apperrors.ErrInvalidInput)
	}

	validation := sql.ValidateAndNormalize(req.SQLTemplate)
	if validation.Error != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, validation.Error)
	}

	scope := req.Scope
	if scope == "" {
		scope = models.ScopeGeneral
	}
	if !models.IsValidScope(scope) {
		return nil, fmt.Errorf("%w: unknown scope %q", apperrors.ErrInvalidInput, scope)
	}

	chartHint := req.ChartHint
	if chartHint == "" {
		chartHint = models.ChartTable
	}
	if !models.IsValidChartHint(chartHint) {
		return nil, fmt.Errorf("%w: unknown chart hint %q", apperrors.ErrInvalidInput, chartHint)
	}

	affinity := req.BackendAffinity
	if affinity == "" {
		affinity = models.AffinityAuto
	}
	if !models.IsValidAffinity(affinity) {
		return nil, fmt.Errorf("%w: unknown backend affinity %q", apperrors.ErrInvalidInput, affinity)
	}

	query := &models.ValidatedQuery{
		Name:            strings.TrimSpace(req.Name),
		Scope:           scope,
		SQLTemplate:     validation.NormalizedSQL,
		ChartHint:       chartHint,
		BackendAffinity: affinity,
		ValidatedBy:     req.ValidatedBy,
		ValidatedAt:     s.now(),
		Active:          true,
	}

	if err := s.queries.Create(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create validated query: %w", err)
	}

	s.logger.Info("validated query published",
		zap.String("query_id", query.ID.String()),
		zap.String("name", query.Name),
		zap.String("scope", query.Scope))

	return query, nil
}

// GetByIDOrName resolves a query by UUID when the argument parses as one,
// otherwise by its unique name. Chat agents address queries by name; the
// dashboard uses ids.
func (s *validatedQueryService) GetByIDOrName(ctx context.Context, idOrName string) (*models.ValidatedQuery, error) {
	if id, err := uuid.Parse(idOrName); err == nil {
		return s.queries.GetByID(ctx, id)
	}
	return s.queries.GetByName(ctx, idOrName)
}

// List returns active queries, optionally restricted to one scope.
func (s *validatedQueryService) List(ctx context.Context, scope string) ([]*models.ValidatedQuery, error) {
	if scope != "" && !models.IsValidScope(scope) {
		return nil, fmt.Errorf("%w: unknown scope %q", apperrors.ErrInvalidInput, scope)
	}
	return s.queries.ListActive(ctx, scope)
}

// Update applies the non-nil request fields and invalidates the query's
// cached results. Stale rows must not outlive the template they came from.
func (s *validatedQueryService) Update(ctx context.Context, id uuid.UUID, req *UpdateValidatedQueryRequest) (*models.ValidatedQuery, error) {
	query, err := s.queries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", apperrors.ErrInvalidInput)
		}
		query.Name = strings.TrimSpace(*req.Name)
	}
	if req.Scope != nil {
		if !models.IsValidScope(*req.Scope) {
			return nil, fmt.Errorf("%w: unknown scope %q", apperrors.ErrInvalidInput, *req.Scope)
		}
		query.Scope = *req.Scope
	}
	if req.SQLTemplate != nil {
		validation := sql.ValidateAndNormalize(*req.SQLTemplate)
		if validation.Error != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, validation.Error)
		}
		query.SQLTemplate = validation.NormalizedSQL
	}
	if req.ChartHint != nil {
		if !models.IsValidChartHint(*req.ChartHint) {
			return nil, fmt.Errorf("%w: unknown chart hint %q", apperrors.ErrInvalidInput, *req.ChartHint)
		}
		query.ChartHint = *req.ChartHint
	}
	if req.BackendAffinity != nil {
		if !models.IsValidAffinity(*req.BackendAffinity) {
			return nil, fmt.Errorf("%w: unknown backend affinity %q", apperrors.ErrInvalidInput, *req.BackendAffinity)
		}
		query.BackendAffinity = *req.BackendAffinity
	}
	if req.ValidatedBy != nil {
		query.ValidatedBy = *req.ValidatedBy
		query.ValidatedAt = s.now()
	}
	if req.Active != nil {
		query.Active = *req.Active
	}

	if err := s.queries.Update(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to update validated query: %w", err)
	}

	if _, err := s.InvalidateCache(ctx, id, "query updated"); err != nil {
		s.logger.Warn("cache invalidation after update failed",
			zap.String("query_id", id.String()),
			zap.Error(err))
	}

	return query, nil
}

// Deactivate retires a query from the catalogue and drops its cached
// results. The row itself stays for the audit trail.
func (s *validatedQueryService) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.queries.Deactivate(ctx, id); err != nil {
		return err
	}

	if _, err := s.InvalidateCache(ctx, id, "query deactivated"); err != nil {
		s.logger.Warn("cache invalidation after deactivation failed",
			zap.String("query_id", id.String()),
			zap.Error(err))
	}

	s.logger.Info("validated query deactivated", zap.String("query_id", id.String()))
	return nil
}

// Execute serves one validated query: cache first, then the routed backend,
// then write-behind. Concurrent misses on the same key share a single
// backend execution.
func (s *validatedQueryService) Execute(ctx context.Context, idOrName string, filters models.FilterParams) (*ExecutionResult, error) {
	query, err := s.GetByIDOrName(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if !query.Active {
		return nil, fmt.Errorf("%w: query %q is deactivated", apperrors.ErrNotFound, query.Name)
	}

	normalized := filters.Normalize(s.now())
	key := cache.ResultKey(query.ID, normalized)

	if rows, ok := s.readCachedRows(ctx, key); ok {
		return &ExecutionResult{RowSet: rows, Query: query, Cached: true, Backend: "cache"}, nil
	}

	out, err, _ := s.flight.Do(key, func() (any, error) {
		// A concurrent caller may have filled the key while we queued.
		if rows, ok := s.readCachedRows(ctx, key); ok {
			return &ExecutionResult{RowSet: rows, Query: query, Cached: true, Backend: "cache"}, nil
		}

		rows, backendName, rerr := s.router.Execute(ctx, query, normalized)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrExecutionFailed, rerr)
		}

		write := s.storeResult(ctx, query, key, normalized, rows)
		s.logCacheWrite(query.ID, key, write)

		if rerr := s.queries.RecordRun(ctx, query.ID); rerr != nil {
			s.logger.Warn("failed to record query run",
				zap.String("query_id", query.ID.String()),
				zap.Error(rerr))
		}

		return &ExecutionResult{RowSet: rows, Query: query, Cached: false, Backend: backendName}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*ExecutionResult), nil
}

// ExecuteAdHoc validates and runs an admin-supplied statement through the
// same routing as catalogue queries, always bounded by the hard row cap.
// Results are cached briefly, keyed on the rendered statement and the
// caller's role so identical probes don't hit the backends twice.
func (s *validatedQueryService) ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*ExecutionResult, error) {
	validation := sql.ValidateAndNormalize(sqlText)
	if validation.Error != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, validation.Error)
	}

	if findings := sql.CheckFilterValues(filters); len(findings) > 0 {
		return nil, fmt.Errorf("%w: filter %q", apperrors.ErrUnsafeSQL, findings[0].ParamName)
	}

	normalized := filters.Normalize(s.now())
	rendered := s.renderer.Render(validation.NormalizedSQL, normalized, sql.DialectStandard)
	key := cache.AdHocKey(rendered, adHocRole)

	if rows, ok := s.readCachedRows(ctx, key); ok {
		return &ExecutionResult{RowSet: rows, Cached: true, Backend: "cache"}, nil
	}

	rows, backendName, err := s.router.ExecuteAdHoc(ctx, validation.NormalizedSQL, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExecutionFailed, err)
	}

	if payload, merr := json.Marshal(rows); merr == nil {
		if serr := s.store.Set(ctx, key, payload, s.ttls.AdHoc); serr != nil {
			s.logger.Warn("ad-hoc cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}

	return &ExecutionResult{RowSet: rows, Cached: false, Backend: backendName}, nil
}

// MaterializeAll executes every active query with default filters so the
// next dashboard load is served from cache. Failures are collected, not
// fatal; one broken template must not starve the rest of the catalogue.
func (s *validatedQueryService) MaterializeAll(ctx context.Context) (*MaterializeReport, error) {
	queries, err := s.queries.ListActive(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list active queries: %w", err)
	}

	report := &MaterializeReport{Total: len(queries)}
	for _, query := range queries {
		if _, err := s.Execute(ctx, query.ID.String(), nil); err != nil {
			report.Failed = append(report.Failed, query.Name)
			s.logger.Warn("materialization failed for query",
				zap.String("query_id", query.ID.String()),
				zap.String("name", query.Name),
				zap.Error(err))
			continue
		}
		report.Refreshed++
	}

	s.logger.Info("catalogue materialized",
		zap.Int("total", report.Total),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", len(report.Failed)))

	return report, nil
}

// InvalidateCache deletes every cached result for one query and records the
// deletion. Snapshots are untouched: invalidation severs the ephemeral tier
// only.
func (s *validatedQueryService) InvalidateCache(ctx context.Context, queryID uuid.UUID, reason string) (int, error) {
	deleted, err := s.store.DeleteByPrefix(ctx, cache.ResultKeyPrefix(queryID))
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache for query %s: %w", queryID, err)
	}

	if rerr := s.snapshots.RecordInvalidation(ctx, &models.CacheInvalidation{
		QueryID:     queryID,
		Reason:      reason,
		KeysDeleted: deleted,
	}); rerr != nil {
		s.logger.Warn("failed to record cache invalidation",
			zap.String("query_id", queryID.String()),
			zap.Error(rerr))
	}

	s.logger.Info("query cache invalidated",
		zap.String("query_id", queryID.String()),
		zap.String("reason", reason),
		zap.Int("keys_deleted", deleted))

	return deleted, nil
}

// ListSnapshots returns the most recent snapshots for a query, newest first.
func (s *validatedQueryService) ListSnapshots(ctx context.Context, queryID uuid.UUID, limit int) ([]*models.ResultSnapshot, error) {
	if _, err := s.queries.GetByID(ctx, queryID); err != nil {
		return nil, err
	}
	return s.snapshots.ListByQuery(ctx, queryID, limit)
}

// readCachedRows treats any store failure as a miss; the cache accelerates
// reads, it never gates them.
func (s *validatedQueryService) readCachedRows(ctx context.Context, key string) (*backend.RowSet, bool) {
	payload, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var rows backend.RowSet
	if err := json.Unmarshal(payload, &rows); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &rows, true
}

// storeResult runs the write-behind pair: the ephemeral cache entry and the
// durable snapshot. The two tiers fail independently.
func (s *validatedQueryService) storeResult(ctx context.Context, query *models.ValidatedQuery, key string, filters models.FilterParams, rows *backend.RowSet) CacheWriteResult {
	payload, err := json.Marshal(rows)
	if err != nil {
		return CacheWriteResult{EphemeralErr: err, SnapshotErr: err}
	}

	return CacheWriteResult{
		EphemeralErr: s.store.Set(ctx, key, payload, s.ttls.Results),
		SnapshotErr: s.snapshots.InsertSnapshot(ctx, &models.ResultSnapshot{
			QueryID:  query.ID,
			RunAt:    s.now(),
			Filters:  filters,
			RowCount: rows.RowCount,
			Result:   payload,
		}),
	}
}

func (s *validatedQueryService) logCacheWrite(queryID uuid.UUID, key string, result CacheWriteResult) {
	if result.Ok() {
		return
	}
	if result.EphemeralErr != nil {
		s.logger.Warn("cache write failed",
			zap.String("query_id", queryID.String()),
			zap.String("key", key),
			zap.Error(result.EphemeralErr))
	}
	if result.SnapshotErr != nil {
		s.logger.Warn("snapshot write failed",
			zap.String("query_id", queryID.String()),
			zap.Error(result.SnapshotErr))
	}
}
