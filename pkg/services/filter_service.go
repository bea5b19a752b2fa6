package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/apperrors"
	"github.com/lumina-bi/lumina-engine/pkg/cache"
	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/repositories"
	"github.com/lumina-bi/lumina-engine/pkg/sql"
)

// paramNamePattern matches what the template lexer accepts as a placeholder
// name. Dimensions bound to anything else could never be referenced.
var paramNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// FilterOptions is the enumerated value list for one dimension, plus whether
// it was served from cache.
type FilterOptions struct {
	Param   string   `json:"param"`
	Options []string `json:"options"`
	Cached  bool     `json:"cached"`
}

// WarmUpReport summarizes one pass over the selectable dimensions.
type WarmUpReport struct {
	Dimensions int      `json:"dimensions"`
	Warmed     int      `json:"warmed"`
	Failed     []string `json:"failed,omitempty"`
}

// CreateFilterDimensionRequest contains fields for registering a dimension.
type CreateFilterDimensionRequest struct {
	Label      string `json:"label"`
	Param      string `json:"param"`
	Control    string `json:"control"`
	OptionsSQL string `json:"options_sql,omitempty"`
}

// UpdateFilterDimensionRequest contains fields for editing a dimension.
// All fields are optional - only non-nil values are applied.
type UpdateFilterDimensionRequest struct {
	Label      *string `json:"label,omitempty"`
	Param      *string `json:"param,omitempty"`
	Control    *string `json:"control,omitempty"`
	OptionsSQL *string `json:"options_sql,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// FilterService owns the filter dimension catalogue and the cached option
// lists dashboards populate their controls from.
type FilterService interface {
	CreateDimension(ctx context.Context, req *CreateFilterDimensionRequest) (*models.FilterDimension, error)
	ListDimensions(ctx context.Context) ([]*models.FilterDimension, error)
	UpdateDimension(ctx context.Context, id uuid.UUID, req *UpdateFilterDimensionRequest) (*models.FilterDimension, error)
	DeactivateDimension(ctx context.Context, id uuid.UUID) error

	// GetOptions returns the legal values for a selectable dimension,
	// read-through cached.
	GetOptions(ctx context.Context, param string) (*FilterOptions, error)

	// WarmUp refreshes the option cache for every selectable dimension,
	// overwriting whatever is there.
	WarmUp(ctx context.Context) (*WarmUpReport, error)

	// Option cache lifecycle.
	InvalidateOptions(ctx context.Context, param string) error
	InvalidateAllOptions(ctx context.Context) (int, error)
}

type filterService struct {
	dimensions repositories.FilterDimensionRepository
	store      cache.Store
	router     QueryRouter
	ttls       CacheTTLs
	logger     *zap.Logger
}

// NewFilterService creates a filter service with its dependencies.
func NewFilterService(
	dimensions repositories.FilterDimensionRepository,
	store cache.Store,
	router QueryRouter,
	ttls CacheTTLs,
	logger *zap.Logger,
) FilterService {
	return &filterService{
		dimensions: dimensions,
		store:      store,
		router:     router,
		ttls:       ttls,
		logger:     logger,
	}
}

// CreateDimension registers a new filter dimension.
func (s *filterService) CreateDimension(ctx context.Context, req *CreateFilterDimensionRequest) (*models.FilterDimension, error) {
	if strings.TrimSpace(req.Label) == "" {
		return nil, fmt.Errorf("%w: label is required", apperrors.ErrInvalidInput)
	}
	if !paramNamePattern.MatchString(req.Param) {
		return nil, fmt.Errorf("%w: param must be a valid placeholder name", apperrors.ErrInvalidInput)
	}
	if !models.IsValidControl(req.Control) {
		return nil, fmt.Errorf("%w: unknown control %q", apperrors.ErrInvalidInput, req.Control)
	}

	dim := &models.FilterDimension{
		Label:   strings.TrimSpace(req.Label),
		Param:   req.Param,
		Control: req.Control,
		Active:  true,
	}

	if req.OptionsSQL != "" {
		validation := sql.ValidateAndNormalize(req.OptionsSQL)
		if validation.Error != nil {
			return nil, fmt.Errorf("%w: options_sql: %v", apperrors.ErrInvalidInput, validation.Error)
		}
		dim.OptionsSQL = &validation.NormalizedSQL
	}

	if err := s.dimensions.Create(ctx, dim); err != nil {
		return nil, fmt.Errorf("failed to create filter dimension: %w", err)
	}

	s.logger.Info("filter dimension registered",
		zap.String("dimension_id", dim.ID.String()),
		zap.String("param", dim.Param),
		zap.String("control", dim.Control))

	return dim, nil
}

// ListDimensions returns the active dimensions.
func (s *filterService) ListDimensions(ctx context.Context) ([]*models.FilterDimension, error) {
	return s.dimensions.ListActive(ctx)
}

// UpdateDimension applies the non-nil request fields and drops the
// dimension's cached options so the next read re-enumerates.
func (s *filterService) UpdateDimension(ctx context.Context, id uuid.UUID, req *UpdateFilterDimensionRequest) (*models.FilterDimension, error) {
	dim, err := s.dimensions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previousParam := dim.Param

	if req.Label != nil {
		if strings.TrimSpace(*req.Label) == "" {
			return nil, fmt.Errorf("%w: label cannot be empty", apperrors.ErrInvalidInput)
		}
		dim.Label = strings.TrimSpace(*req.Label)
	}
	if req.Param != nil {
		if !paramNamePattern.MatchString(*req.Param) {
			return nil, fmt.Errorf("%w: param must be a valid placeholder name", apperrors.ErrInvalidInput)
		}
		dim.Param = *req.Param
	}
	if req.Control != nil {
		if !models.IsValidControl(*req.Control) {
			return nil, fmt.Errorf("%w: unknown control %q", apperrors.ErrInvalidInput, *req.Control)
		}
		dim.Control = *req.Control
	}
	if req.OptionsSQL != nil {
		if *req.OptionsSQL == "" {
			dim.OptionsSQL = nil
		} else {
			validation := sql.ValidateAndNormalize(*req.OptionsSQL)
			if validation.Error != nil {
				return nil, fmt.Errorf("%w: options_sql: %v", apperrors.ErrInvalidInput, validation.Error)
			}
			dim.OptionsSQL = &validation.NormalizedSQL
		}
	}
	if req.Active != nil {
		dim.Active = *req.Active
	}

	if err := s.dimensions.Update(ctx, dim); err != nil {
		return nil, fmt.Errorf("failed to update filter dimension: %w", err)
	}

	if err := s.InvalidateOptions(ctx, previousParam); err != nil {
		s.logger.Warn("options invalidation after update failed",
			zap.String("param", previousParam),
			zap.Error(err))
	}
	if dim.Param != previousParam {
		if err := s.InvalidateOptions(ctx, dim.Param); err != nil {
			s.logger.Warn("options invalidation after update failed",
				zap.String("param", dim.Param),
				zap.Error(err))
		}
	}

	return dim, nil
}

// DeactivateDimension retires a dimension and drops its cached options.
func (s *filterService) DeactivateDimension(ctx context.Context, id uuid.UUID) error {
	dim, err := s.dimensions.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.dimensions.Deactivate(ctx, id); err != nil {
		return err
	}

	if err := s.InvalidateOptions(ctx, dim.Param); err != nil {
		s.logger.Warn("options invalidation after deactivation failed",
			zap.String("param", dim.Param),
			zap.Error(err))
	}

	s.logger.Info("filter dimension deactivated",
		zap.String("dimension_id", id.String()),
		zap.String("param", dim.Param))
	return nil
}

// GetOptions returns the legal values for one selectable dimension. Misses
// run the dimension's enumeration statement and fill the cache.
func (s *filterService) GetOptions(ctx context.Context, param string) (*FilterOptions, error) {
	dim, err := s.dimensions.GetByParam(ctx, param)
	if err != nil {
		return nil, err
	}
	if !dim.Selectable() {
		return nil, fmt.Errorf("%w: dimension %q has no enumerable options", apperrors.ErrInvalidInput, param)
	}

	key := cache.FilterOptionsKey(param)
	if options, ok := s.readCachedOptions(ctx, key); ok {
		return &FilterOptions{Param: param, Options: options, Cached: true}, nil
	}

	options, err := s.enumerate(ctx, dim)
	if err != nil {
		return nil, err
	}

	s.writeOptions(ctx, key, options)
	return &FilterOptions{Param: param, Options: options, Cached: false}, nil
}

// WarmUp refreshes every selectable dimension's option list, replacing any
// cached value. Scheduled runs use this so dashboards never pay the
// enumeration cost.
func (s *filterService) WarmUp(ctx context.Context) (*WarmUpReport, error) {
	dims, err := s.dimensions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list filter dimensions: %w", err)
	}

	report := &WarmUpReport{}
	for _, dim := range dims {
		if !dim.Selectable() {
			continue
		}
		report.Dimensions++

		options, err := s.enumerate(ctx, dim)
		if err != nil {
			report.Failed = append(report.Failed, dim.Param)
			s.logger.Warn("warm-up failed for dimension",
				zap.String("param", dim.Param),
				zap.Error(err))
			continue
		}

		s.writeOptions(ctx, cache.FilterOptionsKey(dim.Param), options)
		report.Warmed++
	}

	s.logger.Info("filter options warmed",
		zap.Int("dimensions", report.Dimensions),
		zap.Int("warmed", report.Warmed),
		zap.Int("failed", len(report.Failed)))

	return report, nil
}

// InvalidateOptions drops the cached option list for one dimension.
func (s *filterService) InvalidateOptions(ctx context.Context, param string) error {
	if err := s.store.Delete(ctx, cache.FilterOptionsKey(param)); err != nil {
		return fmt.Errorf("failed to invalidate options for %q: %w", param, err)
	}
	return nil
}

// InvalidateAllOptions drops every cached option list and reports how many
// keys were removed.
func (s *filterService) InvalidateAllOptions(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteByPrefix(ctx, cache.FilterOptionsPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate filter options: %w", err)
	}
	s.logger.Info("filter option cache cleared", zap.Int("keys_deleted", deleted))
	return deleted, nil
}

// enumerate runs the dimension's options statement and flattens the first
// column into strings. Later columns are ignored.
func (s *filterService) enumerate(ctx context.Context, dim *models.FilterDimension) ([]string, error) {
	rows, _, err := s.router.ExecuteEnumeration(ctx, *dim.OptionsSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: options enumeration for %q: %v", apperrors.ErrExecutionFailed, dim.Param, err)
	}
	if len(rows.Columns) == 0 {
		return []string{}, nil
	}

	column := rows.Columns[0]
	options := make([]string, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		value, ok := row[column]
		if !ok || value == nil {
			continue
		}
		options = append(options, fmt.Sprint(value))
	}
	return options, nil
}

func (s *filterService) readCachedOptions(ctx context.Context, key string) ([]string, bool) {
	payload, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var options []string
	if err := json.Unmarshal(payload, &options); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return options, true
}

func (s *filterService) writeOptions(ctx context.Context, key string, options []string) {
	payload, err := json.Marshal(options)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, payload, s.ttls.FilterOptions); err != nil {
		s.logger.Warn("options cache write failed", zap.String("key", key), zap.Error(err))
	}
}
