package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/services"
)

// mockValidatedQueryService is a configurable mock for handler tests.
type mockValidatedQueryService struct {
	query     *models.ValidatedQuery
	queries   []*models.ValidatedQuery
	result    *services.ExecutionResult
	report    *services.MaterializeReport
	snapshots []*models.ResultSnapshot
	deleted   int
	err       error

	capturedScope    string
	capturedIDOrName string
	capturedFilters  models.FilterParams
	capturedSQL      string
	capturedLimit    int
	capturedCreate   *services.CreateValidatedQueryRequest
	capturedUpdate   *services.UpdateValidatedQueryRequest
	deactivatedID    uuid.UUID
	createCalls      int
}

func (m *mockValidatedQueryService) Create(ctx context.Context, req *services.CreateValidatedQueryRequest) (*models.ValidatedQuery, error) {
	m.createCalls++
	m.capturedCreate = req
	if m.err != nil {
		return nil, m.err
	}
	return m.query, nil
}

func (m *mockValidatedQueryService) GetByIDOrName(ctx context.Context, idOrName string) (*models.ValidatedQuery, error) {
	m.capturedIDOrName = idOrName
	if m.err != nil {
		return nil, m.err
	}
	return m.query, nil
}

func (m *mockValidatedQueryService) List(ctx context.Context, scope string) ([]*models.ValidatedQuery, error) {
	m.capturedScope = scope
	if m.err != nil {
		return nil, m.err
	}
	return m.queries, nil
}

func (m *mockValidatedQueryService) Update(ctx context.Context, id uuid.UUID, req *services.UpdateValidatedQueryRequest) (*models.ValidatedQuery, error) {
	m.capturedUpdate = req
	if m.err != nil {
		return nil, m.err
	}
	return m.query, nil
}

func (m *mockValidatedQueryService) Deactivate(ctx context.Context, id uuid.UUID) error {
	m.deactivatedID = id
	return m.err
}

func (m *mockValidatedQueryService) Execute(ctx context.Context, idOrName string, filters models.FilterParams) (*services.ExecutionResult, error) {
	m.capturedIDOrName = idOrName
	m.capturedFilters = filters
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockValidatedQueryService) ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*services.ExecutionResult, error) {
	m.capturedSQL = sqlText
	m.capturedFilters = filters
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockValidatedQueryService) MaterializeAll(ctx context.Context) (*services.MaterializeReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

func (m *mockValidatedQueryService) InvalidateCache(ctx context.Context, queryID uuid.UUID, reason string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.deleted, nil
}

func (m *mockValidatedQueryService) ListSnapshots(ctx context.Context, queryID uuid.UUID, limit int) ([]*models.ResultSnapshot, error) {
	m.capturedLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshots, nil
}

// mockFilterService is a configurable mock for handler tests.
type mockFilterService struct {
	dimension  *models.FilterDimension
	dimensions []*models.FilterDimension
	options    *services.FilterOptions
	report     *services.WarmUpReport
	deleted    int
	err        error

	capturedParam  string
	capturedCreate *services.CreateFilterDimensionRequest
	capturedUpdate *services.UpdateFilterDimensionRequest
	deactivatedID  uuid.UUID
	createCalls    int
}

func (m *mockFilterService) CreateDimension(ctx context.Context, req *services.CreateFilterDimensionRequest) (*models.FilterDimension, error) {
	m.createCalls++
	m.capturedCreate = req
	if m.err != nil {
		return nil, m.err
	}
	return m.dimension, nil
}

func (m *mockFilterService) ListDimensions(ctx context.Context) ([]*models.FilterDimension, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.dimensions, nil
}

func (m *mockFilterService) UpdateDimension(ctx context.Context, id uuid.UUID, req *services.UpdateFilterDimensionRequest) (*models.FilterDimension, error) {
	m.capturedUpdate = req
	if m.err != nil {
		return nil, m.err
	}
	return m.dimension, nil
}

func (m *mockFilterService) DeactivateDimension(ctx context.Context, id uuid.UUID) error {
	m.deactivatedID = id
	return m.err
}

func (m *mockFilterService) GetOptions(ctx context.Context, param string) (*services.FilterOptions, error) {
	m.capturedParam = param
	if m.err != nil {
		return nil, m.err
	}
	return m.options, nil
}

func (m *mockFilterService) WarmUp(ctx context.Context) (*services.WarmUpReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

func (m *mockFilterService) InvalidateOptions(ctx context.Context, param string) error {
	m.capturedParam = param
	return m.err
}

func (m *mockFilterService) InvalidateAllOptions(ctx context.Context) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.deleted, nil
}
