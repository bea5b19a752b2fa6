package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/middleware"
	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/services"
)

// ValidatedQueryResponse matches the dashboard's catalogue entry shape.
type ValidatedQueryResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Scope           string  `json:"scope"`
	SQLTemplate     string  `json:"sql_template"`
	ChartHint       string  `json:"chart_hint"`
	BackendAffinity string  `json:"backend_affinity"`
	ValidatedBy     string  `json:"validated_by"`
	ValidatedAt     string  `json:"validated_at"`
	Active          bool    `json:"active"`
	RunCount        int64   `json:"run_count"`
	LastRunAt       *string `json:"last_run_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// ListValidatedQueriesResponse wraps array for frontend compatibility.
type ListValidatedQueriesResponse struct {
	Queries []ValidatedQueryResponse `json:"queries"`
}

// CreateValidatedQueryRequest for POST body.
type CreateValidatedQueryRequest struct {
	Name            string `json:"name"`
	Scope           string `json:"scope,omitempty"`
	SQLTemplate     string `json:"sql_template"`
	ChartHint       string `json:"chart_hint,omitempty"`
	BackendAffinity string `json:"backend_affinity,omitempty"`
	ValidatedBy     string `json:"validated_by"`
}

// UpdateValidatedQueryRequest for PUT body (all fields optional).
type UpdateValidatedQueryRequest struct {
	Name            *string `json:"name,omitempty"`
	Scope           *string `json:"scope,omitempty"`
	SQLTemplate     *string `json:"sql_template,omitempty"`
	ChartHint       *string `json:"chart_hint,omitempty"`
	BackendAffinity *string `json:"backend_affinity,omitempty"`
	ValidatedBy     *string `json:"validated_by,omitempty"`
	Active          *bool   `json:"active,omitempty"`
}

// ExecuteQueryRequest for POST execute body.
type ExecuteQueryRequest struct {
	Filters models.FilterParams `json:"filters,omitempty"`
}

// TestQueryRequest for POST test body.
type TestQueryRequest struct {
	SQL     string              `json:"sql"`
	Filters models.FilterParams `json:"filters,omitempty"`
}

// ExecutionMetadata records the provenance of an execution result.
type ExecutionMetadata struct {
	IsValidated bool   `json:"is_validated"`
	QueryID     string `json:"query_id,omitempty"`
	QueryName   string `json:"query_name,omitempty"`
	ChartHint   string `json:"chart_hint,omitempty"`
	Cached      bool   `json:"cached"`
	Backend     string `json:"backend,omitempty"`
	RowCount    int    `json:"row_count"`
}

// ExecuteQueryResponse pairs result rows with their provenance metadata.
type ExecuteQueryResponse struct {
	Data     []map[string]any  `json:"data"`
	Columns  []string          `json:"columns"`
	Metadata ExecutionMetadata `json:"metadata"`
}

// SnapshotResponse is the wire shape of one materialized result snapshot.
type SnapshotResponse struct {
	ID       string              `json:"id"`
	QueryID  string              `json:"query_id"`
	RunAt    string              `json:"run_at"`
	Filters  models.FilterParams `json:"filters"`
	RowCount int                 `json:"row_count"`
	Result   json.RawMessage     `json:"result"`
}

// ListSnapshotsResponse wraps array for frontend compatibility.
type ListSnapshotsResponse struct {
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// DeactivateQueryResponse for delete result.
type DeactivateQueryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ValidatedQueriesHandler handles catalogue and execution HTTP requests.
type ValidatedQueriesHandler struct {
	queries services.ValidatedQueryService
	logger  *zap.Logger
}

// NewValidatedQueriesHandler creates a new validated queries handler.
func NewValidatedQueriesHandler(queries services.ValidatedQueryService, logger *zap.Logger) *ValidatedQueriesHandler {
	return &ValidatedQueriesHandler{
		queries: queries,
		logger:  logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux. Read and
// execute endpoints are open to dashboard callers; catalogue writes, ad-hoc
// testing, materialization, and snapshot inspection require the admin token.
func (h *ValidatedQueriesHandler) RegisterRoutes(mux *http.ServeMux, admin *middleware.Admin) {
	base := "/validated-queries"

	// Catalogue endpoints
	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("POST "+base, admin.Require(h.Create))
	mux.HandleFunc("GET "+base+"/{idOrName}", h.Get)
	mux.HandleFunc("PUT "+base+"/{id}", admin.Require(h.Update))
	mux.HandleFunc("DELETE "+base+"/{id}", admin.Require(h.Deactivate))

	// Execution endpoints
	mux.HandleFunc("POST "+base+"/{idOrName}/execute", h.Execute)
	mux.HandleFunc("POST "+base+"/test", admin.Require(h.Test))

	// Cache lifecycle endpoints
	mux.HandleFunc("POST "+base+"/materialize", admin.Require(h.Materialize))
	mux.HandleFunc("GET "+base+"/{id}/snapshots", admin.Require(h.Snapshots))
}

// List handles GET /validated-queries
func (h *ValidatedQueriesHandler) List(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")

	queries, err := h.queries.List(r.Context(), scope)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to list validated queries")
		return
	}

	data := ListValidatedQueriesResponse{
		Queries: make([]ValidatedQueryResponse, len(queries)),
	}
	for i, q := range queries {
		data.Queries[i] = h.toQueryResponse(q)
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /validated-queries
func (h *ValidatedQueriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateValidatedQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Query name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.SQLTemplate == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_sql_template", "SQL template is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	serviceReq := &services.CreateValidatedQueryRequest{
		Name:            req.Name,
		Scope:           req.Scope,
		SQLTemplate:     req.SQLTemplate,
		ChartHint:       req.ChartHint,
		BackendAffinity: req.BackendAffinity,
		ValidatedBy:     req.ValidatedBy,
	}

	query, err := h.queries.Create(r.Context(), serviceReq)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to create validated query")
		return
	}

	response := ApiResponse{Success: true, Data: h.toQueryResponse(query)}
	if err := WriteJSON(w, http.StatusCreated, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /validated-queries/{idOrName}
func (h *ValidatedQueriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	idOrName := r.PathValue("idOrName")

	query, err := h.queries.GetByIDOrName(r.Context(), idOrName)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to get validated query")
		return
	}

	response := ApiResponse{Success: true, Data: h.toQueryResponse(query)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /validated-queries/{id}
func (h *ValidatedQueriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	queryID, ok := ParseQueryID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateValidatedQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	serviceReq := &services.UpdateValidatedQueryRequest{
		Name:            req.Name,
		Scope:           req.Scope,
		SQLTemplate:     req.SQLTemplate,
		ChartHint:       req.ChartHint,
		BackendAffinity: req.BackendAffinity,
		ValidatedBy:     req.ValidatedBy,
		Active:          req.Active,
	}

	query, err := h.queries.Update(r.Context(), queryID, serviceReq)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to update validated query")
		return
	}

	response := ApiResponse{Success: true, Data: h.toQueryResponse(query)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Deactivate handles DELETE /validated-queries/{id}
func (h *ValidatedQueriesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	queryID, ok := ParseQueryID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.queries.Deactivate(r.Context(), queryID); err != nil {
		WriteServiceError(w, h.logger, err, "Failed to deactivate validated query")
		return
	}

	data := DeactivateQueryResponse{
		Success: true,
		Message: "Query deactivated successfully",
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Execute handles POST /validated-queries/{idOrName}/execute
func (h *ValidatedQueriesHandler) Execute(w http.ResponseWriter, r *http.Request) {
	idOrName := r.PathValue("idOrName")

	var req ExecuteQueryRequest
	// Body is optional for execute
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := h.queries.Execute(r.Context(), idOrName, req.Filters)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to execute validated query")
		return
	}

	response := ApiResponse{Success: true, Data: h.toExecuteResponse(result)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Test handles POST /validated-queries/test
func (h *ValidatedQueriesHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.SQL == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_sql", "SQL statement is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.queries.ExecuteAdHoc(r.Context(), req.SQL, req.Filters)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to execute test query")
		return
	}

	response := ApiResponse{Success: true, Data: h.toExecuteResponse(result)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Materialize handles POST /validated-queries/materialize
func (h *ValidatedQueriesHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	report, err := h.queries.MaterializeAll(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to materialize catalogue")
		return
	}

	response := ApiResponse{Success: true, Data: report}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Snapshots handles GET /validated-queries/{id}/snapshots
func (h *ValidatedQueriesHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	queryID, ok := ParseQueryID(w, r, h.logger)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = parsed
	}

	snapshots, err := h.queries.ListSnapshots(r.Context(), queryID, limit)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to list snapshots")
		return
	}

	data := ListSnapshotsResponse{
		Snapshots: make([]SnapshotResponse, len(snapshots)),
	}
	for i, s := range snapshots {
		data.Snapshots[i] = SnapshotResponse{
			ID:       s.ID.String(),
			QueryID:  s.QueryID.String(),
			RunAt:    s.RunAt.Format("2006-01-02T15:04:05Z07:00"),
			Filters:  s.Filters,
			RowCount: s.RowCount,
			Result:   s.Result,
		}
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Helper methods

func (h *ValidatedQueriesHandler) toQueryResponse(q *models.ValidatedQuery) ValidatedQueryResponse {
	resp := ValidatedQueryResponse{
		ID:              q.ID.String(),
		Name:            q.Name,
		Scope:           q.Scope,
		SQLTemplate:     q.SQLTemplate,
		ChartHint:       q.ChartHint,
		BackendAffinity: q.BackendAffinity,
		ValidatedBy:     q.ValidatedBy,
		ValidatedAt:     q.ValidatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Active:          q.Active,
		RunCount:        q.RunCount,
		CreatedAt:       q.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:       q.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	if q.LastRunAt != nil {
		lastRun := q.LastRunAt.Format("2006-01-02T15:04:05Z07:00")
		resp.LastRunAt = &lastRun
	}

	return resp
}

func (h *ValidatedQueriesHandler) toExecuteResponse(result *services.ExecutionResult) ExecuteQueryResponse {
	metadata := ExecutionMetadata{
		IsValidated: result.Query != nil,
		Cached:      result.Cached,
		Backend:     result.Backend,
		RowCount:    result.RowSet.RowCount,
	}
	if result.Query != nil {
		metadata.QueryID = result.Query.ID.String()
		metadata.QueryName = result.Query.Name
		metadata.ChartHint = result.Query.ChartHint
	}

	return ExecuteQueryResponse{
		Data:     result.RowSet.Rows,
		Columns:  result.RowSet.Columns,
		Metadata: metadata,
	}
}
