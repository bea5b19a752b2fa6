package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/middleware"
	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/services"
)

// FilterDimensionResponse matches the dashboard's filter dimension shape.
type FilterDimensionResponse struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Param      string  `json:"param"`
	Control    string  `json:"control"`
	OptionsSQL *string `json:"options_sql,omitempty"`
	Active     bool    `json:"active"`
	Selectable bool    `json:"selectable"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// ListFilterDimensionsResponse wraps array for frontend compatibility.
type ListFilterDimensionsResponse struct {
	Filters []FilterDimensionResponse `json:"filters"`
}

// CreateFilterDimensionRequest for POST body.
type CreateFilterDimensionRequest struct {
	Label      string `json:"label"`
	Param      string `json:"param"`
	Control    string `json:"control"`
	OptionsSQL string `json:"options_sql,omitempty"`
}

// UpdateFilterDimensionRequest for PUT body (all fields optional).
type UpdateFilterDimensionRequest struct {
	Label      *string `json:"label,omitempty"`
	Param      *string `json:"param,omitempty"`
	Control    *string `json:"control,omitempty"`
	OptionsSQL *string `json:"options_sql,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// DeactivateDimensionResponse for delete result.
type DeactivateDimensionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// InvalidateOptionsResponse for single-dimension cache invalidation.
type InvalidateOptionsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// InvalidateAllOptionsResponse reports a full option-cache flush.
type InvalidateAllOptionsResponse struct {
	KeysDeleted int    `json:"keys_deleted"`
	Message     string `json:"message"`
}

// FiltersHandler handles filter dimension and option-cache HTTP requests.
type FiltersHandler struct {
	filters services.FilterService
	logger  *zap.Logger
}

// NewFiltersHandler creates a new filters handler.
func NewFiltersHandler(filters services.FilterService, logger *zap.Logger) *FiltersHandler {
	return &FiltersHandler{
		filters: filters,
		logger:  logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux. Listing
// dimensions and reading options are open to dashboard callers; dimension
// writes and cache management require the admin token.
func (h *FiltersHandler) RegisterRoutes(mux *http.ServeMux, admin *middleware.Admin) {
	base := "/validated-queries/meta/filters"

	// Dimension catalogue endpoints
	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("POST "+base, admin.Require(h.Create))
	mux.HandleFunc("PUT "+base+"/{id}", admin.Require(h.Update))
	mux.HandleFunc("DELETE "+base+"/{id}", admin.Require(h.Deactivate))

	// Option endpoints
	mux.HandleFunc("GET "+base+"/{param}/options", h.Options)

	// Option-cache lifecycle endpoints
	mux.HandleFunc("POST "+base+"/cache/warmup", admin.Require(h.WarmUp))
	mux.HandleFunc("DELETE "+base+"/cache", admin.Require(h.InvalidateAll))
	mux.HandleFunc("DELETE "+base+"/cache/{param}", admin.Require(h.Invalidate))
}

// List handles GET /validated-queries/meta/filters
func (h *FiltersHandler) List(w http.ResponseWriter, r *http.Request) {
	dimensions, err := h.filters.ListDimensions(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to list filter dimensions")
		return
	}

	data := ListFilterDimensionsResponse{
		Filters: make([]FilterDimensionResponse, len(dimensions)),
	}
	for i, d := range dimensions {
		data.Filters[i] = h.toDimensionResponse(d)
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /validated-queries/meta/filters
func (h *FiltersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFilterDimensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Label == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_label", "Dimension label is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Param == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_param", "Dimension param is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	serviceReq := &services.CreateFilterDimensionRequest{
		Label:      req.Label,
		Param:      req.Param,
		Control:    req.Control,
		OptionsSQL: req.OptionsSQL,
	}

	dimension, err := h.filters.CreateDimension(r.Context(), serviceReq)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to create filter dimension")
		return
	}

	response := ApiResponse{Success: true, Data: h.toDimensionResponse(dimension)}
	if err := WriteJSON(w, http.StatusCreated, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /validated-queries/meta/filters/{id}
func (h *FiltersHandler) Update(w http.ResponseWriter, r *http.Request) {
	dimensionID, ok := ParseDimensionID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateFilterDimensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	serviceReq := &services.UpdateFilterDimensionRequest{
		Label:      req.Label,
		Param:      req.Param,
		Control:    req.Control,
		OptionsSQL: req.OptionsSQL,
		Active:     req.Active,
	}

	dimension, err := h.filters.UpdateDimension(r.Context(), dimensionID, serviceReq)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to update filter dimension")
		return
	}

	response := ApiResponse{Success: true, Data: h.toDimensionResponse(dimension)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Deactivate handles DELETE /validated-queries/meta/filters/{id}
func (h *FiltersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	dimensionID, ok := ParseDimensionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.filters.DeactivateDimension(r.Context(), dimensionID); err != nil {
		WriteServiceError(w, h.logger, err, "Failed to deactivate filter dimension")
		return
	}

	data := DeactivateDimensionResponse{
		Success: true,
		Message: "Filter dimension deactivated successfully",
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Options handles GET /validated-queries/meta/filters/{param}/options
func (h *FiltersHandler) Options(w http.ResponseWriter, r *http.Request) {
	param := r.PathValue("param")

	options, err := h.filters.GetOptions(r.Context(), param)
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to get filter options")
		return
	}

	response := ApiResponse{Success: true, Data: options}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// WarmUp handles POST /validated-queries/meta/filters/cache/warmup
func (h *FiltersHandler) WarmUp(w http.ResponseWriter, r *http.Request) {
	report, err := h.filters.WarmUp(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to warm up filter options")
		return
	}

	response := ApiResponse{Success: true, Data: report}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// InvalidateAll handles DELETE /validated-queries/meta/filters/cache
func (h *FiltersHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.filters.InvalidateAllOptions(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err, "Failed to invalidate filter options cache")
		return
	}

	data := InvalidateAllOptionsResponse{
		KeysDeleted: deleted,
		Message:     "Filter options cache invalidated",
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Invalidate handles DELETE /validated-queries/meta/filters/cache/{param}
func (h *FiltersHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	param := r.PathValue("param")

	if err := h.filters.InvalidateOptions(r.Context(), param); err != nil {
		WriteServiceError(w, h.logger, err, "Failed to invalidate filter options")
		return
	}

	data := InvalidateOptionsResponse{
		Success: true,
		Message: "Filter options invalidated for " + param,
	}

	response := ApiResponse{Success: true, Data: data}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Helper methods

func (h *FiltersHandler) toDimensionResponse(d *models.FilterDimension) FilterDimensionResponse {
	return FilterDimensionResponse{
		ID:         d.ID.String(),
		Label:      d.Label,
		Param:      d.Param,
		Control:    d.Control,
		OptionsSQL: d.OptionsSQL,
		Active:     d.Active,
		Selectable: d.Selectable(),
		CreatedAt:  d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:  d.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
