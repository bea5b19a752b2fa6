package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/config"
	"github.com/lumina-bi/lumina-engine/pkg/database"
)

// readyProbeTimeout bounds the backend pings issued by the readiness probe.
const readyProbeTimeout = 2 * time.Second

// ReadyResponse contains per-backend status for the readiness probe.
type ReadyResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Environment string `json:"environment"`
	Database    string `json:"database"`
	Warehouse   string `json:"warehouse,omitempty"`
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	cfg       *config.Config
	db        *database.DB
	warehouse *database.Warehouse
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. warehouse may be nil when no
// analytical backend is configured.
func NewHealthHandler(cfg *config.Config, db *database.DB, warehouse *database.Warehouse, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, warehouse: warehouse, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/ready", h.Ready)
}

// Health handles GET /health requests.
// Returns a simple "ok" status for container health checks.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /health/ready requests.
// Returns 200 once the relational database answers a ping. A degraded
// warehouse is reported but does not fail the probe: the router falls back
// to the relational backend, so the engine still serves queries.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "not_ready", "Database not configured"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Readiness probe failed: database unreachable", zap.Error(err))
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "not_ready", "Database unreachable"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ReadyResponse{
		Status:      "ready",
		Service:     "lumina-engine",
		Version:     h.cfg.Version,
		GoVersion:   runtime.Version(),
		Environment: h.cfg.Env,
		Database:    "ok",
	}

	if h.warehouse != nil {
		response.Warehouse = "ok"
		if err := h.warehouse.PingContext(ctx); err != nil {
			h.logger.Warn("Readiness probe: warehouse unreachable", zap.Error(err))
			response.Warehouse = "unavailable"
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ready response", zap.Error(err))
	}
}
