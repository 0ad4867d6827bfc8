package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/config"
	"github.com/ekaya-inc/ekaya-tables/pkg/logging"
)

const healthPingTimeout = 2 * time.Second

// StorageProbe is the part of a storage adapter the health check needs.
type StorageProbe interface {
	Ping(ctx context.Context) error
	Info() datasource.EngineInfo
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Storage *datasource.EngineInfo `json:"storage,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg     *config.Config
	storage StorageProbe
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. storage may be nil, in which
// case /health only reports that the process is up.
func NewHealthHandler(cfg *config.Config, storage StorageProbe, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, storage: storage, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests.
// Pings the storage adapter and reports 503 when it is unreachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
	}
	status := http.StatusOK

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Warn("Storage health check failed", zap.String("error", logging.SanitizeError(err)))
			response.Status = "unavailable"
			response.Error = logging.SanitizeError(err)
			status = http.StatusServiceUnavailable
		}
		info := h.storage.Info()
		response.Storage = &info
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		if werr := WriteError(w, fmt.Errorf("failed to get hostname: %w", err)); werr != nil {
			h.logger.Error("Failed to encode error response", zap.Error(werr))
		}
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-tables",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
