package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/config"
)

// PingResponse describes the running service instance.
type PingResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname,omitempty"`
}

// HealthHandler serves the liveness and identity endpoints.
type HealthHandler struct {
	cfg    *config.Config
	logger *zap.Logger
}

func NewHealthHandler(cfg *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health is the load balancer probe: a bare 200 "ok".
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping reports which build is running where.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	resp := PingResponse{
		Status:      "ok",
		Service:     "lead-engine",
		Version:     h.cfg.Version,
		Environment: h.cfg.Env,
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("encode ping response", zap.Error(err))
	}
}
