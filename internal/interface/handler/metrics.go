package handler

import (
	"encoding/json"
	"net/http"

	"github.com/relaywire/proxy/internal/domain"
	"github.com/relaywire/proxy/internal/usecase"
)

// MetricsHandler serves the operator-facing metrics/stats/health
// endpoints over plain net/http, separate from the proxy's own raw
// listener.
type MetricsHandler struct {
	metricsUseCase *usecase.MetricsUseCase
	logger         domain.Logger
}

// NewMetricsHandler wires the metrics use case.
func NewMetricsHandler(metricsUseCase *usecase.MetricsUseCase, logger domain.Logger) *MetricsHandler {
	return &MetricsHandler{metricsUseCase: metricsUseCase, logger: logger}
}

// HandleMetrics serves the counters in Prometheus exposition format.
func (h *MetricsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.metricsUseCase.GetPrometheusMetrics(r.Context())
	if err != nil {
		h.logger.Error("Failed to get metrics", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(metrics))
}

// HandleStats serves the counters as JSON.
func (h *MetricsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := h.metricsUseCase.GetMetricsSnapshot()
	if err != nil {
		h.logger.Error("Failed to get metrics snapshot", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("Failed to encode metrics", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// HandleHealth is a liveness probe endpoint.
func (h *MetricsHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "up",
	})
}
