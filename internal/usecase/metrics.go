package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/proxy/internal/domain"
)

// MetricsUseCase periodically flushes the engine's counters to disk
// and renders them for the metrics/stats HTTP endpoints.
type MetricsUseCase struct {
	metrics      domain.MetricsCollector
	logger       domain.Logger
	saveInterval time.Duration
	done         chan struct{}
}

// MetricsConfig controls the periodic flush cadence.
type MetricsConfig struct {
	SaveInterval time.Duration
	MetricsFile  string
}

// NewMetricsUseCase starts the periodic save loop immediately.
func NewMetricsUseCase(
	metrics domain.MetricsCollector, logger domain.Logger, config MetricsConfig,
) *MetricsUseCase {
	if config.SaveInterval == 0 {
		config.SaveInterval = 1 * time.Minute
	}

	uc := &MetricsUseCase{
		metrics:      metrics,
		logger:       logger,
		saveInterval: config.SaveInterval,
		done:         make(chan struct{}),
	}

	go uc.startPeriodicSave()
	return uc
}

// Start logs that metrics collection is live; counters are already
// accumulating via the collector itself.
func (uc *MetricsUseCase) Start() error {
	uc.logger.Info("Starting metrics collection", map[string]interface{}{
		"save_interval": uc.saveInterval.String(),
	})
	return nil
}

// Stop halts the periodic save loop.
func (uc *MetricsUseCase) Stop() error {
	uc.logger.Info("Stopping metrics collection", nil)
	close(uc.done)
	return nil
}

func (uc *MetricsUseCase) startPeriodicSave() {
	ticker := time.NewTicker(uc.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := uc.saveMetrics(); err != nil {
				uc.logger.Error("Failed to save metrics", err, nil)
			}
		case <-uc.done:
			uc.logger.Info("Stopping periodic metrics save", nil)
			return
		}
	}
}

func (uc *MetricsUseCase) saveMetrics() error {
	snapshot, err := uc.GetMetricsSnapshot()
	if err != nil {
		return fmt.Errorf("failed to get metrics snapshot: %v", err)
	}

	if saver, ok := uc.metrics.(interface {
		SaveMetrics(*domain.MetricsSnapshot) error
	}); ok {
		return saver.SaveMetrics(snapshot)
	}

	return nil
}

// GetMetricsSnapshot reads the collector's map-shaped snapshot and
// rebuilds a typed domain.MetricsSnapshot from it.
func (uc *MetricsUseCase) GetMetricsSnapshot() (*domain.MetricsSnapshot, error) {
	data := uc.metrics.GetSnapshot()

	snapshot := &domain.MetricsSnapshot{
		Timestamp:          time.Now(),
		StartTime:          data["start_time"].(time.Time),
		CurrentConnections: data["current_connections"].(int64),
		TotalRequests:      data["total_requests"].(int64),
		TotalTunnels:       data["total_tunnels"].(int64),
		BytesTransferred:   data["bytes_transferred"].(int64),
		RewritesApplied:    data["rewrites_applied"].(int64),
		BlockedRequests:    data["blocked_requests"].(int64),
		Errors:             data["errors"].(int64),
		Uptime:             data["uptime"].(string),
	}

	return snapshot, nil
}

// GetPrometheusMetrics renders the current snapshot as Prometheus
// exposition text.
func (uc *MetricsUseCase) GetPrometheusMetrics(ctx context.Context) (string, error) {
	snapshot, err := uc.GetMetricsSnapshot()
	if err != nil {
		return "", err
	}

	return snapshot.ToPrometheusFormat(), nil
}
