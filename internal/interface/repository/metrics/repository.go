// Package metrics implements domain.MetricsCollector, tracking the
// proxy engine's connection, request, tunnel, rewrite and error
// counters and exposing them as a snapshot for the Prometheus/JSON
// endpoints in internal/interface/handler.
package metrics

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/relaywire/proxy/internal/domain"
)

// Repository is an in-memory counter set, periodically flushable to a
// JSON snapshot file via SaveMetrics.
type Repository struct {
	metricsFile string
	startTime   time.Time
	connections int64
	requests    int64
	tunnels     int64
	bytes       int64
	rewrites    int64
	blocked     int64
	errors      int64
}

var _ domain.MetricsCollector = (*Repository)(nil)

// New returns a Repository that will flush to metricsFile via SaveMetrics.
func New(metricsFile string) *Repository {
	return &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
	}
}

// SaveMetrics durably writes snapshot to metricsFile (temp file + rename).
func (r *Repository) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tempFile := r.metricsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, r.metricsFile)
}

func (r *Repository) IncrementConnections()       { atomic.AddInt64(&r.connections, 1) }
func (r *Repository) DecrementConnections()       { atomic.AddInt64(&r.connections, -1) }
func (r *Repository) AddBytesTransferred(n int64) { atomic.AddInt64(&r.bytes, n) }
func (r *Repository) RecordRequest()              { atomic.AddInt64(&r.requests, 1) }
func (r *Repository) RecordTunnel()               { atomic.AddInt64(&r.tunnels, 1) }
func (r *Repository) RecordRewriteApplied()       { atomic.AddInt64(&r.rewrites, 1) }
func (r *Repository) RecordBlockedRequest()       { atomic.AddInt64(&r.blocked, 1) }

func (r *Repository) RecordError(kind domain.ErrorKind) {
	if kind == domain.KindNone {
		return
	}
	atomic.AddInt64(&r.errors, 1)
}

// Snapshot renders the current counters as a domain.MetricsSnapshot,
// used by both GetSnapshot and the periodic SaveMetrics flush.
func (r *Repository) Snapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		Timestamp:          time.Now(),
		StartTime:          r.startTime,
		CurrentConnections: atomic.LoadInt64(&r.connections),
		TotalRequests:      atomic.LoadInt64(&r.requests),
		TotalTunnels:       atomic.LoadInt64(&r.tunnels),
		BytesTransferred:   atomic.LoadInt64(&r.bytes),
		RewritesApplied:    atomic.LoadInt64(&r.rewrites),
		BlockedRequests:    atomic.LoadInt64(&r.blocked),
		Errors:             atomic.LoadInt64(&r.errors),
		Uptime:             time.Since(r.startTime).String(),
	}
}

// GetSnapshot satisfies domain.MetricsCollector's map-shaped accessor,
// used by the handler's JSON metrics endpoint.
func (r *Repository) GetSnapshot() map[string]interface{} {
	s := r.Snapshot()
	return map[string]interface{}{
		"timestamp":           s.Timestamp,
		"start_time":          s.StartTime,
		"current_connections": s.CurrentConnections,
		"total_requests":      s.TotalRequests,
		"total_tunnels":       s.TotalTunnels,
		"bytes_transferred":   s.BytesTransferred,
		"rewrites_applied":    s.RewritesApplied,
		"blocked_requests":    s.BlockedRequests,
		"errors":              s.Errors,
		"uptime":              s.Uptime,
	}
}
