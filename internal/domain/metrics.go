package domain

import (
	"fmt"
	"strings"
	"time"
)

// MetricsSnapshot is a point-in-time read of the proxy engine's
// counters.
type MetricsSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	StartTime          time.Time `json:"start_time"`
	CurrentConnections int64     `json:"current_connections"`
	TotalRequests      int64     `json:"total_requests"`
	TotalTunnels       int64     `json:"total_tunnels"`
	BytesTransferred   int64     `json:"bytes_transferred"`
	RewritesApplied    int64     `json:"rewrites_applied"`
	BlockedRequests    int64     `json:"blocked_requests"`
	Errors             int64     `json:"errors"`
	Uptime             string    `json:"uptime"`
}

// ToPrometheusFormat renders the snapshot as Prometheus exposition text.
func (ms *MetricsSnapshot) ToPrometheusFormat() string {
	return formatMetricsToPrometheus(ms)
}

func formatMetricsToPrometheus(ms *MetricsSnapshot) string {
	var metrics []string

	metrics = append(metrics,
		fmt.Sprintf("# HELP proxy_current_connections Current number of active connections\n"+
			"# TYPE proxy_current_connections gauge\n"+
			"proxy_current_connections %d", ms.CurrentConnections),

		fmt.Sprintf("# HELP proxy_total_requests Total number of processed requests\n"+
			"# TYPE proxy_total_requests counter\n"+
			"proxy_total_requests %d", ms.TotalRequests),

		fmt.Sprintf("# HELP proxy_total_tunnels Total number of CONNECT tunnels established\n"+
			"# TYPE proxy_total_tunnels counter\n"+
			"proxy_total_tunnels %d", ms.TotalTunnels),

		fmt.Sprintf("# HELP proxy_bytes_transferred Total number of bytes transferred\n"+
			"# TYPE proxy_bytes_transferred counter\n"+
			"proxy_bytes_transferred %d", ms.BytesTransferred),

		fmt.Sprintf("# HELP proxy_rewrites_applied Total number of rewrite rules applied\n"+
			"# TYPE proxy_rewrites_applied counter\n"+
			"proxy_rewrites_applied %d", ms.RewritesApplied),

		fmt.Sprintf("# HELP proxy_blocked_requests Total number of blocked requests\n"+
			"# TYPE proxy_blocked_requests counter\n"+
			"proxy_blocked_requests %d", ms.BlockedRequests),

		fmt.Sprintf("# HELP proxy_errors Total number of errors\n"+
			"# TYPE proxy_errors counter\n"+
			"proxy_errors %d", ms.Errors),
	)

	return strings.Join(metrics, "\n\n") + "\n"
}
