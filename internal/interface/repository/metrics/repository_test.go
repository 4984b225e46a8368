package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxy/internal/domain"
)

func TestSnapshot_ReflectsRecordedCounters(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "metrics.json"))

	r.IncrementConnections()
	r.IncrementConnections()
	r.DecrementConnections()
	r.RecordRequest()
	r.RecordTunnel()
	r.AddBytesTransferred(1024)
	r.RecordRewriteApplied()
	r.RecordBlockedRequest()
	r.RecordError(domain.KindUpstreamConnectError)

	snap := r.Snapshot()
	require.Equal(t, int64(1), snap.CurrentConnections)
	require.Equal(t, int64(1), snap.TotalRequests)
	require.Equal(t, int64(1), snap.TotalTunnels)
	require.Equal(t, int64(1024), snap.BytesTransferred)
	require.Equal(t, int64(1), snap.RewritesApplied)
	require.Equal(t, int64(1), snap.BlockedRequests)
	require.Equal(t, int64(1), snap.Errors)
}

func TestRecordError_IgnoresKindNone(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "metrics.json"))
	r.RecordError(domain.KindNone)
	require.Equal(t, int64(0), r.Snapshot().Errors)
}

func TestGetSnapshot_ExposesMapKeysForJSONEndpoint(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "metrics.json"))
	r.RecordRequest()

	m := r.GetSnapshot()
	require.Equal(t, int64(1), m["total_requests"])
	require.Contains(t, m, "uptime")
}

func TestSaveMetrics_WritesDurablyViaTempFileAndRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	r := New(path)
	r.RecordRequest()

	require.NoError(t, r.SaveMetrics(r.Snapshot()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap domain.MetricsSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, int64(1), snap.TotalRequests)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}
