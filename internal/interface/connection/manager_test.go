package connection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxy/internal/domain"
)

func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln
}

func TestGetConnection_DialsFreshWhenPoolEmpty(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	m := NewManager(5, time.Minute, time.Hour, domain.Timeouts{UpstreamConnect: time.Second})
	defer m.CloseAll()

	conn, err := m.GetConnection(ln.Addr().String())
	require.NoError(t, err)
	require.NotNil(t, conn)
	conn.Close()
}

func TestReleaseThenGetConnection_ReusesPooledConn(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	m := NewManager(5, time.Minute, time.Hour, domain.Timeouts{UpstreamConnect: time.Second})
	defer m.CloseAll()

	addr := ln.Addr().String()
	first, err := m.GetConnection(addr)
	require.NoError(t, err)

	m.ReleaseConnection(addr, first)

	second, err := m.GetConnection(addr)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestReleaseConnection_ClosesOverflowPastMaxIdle(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	m := NewManager(1, time.Minute, time.Hour, domain.Timeouts{UpstreamConnect: time.Second})
	defer m.CloseAll()

	addr := ln.Addr().String()
	a, err := m.GetConnection(addr)
	require.NoError(t, err)
	b, err := m.GetConnection(addr)
	require.NoError(t, err)

	m.ReleaseConnection(addr, a)
	m.ReleaseConnection(addr, b) // pool already holds one idle conn, this one should be closed

	one, err := m.GetConnection(addr)
	require.NoError(t, err)
	two, err := m.GetConnection(addr)
	require.NoError(t, err)

	require.True(t, one == a || two == a)
}

func TestGetConnection_SkipsExpiredPooledConn(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	m := NewManager(5, 20*time.Millisecond, time.Hour, domain.Timeouts{UpstreamConnect: time.Second})
	defer m.CloseAll()

	addr := ln.Addr().String()
	stale, err := m.GetConnection(addr)
	require.NoError(t, err)
	m.ReleaseConnection(addr, stale)

	time.Sleep(50 * time.Millisecond)

	fresh, err := m.GetConnection(addr)
	require.NoError(t, err)
	require.NotSame(t, stale, fresh)
}

func TestCloseAll_ClosesPooledConnsAndStopsCleanup(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	m := NewManager(5, time.Minute, time.Hour, domain.Timeouts{UpstreamConnect: time.Second})

	addr := ln.Addr().String()
	conn, err := m.GetConnection(addr)
	require.NoError(t, err)
	m.ReleaseConnection(addr, conn)

	require.NoError(t, m.CloseAll())
	require.NoError(t, m.CloseAll()) // idempotent, must not panic on double-close of stop channel

	_, werr := conn.Write([]byte("x"))
	require.Error(t, werr)
}
