// Package connection implements domain.ConnectionManager: pooled TCP
// dialing to upstream endpoints. It is a connection pool,
// generalized so hostPort keys can name either the origin server or a
// configured external proxy — the caller (internal/usecase) decides
// which to pass.
package connection

import (
	"net"
	"sync"
	"time"

	"github.com/relaywire/proxy/internal/domain"
)

// Manager pools idle upstream connections keyed by "host:port".
type Manager struct {
	mu          sync.Mutex
	connections map[string][]*pooledConn
	maxIdle     int
	idleTimeout time.Duration
	maxLifetime time.Duration
	dialTimeout time.Duration
	stop        chan struct{}
}

type pooledConn struct {
	conn      net.Conn
	createdAt time.Time
	lastUsed  time.Time
}

var _ domain.ConnectionManager = (*Manager)(nil)

// NewManager returns a Manager whose connect timeout follows
// timeouts.UpstreamConnect, keeping up to maxIdle idle connections per
// host. A pooled connection is recycled once it has been idle longer
// than idleTimeout or pooled longer than maxLifetime; both are counted
// from its last ReleaseConnection, not from the original dial.
func NewManager(maxIdle int, idleTimeout, maxLifetime time.Duration, timeouts domain.Timeouts) *Manager {
	m := &Manager{
		connections: make(map[string][]*pooledConn),
		maxIdle:     maxIdle,
		idleTimeout: idleTimeout,
		maxLifetime: maxLifetime,
		dialTimeout: timeouts.UpstreamConnect,
		stop:        make(chan struct{}),
	}

	go m.periodicCleanup()

	return m
}

// GetConnection returns a pooled connection to hostPort if a live one
// is available, otherwise dials a fresh one.
func (m *Manager) GetConnection(hostPort string) (net.Conn, error) {
	m.mu.Lock()
	if conns := m.connections[hostPort]; len(conns) > 0 {
		for i := len(conns) - 1; i >= 0; i-- {
			pc := conns[i]
			if time.Since(pc.lastUsed) > m.idleTimeout || time.Since(pc.createdAt) > m.maxLifetime {
				pc.conn.Close()
				continue
			}
			m.connections[hostPort] = conns[:i]
			m.mu.Unlock()
			return pc.conn, nil
		}
		m.connections[hostPort] = nil
	}
	m.mu.Unlock()

	return net.DialTimeout("tcp", hostPort, m.dialTimeout)
}

// ReleaseConnection returns conn to the pool for reuse, or closes it
// if the per-host pool is already full.
func (m *Manager) ReleaseConnection(hostPort string, conn net.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := m.connections[hostPort]
	if len(conns) >= m.maxIdle {
		conn.Close()
		return
	}

	m.connections[hostPort] = append(conns, &pooledConn{
		conn:      conn,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	})
}

// CloseAll closes every pooled connection and stops the cleanup loop.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conns := range m.connections {
		for _, pc := range conns {
			pc.conn.Close()
		}
	}
	m.connections = make(map[string][]*pooledConn)

	select {
	case <-m.stop:
	default:
		close(m.stop)
	}

	return nil
}

func (m *Manager) periodicCleanup() {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for hostPort, conns := range m.connections {
		var active []*pooledConn
		for _, pc := range conns {
			if now.Sub(pc.lastUsed) > m.idleTimeout || now.Sub(pc.createdAt) > m.maxLifetime {
				pc.conn.Close()
				continue
			}
			active = append(active, pc)
		}
		if len(active) == 0 {
			delete(m.connections, hostPort)
		} else {
			m.connections[hostPort] = active
		}
	}
}
