package domain

import "net"

// AccessController decides whether a client/host pair may proceed,
// per the Configuration.HostFilter allow/deny list.
type AccessController interface {
	IsAllowed(clientIP, host string) (bool, error)
	Reload() error
}

// Logger is the structured, leveled logger every component writes
// through.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// MetricsCollector accumulates process-wide proxy-engine counters.
type MetricsCollector interface {
	IncrementConnections()
	DecrementConnections()
	AddBytesTransferred(bytes int64)
	RecordRequest()
	RecordTunnel()
	RecordRewriteApplied()
	RecordBlockedRequest()
	RecordError(kind ErrorKind)
	GetSnapshot() map[string]interface{}
}

// ExchangeStore retains completed exchanges for JSON export. It is
// adapted from a file-backed response-body cache into a bounded
// exchange retention buffer.
type ExchangeStore interface {
	Put(e *Exchange) error
	Export() ([]byte, error)
}

// ConnectionManager dials and optionally pools upstream connections.
type ConnectionManager interface {
	GetConnection(hostPort string) (net.Conn, error)
	ReleaseConnection(hostPort string, conn net.Conn)
	CloseAll() error
}

// Publisher delivers completed (or aborted) exchanges to subscribers.
// Delivery must never block the exchange: if no subscriber is
// installed, events are dropped; if one is installed, a full channel
// drops the oldest queued event.
type Publisher interface {
	Publish(e *Exchange)
	Subscribe() <-chan *Exchange
}
