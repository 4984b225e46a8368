package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Method is one of the enumerated HTTP methods this proxy understands.
type Method string

const (
	MethodGet      Method = "GET"
	MethodPost     Method = "POST"
	MethodPut      Method = "PUT"
	MethodPatch    Method = "PATCH"
	MethodDelete   Method = "DELETE"
	MethodOptions  Method = "OPTIONS"
	MethodHead     Method = "HEAD"
	MethodTrace    Method = "TRACE"
	MethodConnect  Method = "CONNECT"
	MethodPropfind Method = "PROPFIND"
)

var validMethods = map[Method]bool{
	MethodGet: true, MethodPost: true, MethodPut: true, MethodPatch: true,
	MethodDelete: true, MethodOptions: true, MethodHead: true, MethodTrace: true,
	MethodConnect: true, MethodPropfind: true,
}

// IsValidMethod reports whether name matches the enumerated method set.
func IsValidMethod(name string) bool {
	return validMethods[Method(name)]
}

// ExchangeID identifies a single request paired with at most one
// response on a given connection. It replaces a cyclic
// request<->response pointer pair with an arena index into an
// ExchangeTable.
type ExchangeID uuid.UUID

// NewExchangeID mints a fresh exchange identifier.
func NewExchangeID() ExchangeID {
	return ExchangeID(uuid.New())
}

func (id ExchangeID) String() string {
	return uuid.UUID(id).String()
}

// Message holds the fields common to every HTTP request or response:
// protocol version, headers, and body. DeclaredContentLength is the
// Content-Length copied onto the message when headers finish parsing;
// -1 means unset.
type Message struct {
	ProtocolVersion       string
	Headers               *Headers
	Body                  []byte
	DeclaredContentLength int64
	RemoteAddress         string
	// DisplayBody holds a brotli body decoded for display/export only;
	// Body keeps the original encoded bytes so a pass-through forward
	// still matches its Content-Encoding header. Nil unless the body
	// was brotli-encoded.
	DisplayBody []byte
}

// Request is a decoded (or rewrite-constructed) HTTP request.
type Request struct {
	Message
	ExchangeID ExchangeID
	Method     Method
	Target     string // request-line target, origin-form or absolute-form
	Host       HostAndPort
	CreatedAt  time.Time
}

// Response is a decoded (or rewrite-constructed) HTTP response.
type Response struct {
	Message
	ExchangeID   ExchangeID
	StatusCode   int
	ReasonPhrase string
	CreatedAt    time.Time
}

// IsSuccessful reports 200 <= code < 300.
func (r *Response) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Exchange pairs a request with at most one response. It is the
// engine-owned entry that subscribers see as a read-only value once
// both halves are complete.
type Exchange struct {
	ID            ExchangeID
	Request       *Request
	Response      *Response // nil if the exchange aborted before a response was available
	RemoteAddress string
	DurationMs    int64
	Kind          ErrorKind
}

// ExchangeTable owns the live (Request, Response) pairs for a
// process, replacing cyclic pointers with arena-indexed lookups.
type ExchangeTable struct {
	mu      sync.RWMutex
	entries map[ExchangeID]*Exchange
}

// NewExchangeTable returns an empty table.
func NewExchangeTable() *ExchangeTable {
	return &ExchangeTable{entries: make(map[ExchangeID]*Exchange)}
}

// Put inserts or replaces an exchange.
func (t *ExchangeTable) Put(e *Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.ID] = e
}

// Get looks up an exchange by ID.
func (t *ExchangeTable) Get(id ExchangeID) (*Exchange, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Delete discards both halves of an exchange together.
func (t *ExchangeTable) Delete(id ExchangeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len returns the number of live exchanges.
func (t *ExchangeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
