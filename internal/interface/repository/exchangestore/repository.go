// Package exchangestore retains completed exchanges for UI export, per
// the capture-export JSON persistence format. It adapts a
// gzip-compressing, size-bounded cache repository: instead of
// TTL-expiring response bodies keyed by cache key, it is a bounded
// ring buffer of whole exchanges keyed by insertion order, evicting
// the oldest entry once capacity is reached.
package exchangestore

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/relaywire/proxy/internal/domain"
)

// Repository is an in-memory, gzip-compressed exchange retention
// buffer bounded by entry count.
type Repository struct {
	mu       sync.RWMutex
	order    []string
	entries  map[string]*entry
	maxCount int
}

var _ domain.ExchangeStore = (*Repository)(nil)

// New returns a Repository retaining at most maxCount exchanges.
func New(maxCount int) *Repository {
	if maxCount <= 0 {
		maxCount = 500
	}
	return &Repository{
		entries:  make(map[string]*entry),
		maxCount: maxCount,
	}
}

// Put compresses and stores e, evicting the oldest retained exchange
// if the buffer is at capacity.
func (r *Repository) Put(e *domain.Exchange) error {
	rec := toRecord(e)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	compressed, err := compress(raw)
	if err != nil {
		return err
	}

	id := e.ID.String()
	createdAt := time.Now()
	if e.Request != nil {
		createdAt = e.Request.CreatedAt
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = &entry{
		id:         id,
		size:       int64(len(compressed)),
		compressed: true,
		data:       compressed,
		createdAt:  createdAt,
	}

	for len(r.order) > r.maxCount {
		r.evictOldestLocked()
	}

	return nil
}

func (r *Repository) evictOldestLocked() {
	if len(r.order) == 0 {
		return
	}
	oldest := r.order[0]
	r.order = r.order[1:]
	delete(r.entries, oldest)
}

// Export renders every retained exchange as a JSON array in
// insertion order, matching the capture-export format.
func (r *Repository) Export() ([]byte, error) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	snapshot := make(map[string]*entry, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	records := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		e, ok := snapshot[id]
		if !ok {
			continue
		}
		raw := e.data
		if e.compressed {
			var err error
			raw, err = decompress(raw)
			if err != nil {
				return nil, err
			}
		}
		records = append(records, json.RawMessage(raw))
	}

	return json.MarshalIndent(records, "", "  ")
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
