package exchangestore

import "time"

// entry is the retention metadata kept alongside each stored exchange,
// mirroring a cache.Entry shape (size/creation bookkeeping)
// generalized from a TTL-expiring cache entry to a ring-buffer slot.
type entry struct {
	id         string
	size       int64
	createdAt  time.Time
	compressed bool
	data       []byte
}
