// Package events implements domain.Publisher: a single-subscriber,
// bounded, drop-oldest fan-out for completed exchanges. It follows
// the house mutex-guarded repository idiom, applied to a suspension
// point where publishing must never block an in-flight exchange.
package events

import (
	"sync"

	"github.com/relaywire/proxy/internal/domain"
)

const defaultCapacity = 256

// Repository is a bounded, drop-oldest event bus. Publish never
// blocks: if no subscriber is installed, events are dropped; if one
// is installed and its channel is full, the oldest queued event is
// discarded to make room for the newest.
type Repository struct {
	mu       sync.Mutex
	capacity int
	sub      chan *domain.Exchange
}

var _ domain.Publisher = (*Repository)(nil)

// New returns a Repository with no subscriber installed.
func New() *Repository {
	return &Repository{capacity: defaultCapacity}
}

// Subscribe installs (replacing any previous) a bounded channel and
// returns the receive side.
func (r *Repository) Subscribe() <-chan *domain.Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan *domain.Exchange, r.capacity)
	r.sub = ch
	return ch
}

// Publish delivers e to the current subscriber, if any, dropping the
// oldest queued event on a full channel rather than blocking.
func (r *Repository) Publish(e *domain.Exchange) {
	r.mu.Lock()
	ch := r.sub
	r.mu.Unlock()

	if ch == nil {
		return
	}

	select {
	case ch <- e:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
		default:
		}
	}
}
