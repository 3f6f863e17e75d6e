// Package realtime fans out "records changed" signals to per-user watchers.
package realtime

import (
	"sync"

	"github.com/gofrs/uuid/v5"
)

// Hub delivers change notifications keyed by user id. Signals are coalesced:
// a watcher that has not consumed the previous signal receives no second one,
// since it reloads the full snapshot anyway.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uuid.UUID]map[uint64]chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[uint64]chan struct{})}
}

// Subscribe registers a watcher for userID. The returned cancel func is idempotent
// and closes the channel.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]chan struct{})
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			close(ch)
		})
	}
}

// Publish signals every watcher of userID without blocking.
func (h *Hub) Publish(userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watchers reports the number of live watchers for userID.
func (h *Hub) Watchers(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
