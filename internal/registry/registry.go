package registry

import (
	"sync"

	"github.com/revittco/electrumlink/internal/jsonrpc"
)

// Key identifies a pending entry. Batches live in their own namespace so a
// compound id such as "1,2" never collides with a single request echoing
// that string.
type Key struct {
	Batch bool
	ID    string
}

// Single keys a request by its id.
func Single(id string) Key {
	return Key{ID: id}
}

// BatchOf keys a batch by the compound id of its member ids.
func BatchOf(ids []string) Key {
	return Key{Batch: true, ID: jsonrpc.CompoundID(ids)}
}

// KeyFor derives the key an inbound message resolves.
func KeyFor(msg jsonrpc.Message) Key {
	if msg.IsBatch() {
		return BatchOf(msg.Batch.IDs())
	}
	return Single(msg.Response.ID)
}

// Callback receives the matching message exactly once.
type Callback func(jsonrpc.Message)

// Registry maps correlation keys to one-shot callbacks.
type Registry struct {
	mu      sync.Mutex
	pending map[Key]Callback
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pending: make(map[Key]Callback)}
}

// Register stores cb under key, replacing any earlier entry.
func (r *Registry) Register(key Key, cb Callback) {
	r.mu.Lock()
	r.pending[key] = cb
	r.mu.Unlock()
}

// Resolve removes the entry for key and invokes it with msg outside the
// lock. It returns false when nothing was waiting.
func (r *Registry) Resolve(key Key, msg jsonrpc.Message) bool {
	r.mu.Lock()
	cb, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cb(msg)
	return true
}

// Forget drops the entry for key without invoking it.
func (r *Registry) Forget(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	delete(r.pending, key)
	return ok
}

// Clear abandons every pending entry and returns how many were dropped.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.pending)
	clear(r.pending)
	return n
}

// Len returns the number of pending entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
