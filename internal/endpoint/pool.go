package endpoint

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// MaxAttempts caps the number of failed full passes the pool tracks.
const MaxAttempts = 3

// Pool is an ordered, replaceable list of endpoints with a round-robin
// cursor. The list itself is never mutated in place; Replace swaps it whole.
type Pool struct {
	mu        sync.Mutex
	endpoints []Endpoint
	index     int

	// failures counts connection attempts that failed since the last
	// healthy round-trip. Attempts derives full passes from it.
	failures int

	// replaced is set by Replace so the next Advance starts at index 0
	// instead of skipping past it.
	replaced bool

	// epoch increments on every effective Replace so a connection set up
	// against an older list can tell it was superseded.
	epoch uint64
}

// NewPool creates a pool starting at a pseudo-random index so that many
// clients sharing one server list spread their load.
func NewPool(endpoints []Endpoint) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyPool
	}
	return NewPoolAt(endpoints, rand.IntN(len(endpoints)))
}

// NewPoolAt creates a pool whose cursor starts at index (modulo size).
func NewPoolAt(endpoints []Endpoint, index int) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyPool
	}
	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	if index < 0 {
		index = -index
	}
	return &Pool{
		endpoints: slices.Clone(endpoints),
		index:     index % len(endpoints),
	}, nil
}

// Current returns the endpoint the next connection attempt should use.
func (p *Pool) Current() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.index]
}

// Index returns the cursor position.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Endpoints returns a copy of the current list.
func (p *Pool) Endpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints)
}

// Advance moves the cursor to the next endpoint and returns it. Right after
// a Replace the cursor stays on index 0 once.
func (p *Pool) Advance() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replaced {
		p.replaced = false
		return p.endpoints[p.index]
	}
	p.index = (p.index + 1) % len(p.endpoints)
	return p.endpoints[p.index]
}

// Replace swaps in a new endpoint list. It returns false and leaves the pool
// untouched when the list equals the current one.
func (p *Pool) Replace(endpoints []Endpoint) (bool, error) {
	if len(endpoints) == 0 {
		return false, ErrEmptyPool
	}
	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			return false, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if Equal(p.endpoints, endpoints) {
		return false, nil
	}
	p.endpoints = slices.Clone(endpoints)
	p.index = 0
	p.failures = 0
	p.replaced = true
	p.epoch++
	return true, nil
}

// Epoch returns the replace generation of the list.
func (p *Pool) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// CurrentAt returns the endpoint the next attempt should use together with
// the epoch it was read under.
func (p *Pool) CurrentAt() (Endpoint, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.index], p.epoch
}

// RecordFailure counts one failed connection attempt and returns the
// resulting number of failed full passes.
func (p *Pool) RecordFailure() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures < MaxAttempts*len(p.endpoints) {
		p.failures++
	}
	return p.attemptsLocked()
}

// MarkHealthy resets the failure history after a successful round-trip.
func (p *Pool) MarkHealthy() {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}

// Failures returns the consecutive failed connection attempts.
func (p *Pool) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Attempts returns how many full passes over the pool failed without a
// healthy round-trip, capped at MaxAttempts.
func (p *Pool) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attemptsLocked()
}

func (p *Pool) attemptsLocked() int {
	n := p.failures / len(p.endpoints)
	if n > MaxAttempts {
		n = MaxAttempts
	}
	return n
}
