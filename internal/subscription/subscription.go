package subscription

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/revittco/electrumlink/internal/jsonrpc"
)

// Subscription is a standing request. Callback receives the initial reply
// and every later push for Method. It runs on the read loop and must not
// block.
type Subscription struct {
	Method   string
	Params   []any
	Callback func(jsonrpc.Response)
}

// Validate checks that the subscription can be sent and dispatched.
func (s Subscription) Validate() error {
	if s.Method == "" {
		return errors.New("subscription method is required")
	}
	if s.Callback == nil {
		return errors.New("subscription callback is required")
	}
	return nil
}

// Manager holds at most one subscription per method.
type Manager struct {
	mu   sync.Mutex
	subs map[string]Subscription
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{subs: make(map[string]Subscription)}
}

// Put stores s, silently replacing an earlier subscription for the same
// method. It reports whether one was replaced.
func (m *Manager) Put(s Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, replaced := m.subs[s.Method]
	m.subs[s.Method] = s
	return replaced
}

// Get returns the subscription for method.
func (m *Manager) Get(method string) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[method]
	return s, ok
}

// Remove drops the subscription for method.
func (m *Manager) Remove(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[method]
	delete(m.subs, method)
	return ok
}

// All returns a snapshot ordered by method for replay.
func (m *Manager) All() []Subscription {
	m.mu.Lock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Subscription) int {
		return strings.Compare(a.Method, b.Method)
	})
	return out
}

// Len returns the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
