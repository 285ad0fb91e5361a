package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/astromechza/codepad/pkg/store"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoreWrite      = errors.New("failed to write to session store")
	ErrStoreRead       = errors.New("failed to read from session store")
)

// Store is a client's handle on one shared session.
//
// Get and Snapshot read the newest state this client has seen. Set commits a
// single key at the server; it is not retried. Handlers registered with
// OnChange see snapshots in commit order, including the ones caused by this
// client's own writes. A commit may be skipped only when a newer full
// snapshot supersedes it.
type Store interface {
	ID() string
	Get(key string) (string, bool)
	Snapshot() store.Snapshot
	Set(ctx context.Context, key, value string) error
	OnChange(handler func(store.Snapshot)) *Subscription
	Close() error
}

// Subscription is a registered change handler. Close it on teardown; Close
// waits for a running invocation of the handler, and once it returns no new
// invocation starts. A handler must not close its own subscription.
type Subscription struct {
	mu     sync.RWMutex
	closed bool
	once   sync.Once
	remove func()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.remove != nil {
			s.remove()
		}
	})
}

// deliver runs handler unless the subscription is closed, holding off Close
// until it returns.
func (s *Subscription) deliver(handler func(store.Snapshot), snap store.Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.closed {
		handler(snap)
	}
}

type registration struct {
	sub     *Subscription
	handler func(store.Snapshot)
}

// handlers is the observer list shared by Store implementations.
type handlers struct {
	mu   sync.Mutex
	next uint64
	regs map[uint64]registration
}

func (h *handlers) add(handler func(store.Snapshot)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.regs == nil {
		h.regs = make(map[uint64]registration)
	}
	id := h.next
	h.next++
	sub := &Subscription{}
	sub.remove = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.regs, id)
	}
	h.regs[id] = registration{sub: sub, handler: handler}
	return sub
}

func (h *handlers) dispatch(snap store.Snapshot) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.regs))
	for id := range h.regs {
		ids = append(ids, id)
	}
	regs := make([]registration, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		regs = append(regs, h.regs[id])
	}
	h.mu.Unlock()

	for _, r := range regs {
		r.sub.deliver(r.handler, snap)
	}
}

func (h *handlers) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.regs)
}

// latest holds the newest snapshot a client has seen, by version.
type latest struct {
	mu      sync.Mutex
	current store.Snapshot
}

func (l *latest) get(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Get(key)
}

func (l *latest) snapshot() store.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	values := make(map[string]string, len(l.current.Values))
	for k, v := range l.current.Values {
		values[k] = v
	}
	return store.Snapshot{Session: l.current.Session, Version: l.current.Version, Values: values}
}

func (l *latest) fold(snap store.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if snap.Values == nil {
		snap.Values = map[string]string{}
	}
	if snap.Version > l.current.Version || l.current.Session == "" {
		l.current = snap
	}
}
