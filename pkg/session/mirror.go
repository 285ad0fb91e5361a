package session

import (
	"context"
	"errors"
	"sync"

	"github.com/astromechza/codepad/pkg/store"
)

var (
	ErrUnbound      = errors.New("buffer is not bound to a session")
	ErrAlreadyBound = errors.New("buffer is already bound to a session")
)

// Mirror is a client's local copy of a session's text. It starts unbound;
// Bind attaches it to a store and reads the current text. While bound,
// remote changes overwrite the local copy and local edits are written
// straight through to the store.
type Mirror struct {
	onUpdate func(text string)

	mu      sync.Mutex
	store   Store
	sub     *Subscription
	text    string
	version uint64
}

// NewMirror returns an unbound mirror. onUpdate, when set, is called with
// the new text after every change; it must not call back into the Mirror.
func NewMirror(onUpdate func(text string)) *Mirror {
	return &Mirror{onUpdate: onUpdate}
}

func (m *Mirror) Bind(s Store) error {
	m.mu.Lock()
	if m.store != nil {
		m.mu.Unlock()
		return ErrAlreadyBound
	}
	m.store = s
	m.sub = s.OnChange(m.remoteChanged)
	snap := s.Snapshot()
	changed := m.applyLocked(snap)
	text := m.text
	m.mu.Unlock()

	if changed {
		m.notify(text)
	}
	return nil
}

func (m *Mirror) Bound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store != nil
}

// Text returns the mirrored text and whether the mirror is bound.
func (m *Mirror) Text() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, m.store != nil
}

// Edit writes text through to the store. On success the mirror holds the
// value read back from the store. On failure it rolls back to the newest
// value the store has reported and the write error is returned.
func (m *Mirror) Edit(ctx context.Context, text string) error {
	m.mu.Lock()
	s := m.store
	m.mu.Unlock()
	if s == nil {
		return ErrUnbound
	}

	err := s.Set(ctx, store.TextKey, text)

	m.mu.Lock()
	if m.store != s {
		m.mu.Unlock()
		return err
	}
	snap := s.Snapshot()
	if snap.Version >= m.version {
		m.version = snap.Version
		m.text, _ = snap.Get(store.TextKey)
	}
	current := m.text
	m.mu.Unlock()

	m.notify(current)
	return err
}

// Close unsubscribes from the store and returns the mirror to the unbound
// state. The store itself is left open.
func (m *Mirror) Close() {
	m.mu.Lock()
	sub := m.sub
	m.store = nil
	m.sub = nil
	m.text = ""
	m.version = 0
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (m *Mirror) remoteChanged(snap store.Snapshot) {
	m.mu.Lock()
	if m.store == nil {
		m.mu.Unlock()
		return
	}
	changed := m.applyLocked(snap)
	text := m.text
	m.mu.Unlock()

	if changed {
		m.notify(text)
	}
}

// applyLocked takes snap unless the mirror already reflects a newer commit.
func (m *Mirror) applyLocked(snap store.Snapshot) bool {
	if snap.Version < m.version {
		return false
	}
	text, _ := snap.Get(store.TextKey)
	changed := text != m.text || m.version == 0
	m.version = snap.Version
	m.text = text
	return changed
}

func (m *Mirror) notify(text string) {
	if m.onUpdate != nil {
		m.onUpdate(text)
	}
}
