package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
)

// TextKey holds the source buffer of a session.
const TextKey = "text"

var ErrSessionNotFound = errors.New("session not found")

// Snapshot is the full key/value state of a session after a commit.
type Snapshot struct {
	Session string            `json:"session"`
	Version uint64            `json:"version"`
	Values  map[string]string `json:"values"`
}

func (s Snapshot) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Session is a shared key/value document. Writes are serialized, so the
// commit order is the order subscribers observe and the last commit wins.
type Session struct {
	id string

	mu           sync.Mutex
	doc          *automerge.Doc
	version      uint64
	savedVersion uint64
	values       map[string]string
	watchers     map[uint64]chan Snapshot
	nextWatcher  uint64
}

func newSession(id string) (*Session, error) {
	doc := automerge.New()
	if err := doc.Path(TextKey).Set(""); err != nil {
		return nil, fmt.Errorf("failed to seed doc: %w", err)
	}
	if _, err := doc.Commit("create session", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return nil, fmt.Errorf("failed to commit doc: %w", err)
	}
	return sessionFromDoc(id, doc)
}

func loadSession(id string, raw []byte) (*Session, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	s, err := sessionFromDoc(id, doc)
	if err != nil {
		return nil, err
	}
	s.savedVersion = s.version
	return s, nil
}

func sessionFromDoc(id string, doc *automerge.Doc) (*Session, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	values, err := readValues(doc)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:       id,
		doc:      doc,
		version:  uint64(len(changes)),
		values:   values,
		watchers: make(map[uint64]chan Snapshot),
	}, nil
}

func readValues(doc *automerge.Doc) (map[string]string, error) {
	root := doc.RootMap()
	keys, err := root.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := root.Get(k)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		if v.Kind() == automerge.KindStr {
			values[k] = v.Str()
		}
	}
	return values, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	values := make(map[string]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return Snapshot{Session: s.id, Version: s.version, Values: values}
}

// Set commits a single key and notifies every watcher with the resulting
// snapshot before returning it.
func (s *Session) Set(key, value string) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, errors.New("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.Path(key).Set(value); err != nil {
		return Snapshot{}, fmt.Errorf("failed to set %s: %w", key, err)
	}
	now := time.Now()
	if _, err := s.doc.Commit("set "+key, automerge.CommitOptions{AllowEmpty: true, Time: &now}); err != nil {
		return Snapshot{}, fmt.Errorf("failed to commit %s: %w", key, err)
	}
	s.version++
	s.values[key] = value

	snap := s.snapshotLocked()
	for _, w := range s.watchers {
		offer(w, snap)
	}
	return snap, nil
}

// offer hands snap to a watcher without blocking. A watcher that has not
// consumed its previous snapshot gets it replaced by the newer one.
func offer(w chan Snapshot, snap Snapshot) {
	select {
	case w <- snap:
		return
	default:
	}
	select {
	case <-w:
	default:
	}
	w <- snap
}

// Watch registers a watcher that receives the current snapshot immediately
// and then later commits in order. A watcher that falls behind gets only the
// newest snapshot. The returned func unregisters it and closes
// the channel.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatcher
	s.nextWatcher++
	w := make(chan Snapshot, 1)
	w <- s.snapshotLocked()
	s.watchers[id] = w

	var once sync.Once
	return w, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			close(w)
		})
	}
}

func (s *Session) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// Fork returns an independent copy of the underlying document.
func (s *Session) Fork() (*automerge.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Fork()
}

// pendingSave returns the encoded document if it changed since the last
// successful save.
func (s *Session) pendingSave() ([]byte, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == s.savedVersion {
		return nil, 0, false
	}
	return s.doc.Save(), s.version, true
}

func (s *Session) markSaved(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.savedVersion {
		s.savedVersion = version
	}
}
