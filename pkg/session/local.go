package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/astromechza/codepad/pkg/store"
)

// LocalBackend serves sessions from an in-process registry, without a
// network hop. Change notifications still arrive asynchronously.
type LocalBackend struct {
	Registry *store.Registry
}

func (b LocalBackend) Create(ctx context.Context) (Store, error) {
	s, err := b.Registry.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %w", ErrStoreWrite, err)
	}
	return newLocalStore(s), nil
}

func (b LocalBackend) Attach(ctx context.Context, id string) (Store, error) {
	s, err := b.Registry.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return newLocalStore(s), nil
}

type LocalStore struct {
	session  *store.Session
	handlers handlers
	latest   latest

	stop func()
	done chan struct{}
}

func newLocalStore(s *store.Session) *LocalStore {
	snapshots, stop := s.Watch()
	l := &LocalStore{
		session: s,
		stop:    stop,
		done:    make(chan struct{}),
	}
	// The first snapshot is the state at attach time; only later ones are
	// changes.
	first := <-snapshots
	l.latest.fold(first)
	go func() {
		defer close(l.done)
		lastDispatched := first.Version
		for snap := range snapshots {
			l.latest.fold(snap)
			if snap.Version > lastDispatched {
				lastDispatched = snap.Version
				l.handlers.dispatch(snap)
			}
		}
	}()
	return l
}

func (l *LocalStore) ID() string {
	return l.session.ID()
}

func (l *LocalStore) Get(key string) (string, bool) {
	return l.latest.get(key)
}

func (l *LocalStore) Snapshot() store.Snapshot {
	return l.latest.snapshot()
}

func (l *LocalStore) Set(_ context.Context, key, value string) error {
	snap, err := l.session.Set(key, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	l.latest.fold(snap)
	return nil
}

func (l *LocalStore) OnChange(handler func(store.Snapshot)) *Subscription {
	return l.handlers.add(handler)
}

func (l *LocalStore) Close() error {
	l.stop()
	<-l.done
	return nil
}
