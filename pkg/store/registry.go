package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds every live session in memory and, when a Database is
// configured, persists them. Sessions not in memory are loaded on lookup.
type Registry struct {
	cache    *sync.Map
	database *Database
	newID    func() string
}

func NewRegistry(database *Database) *Registry {
	return &Registry{
		cache:    new(sync.Map),
		database: database,
		newID:    uuid.NewString,
	}
}

// Create makes a new session with an empty text buffer and a fresh id.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	s, err := newSession(r.newID())
	if err != nil {
		return nil, err
	}
	if _, loaded := r.cache.LoadOrStore(s.ID(), s); loaded {
		return nil, fmt.Errorf("session id collision: %s", s.ID())
	}
	if err := r.save(ctx, s); err != nil {
		r.cache.Delete(s.ID())
		return nil, err
	}
	slog.Info("created session", "session", s.ID())
	return s, nil
}

// Lookup resolves an existing session. Concurrent lookups of the same id
// always return the same *Session.
func (r *Registry) Lookup(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	if raw, ok := r.cache.Load(id); ok {
		return raw.(*Session), nil
	}
	if r.database == nil {
		return nil, ErrSessionNotFound
	}
	content, err := r.database.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s, err := loadSession(id, content)
	if err != nil {
		return nil, err
	}
	actual, _ := r.cache.LoadOrStore(id, s)
	return actual.(*Session), nil
}

func (r *Registry) Range(fn func(s *Session) bool) {
	r.cache.Range(func(_, raw any) bool {
		return fn(raw.(*Session))
	})
}

// Backup writes every session that changed since it was last saved and
// returns how many were written.
func (r *Registry) Backup(ctx context.Context) (int, error) {
	if r.database == nil {
		return 0, nil
	}
	var errs []error
	written := 0
	r.Range(func(s *Session) bool {
		content, version, changed := s.pendingSave()
		if !changed {
			return true
		}
		if err := r.database.Save(ctx, s.ID(), content); err != nil {
			errs = append(errs, err)
			return true
		}
		s.markSaved(version)
		written++
		slog.Info("backed up", "session", s.ID(), "version", version)
		return true
	})
	return written, errors.Join(errs...)
}

// RunBackups calls Backup on every tick until ctx is done.
func (r *Registry) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := r.Backup(ctx); err != nil {
				slog.Error("failed to backup sessions in database", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) save(ctx context.Context, s *Session) error {
	if r.database == nil {
		return nil
	}
	content, version, changed := s.pendingSave()
	if !changed {
		return nil
	}
	if err := r.database.Save(ctx, s.ID(), content); err != nil {
		return err
	}
	s.markSaved(version)
	return nil
}
