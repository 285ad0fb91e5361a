package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
)

// Backend creates sessions or attaches to existing ones.
type Backend interface {
	Create(ctx context.Context) (Store, error)
	Attach(ctx context.Context, id string) (Store, error)
}

// Publisher makes a newly created session id shareable.
type Publisher interface {
	Publish(id string) error
}

type PublisherFunc func(id string) error

func (f PublisherFunc) Publish(id string) error {
	return f(id)
}

// Handle is a resolved session. It is passed explicitly to everything that
// reads or writes the shared buffer.
type Handle struct {
	ID    string
	Store Store
}

// Resolve attaches to the session named by locator, or creates and publishes
// a new one when locator is empty. An unknown locator is an error; it never
// falls back to a new session.
func Resolve(ctx context.Context, backend Backend, locator string, publisher Publisher) (*Handle, error) {
	if locator != "" {
		s, err := backend.Attach(ctx, locator)
		if err != nil {
			return nil, err
		}
		slog.Info("attached to session", "session", s.ID())
		return &Handle{ID: s.ID(), Store: s}, nil
	}

	s, err := backend.Create(ctx)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		if err := publisher.Publish(s.ID()); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to publish session id: %w", err)
		}
	}
	slog.Info("created session", "session", s.ID())
	return &Handle{ID: s.ID(), Store: s}, nil
}

// FragmentPublisher writes a share link carrying the id in the URL fragment.
type FragmentPublisher struct {
	BaseURL string
	Out     io.Writer
}

func (p FragmentPublisher) Publish(id string) error {
	_, err := fmt.Fprintln(p.Out, ShareURL(p.BaseURL, id))
	return err
}

func ShareURL(base, id string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return "#" + id
	}
	u.Fragment = id
	return u.String()
}

// ParseLocator accepts either a bare session id or a share link and returns
// the session id.
func ParseLocator(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "#"); i >= 0 {
		return s[i+1:]
	}
	return s
}
