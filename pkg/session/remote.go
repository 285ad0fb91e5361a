package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/codepad/pkg/store"
)

const defaultReconnectDelay = time.Second

// RemoteBackend creates and attaches to sessions hosted by a codepad store
// server.
type RemoteBackend struct {
	BaseURL        string
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

func (b *RemoteBackend) Create(ctx context.Context) (Store, error) {
	u, err := b.url("sessions")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	snap, err := b.doSnapshot(req, http.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create session: %w", ErrStoreWrite, err)
	}
	return b.open(ctx, snap)
}

func (b *RemoteBackend) Attach(ctx context.Context, id string) (Store, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	u, err := b.url("sessions", id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	snap, err := b.doSnapshot(req, http.StatusOK)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return b.open(ctx, snap)
}

func (b *RemoteBackend) open(ctx context.Context, snap store.Snapshot) (*RemoteStore, error) {
	conn, err := b.dial(ctx, snap.Session)
	if err != nil {
		return nil, err
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s := &RemoteStore{
		backend: b,
		id:      snap.Session,
		conn:    conn,
		ctx:     watchCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.latest.fold(snap)
	go s.watch(conn, snap.Version)
	return s, nil
}

func (b *RemoteBackend) put(ctx context.Context, id, key, value string) (store.Snapshot, error) {
	u, err := b.url("sessions", id, "keys", key)
	if err != nil {
		return store.Snapshot{}, err
	}
	body, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(body))
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.doSnapshot(req, http.StatusOK)
}

func (b *RemoteBackend) doSnapshot(req *http.Request, expected int) (store.Snapshot, error) {
	resp, err := b.httpClient().Do(req)
	if err != nil {
		return store.Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case expected:
	case http.StatusNotFound:
		return store.Snapshot{}, ErrSessionNotFound
	default:
		return store.Snapshot{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var snap store.Snapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Values == nil {
		snap.Values = map[string]string{}
	}
	return snap, nil
}

func (b *RemoteBackend) dial(ctx context.Context, id string) (*websocket.Conn, error) {
	u, err := b.url("sessions", id, "watch")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to dial: %w", ErrStoreRead, err)
	}
	return conn, nil
}

func (b *RemoteBackend) url(elem ...string) (*url.URL, error) {
	if b.BaseURL == "" {
		return nil, errors.New("store base url is required")
	}
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store base url: %w", err)
	}
	for i := range elem {
		elem[i] = url.PathEscape(elem[i])
	}
	return u.JoinPath(elem...), nil
}

func (b *RemoteBackend) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

func (b *RemoteBackend) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// RemoteStore mirrors one server session. A background goroutine keeps a
// websocket open to the server, reconnecting after failures, and dispatches
// every received snapshot to the registered handlers.
type RemoteStore struct {
	backend  *RemoteBackend
	id       string
	handlers handlers
	latest   latest

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *RemoteStore) ID() string {
	return s.id
}

func (s *RemoteStore) Get(key string) (string, bool) {
	return s.latest.get(key)
}

func (s *RemoteStore) Snapshot() store.Snapshot {
	return s.latest.snapshot()
}

func (s *RemoteStore) Set(ctx context.Context, key, value string) error {
	snap, err := s.backend.put(ctx, s.id, key, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	s.latest.fold(snap)
	return nil
}

func (s *RemoteStore) OnChange(handler func(store.Snapshot)) *Subscription {
	return s.handlers.add(handler)
}

// Close stops the watch stream. Handlers are not invoked afterwards.
func (s *RemoteStore) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *RemoteStore) watch(conn *websocket.Conn, lastDispatched uint64) {
	defer close(s.done)
	for {
		err := s.readSnapshots(conn, &lastDispatched)
		if s.ctx.Err() != nil {
			return
		}
		s.backend.logger().Warn("lost session watch", "session", s.id, "err", err)

		if conn = s.reconnect(); conn == nil {
			return
		}
	}
}

func (s *RemoteStore) readSnapshots(conn *websocket.Conn, lastDispatched *uint64) error {
	defer conn.Close()
	for {
		var snap store.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			return err
		}
		s.latest.fold(snap)
		if snap.Version > *lastDispatched {
			*lastDispatched = snap.Version
			if s.ctx.Err() != nil {
				return s.ctx.Err()
			}
			s.handlers.dispatch(snap)
		}
	}
}

func (s *RemoteStore) reconnect() *websocket.Conn {
	delay := s.backend.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	t := time.NewTicker(delay)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			conn, err := s.backend.dial(s.ctx, s.id)
			if err != nil {
				s.backend.logger().Error("failed to reconnect", "session", s.id, "err", err)
				continue
			}
			s.mu.Lock()
			if s.ctx.Err() != nil {
				s.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			s.conn = conn
			s.mu.Unlock()
			s.backend.logger().Info("reconnected session watch", "session", s.id)
			return conn
		case <-s.ctx.Done():
			return nil
		}
	}
}
