package store

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/astromechza/codepad/pkg/viz"
)

const maxValueBytes = 1 << 20

type ServerOptions struct {
	// RateLimit is the sustained request rate allowed per client address on
	// the session lifecycle routes. Key writes and watch streams carry
	// keystroke traffic and are never limited. Zero disables limiting.
	RateLimit    rate.Limit
	RateBurst    int
	PingInterval time.Duration
}

type Server struct {
	registry     *Registry
	limiters     *clientLimiters
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

func NewServer(registry *Registry, opts ServerOptions) *Server {
	s := &Server{
		registry:     registry,
		pingInterval: opts.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 30 * time.Second
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiters = newClientLimiters(opts.RateLimit, burst)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.Methods(http.MethodPut).Path("/sessions/{session}/keys/{key}").HandlerFunc(s.setKey)
	r.Methods(http.MethodGet).Path("/sessions/{session}/watch").HandlerFunc(s.watchSession)

	limited := r.NewRoute().Subrouter()
	limited.Use(s.limitRequests)
	limited.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	limited.Methods(http.MethodPost).Path("/sessions").HandlerFunc(s.createSession)
	limited.Methods(http.MethodGet).Path("/sessions/{session}").HandlerFunc(s.getSession)
	limited.Methods(http.MethodGet).Path("/sessions/{session}/document").HandlerFunc(s.getDocument)
	limited.Methods(http.MethodGet).Path("/sessions/{session}/history.svg").HandlerFunc(s.getHistory)
	return r
}

func logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) limitRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if s.limiters != nil && !s.limiters.allow(clientKey(request), time.Now()) {
			writer.WriteHeader(http.StatusTooManyRequests)
			return
		}
		handler.ServeHTTP(writer, request)
	})
}

func clientKey(request *http.Request) string {
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}

// limiterIdle is how long a client's limiter is kept after its last request.
const limiterIdle = 3 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per client address.
type clientLimiters struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastPrune time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{limit: limit, burst: burst, clients: make(map[string]*clientLimiter)}
}

func (c *clientLimiters) allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastPrune) > limiterIdle {
		for k, cl := range c.clients {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(c.clients, k)
			}
		}
		c.lastPrune = now
	}
	cl, ok := c.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func (c *clientLimiters) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

func (s *Server) lookup(writer http.ResponseWriter, request *http.Request) (*Session, bool) {
	sess, err := s.registry.Lookup(request.Context(), mux.Vars(request)["session"])
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writer.WriteHeader(http.StatusNotFound)
			return nil, false
		}
		slog.Error("failed to lookup session", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

func writeSnapshot(writer http.ResponseWriter, status int, snap Snapshot) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(snap); err != nil {
		slog.Error("failed to write", "err", err)
	}
}

func (s *Server) createSession(writer http.ResponseWriter, request *http.Request) {
	sess, err := s.registry.Create(request.Context())
	if err != nil {
		slog.Error("failed to create session", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeSnapshot(writer, http.StatusCreated, sess.Snapshot())
}

func (s *Server) getSession(writer http.ResponseWriter, request *http.Request) {
	sess, ok := s.lookup(writer, request)
	if !ok {
		return
	}
	writeSnapshot(writer, http.StatusOK, sess.Snapshot())
}

func (s *Server) setKey(writer http.ResponseWriter, request *http.Request) {
	sess, ok := s.lookup(writer, request)
	if !ok {
		return
	}
	var inputs struct {
		Value *string `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(request.Body, maxValueBytes)).Decode(&inputs); err != nil || inputs.Value == nil {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	snap, err := sess.Set(mux.Vars(request)["key"], *inputs.Value)
	if err != nil {
		slog.Error("failed to set key", "session", sess.ID(), "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeSnapshot(writer, http.StatusOK, snap)
}

func (s *Server) watchSession(writer http.ResponseWriter, request *http.Request) {
	sess, ok := s.lookup(writer, request)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	snapshots, cancel := sess.Watch()
	defer cancel()
	if err := streamSnapshots(request.Context(), conn, snapshots, s.pingInterval); err != nil {
		slog.Error("watch ended", "session", sess.ID(), "err", err)
	}
}

func (s *Server) getDocument(writer http.ResponseWriter, request *http.Request) {
	sess, ok := s.lookup(writer, request)
	if !ok {
		return
	}
	fork, err := sess.Fork()
	if err != nil {
		slog.Error("failed to fork", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(fork.Save()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getHistory(writer http.ResponseWriter, request *http.Request) {
	sess, ok := s.lookup(writer, request)
	if !ok {
		return
	}
	fork, err := sess.Fork()
	if err != nil {
		slog.Error("failed to fork", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	svg, err := viz.RenderHistory(fork, TextKey)
	if err != nil {
		slog.Error("failed to render", "session", sess.ID(), "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "image/svg+xml")
	if _, err := writer.Write(svg); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
