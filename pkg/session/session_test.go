package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/codepad/pkg/store"
)

type countingBackend struct {
	Backend
	mu      sync.Mutex
	creates int
	attach  []string
}

func (c *countingBackend) Create(ctx context.Context) (Store, error) {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.Backend.Create(ctx)
}

func (c *countingBackend) Attach(ctx context.Context, id string) (Store, error) {
	c.mu.Lock()
	c.attach = append(c.attach, id)
	c.mu.Unlock()
	return c.Backend.Attach(ctx, id)
}

type recordingPublisher struct {
	ids []string
}

func (p *recordingPublisher) Publish(id string) error {
	p.ids = append(p.ids, id)
	return nil
}

func newLocalBackend() *countingBackend {
	return &countingBackend{Backend: LocalBackend{Registry: store.NewRegistry(nil)}}
}

func newRemoteBackend(t *testing.T) *RemoteBackend {
	t.Helper()
	server := httptest.NewServer(store.NewServer(store.NewRegistry(nil), store.ServerOptions{}).Handler())
	t.Cleanup(server.Close)
	return &RemoteBackend{BaseURL: server.URL, HTTPClient: server.Client(), ReconnectDelay: 10 * time.Millisecond}
}

func closeStore(t *testing.T, s Store) {
	t.Cleanup(func() { _ = s.Close() })
}

func TestResolveCreatesAndPublishesOnce(t *testing.T) {
	backend := newLocalBackend()
	pub := &recordingPublisher{}

	h, err := Resolve(context.Background(), backend, "", pub)
	require.NoError(t, err)
	closeStore(t, h.Store)

	assert.Equal(t, 1, backend.creates)
	assert.Empty(t, backend.attach)
	require.Len(t, pub.ids, 1)
	assert.Equal(t, h.ID, pub.ids[0])
	text, ok := h.Store.Get(store.TextKey)
	assert.True(t, ok)
	assert.Equal(t, "", text)
}

func TestResolveAttachesWithoutCreating(t *testing.T) {
	backend := newLocalBackend()
	first, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, first.Store)

	pub := &recordingPublisher{}
	second, err := Resolve(context.Background(), backend, first.ID, pub)
	require.NoError(t, err)
	closeStore(t, second.Store)

	assert.Equal(t, 1, backend.creates)
	assert.Equal(t, []string{first.ID}, backend.attach)
	assert.Empty(t, pub.ids)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveUnknownLocatorFails(t *testing.T) {
	backend := newLocalBackend()
	pub := &recordingPublisher{}

	_, err := Resolve(context.Background(), backend, "does-not-exist", pub)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, backend.creates)
	assert.Empty(t, pub.ids)
}

func TestResolvePublishFailureClosesStore(t *testing.T) {
	backend := newLocalBackend()
	_, err := Resolve(context.Background(), backend, "", PublisherFunc(func(string) error {
		return errors.New("no address bar")
	}))
	assert.Error(t, err)
}

func TestShareURLAndParseLocator(t *testing.T) {
	link := ShareURL("https://codepad.example.com/", "abc123")
	assert.Equal(t, "https://codepad.example.com/#abc123", link)
	assert.Equal(t, "abc123", ParseLocator(link))
	assert.Equal(t, "abc123", ParseLocator(" abc123 "))
	assert.Equal(t, "#abc123", ShareURL("", "abc123"))

	var out strings.Builder
	require.NoError(t, FragmentPublisher{BaseURL: "http://localhost:3000", Out: &out}.Publish("abc123"))
	assert.Equal(t, "http://localhost:3000#abc123\n", out.String())
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	backend := newLocalBackend()
	h, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, h.Store)

	got := make(chan store.Snapshot, 10)
	sub := h.Store.OnChange(func(s store.Snapshot) { got <- s })

	require.NoError(t, h.Store.Set(context.Background(), store.TextKey, "one"))
	select {
	case s := <-got:
		assert.Equal(t, "one", s.Values[store.TextKey])
	case <-time.After(time.Second):
		t.Fatal("originator did not observe its own write")
	}
	assert.Empty(t, got)

	local := h.Store.(*LocalStore)
	assert.Equal(t, 1, local.handlers.count())
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, local.handlers.count())
	require.NoError(t, h.Store.Set(context.Background(), store.TextKey, "two"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got)
}

func TestSubscriptionCloseWaitsForRunningHandler(t *testing.T) {
	var h handlers
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	sub := h.add(func(store.Snapshot) {
		calls++
		if calls == 1 {
			close(entered)
			<-release
		}
	})

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		h.dispatch(store.Snapshot{Version: 1})
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		sub.Close()
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-closed
	<-dispatched

	h.dispatch(store.Snapshot{Version: 2})
	assert.Equal(t, 1, calls)
}

func TestRemoteAttachUnknownSession(t *testing.T) {
	backend := newRemoteBackend(t)
	_, err := backend.Attach(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRemoteIdempotentAttachSharesWrites(t *testing.T) {
	backend := newRemoteBackend(t)
	ctx := context.Background()

	creator, err := Resolve(ctx, backend, "", nil)
	require.NoError(t, err)
	closeStore(t, creator.Store)

	a, err := backend.Attach(ctx, creator.ID)
	require.NoError(t, err)
	closeStore(t, a)
	b, err := backend.Attach(ctx, creator.ID)
	require.NoError(t, err)
	closeStore(t, b)
	assert.Equal(t, a.ID(), b.ID())

	require.NoError(t, a.Set(ctx, store.TextKey, "from a"))
	require.Eventually(t, func() bool {
		v, _ := b.Get(store.TextKey)
		return v == "from a"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Set(ctx, store.TextKey, "from b"))
	require.Eventually(t, func() bool {
		v, _ := a.Get(store.TextKey)
		return v == "from b"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteStoreWriteFailure(t *testing.T) {
	registry := store.NewRegistry(nil)
	server := httptest.NewServer(store.NewServer(registry, store.ServerOptions{}).Handler())
	backend := &RemoteBackend{BaseURL: server.URL, ReconnectDelay: 10 * time.Millisecond}

	s, err := backend.Create(context.Background())
	require.NoError(t, err)
	server.Close()

	err = s.Set(context.Background(), store.TextKey, "lost")
	assert.ErrorIs(t, err, ErrStoreWrite)
	v, _ := s.Get(store.TextKey)
	assert.Equal(t, "", v)
	require.NoError(t, s.Close())
}
