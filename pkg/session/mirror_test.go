package session

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/astromechza/codepad/pkg/config"
	"github.com/astromechza/codepad/pkg/store"
)

// failingStore rejects every write but otherwise behaves like the wrapped
// store.
type failingStore struct {
	Store
}

func (f failingStore) Set(context.Context, string, string) error {
	return fmt.Errorf("%w: connection refused", ErrStoreWrite)
}

type viewRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (v *viewRecorder) update(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.texts = append(v.texts, text)
}

func (v *viewRecorder) last() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.texts) == 0 {
		return ""
	}
	return v.texts[len(v.texts)-1]
}

func mirrorText(m *Mirror) string {
	text, _ := m.Text()
	return text
}

func TestMirrorUnboundRefusesEdits(t *testing.T) {
	m := NewMirror(nil)
	assert.False(t, m.Bound())
	text, bound := m.Text()
	assert.False(t, bound)
	assert.Equal(t, "", text)
	assert.ErrorIs(t, m.Edit(context.Background(), "x"), ErrUnbound)
}

func TestMirrorBindReadsCurrentText(t *testing.T) {
	backend := newLocalBackend()
	h, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, h.Store)
	require.NoError(t, h.Store.Set(context.Background(), store.TextKey, "existing"))

	view := &viewRecorder{}
	m := NewMirror(view.update)
	require.NoError(t, m.Bind(h.Store))
	t.Cleanup(m.Close)

	assert.True(t, m.Bound())
	assert.Equal(t, "existing", mirrorText(m))
	assert.Equal(t, "existing", view.last())
	assert.ErrorIs(t, m.Bind(h.Store), ErrAlreadyBound)
}

func TestMirrorWriteThroughConsistency(t *testing.T) {
	backend := newLocalBackend()
	h, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, h.Store)

	m := NewMirror(nil)
	require.NoError(t, m.Bind(h.Store))
	t.Cleanup(m.Close)

	for _, edit := range []string{"p", "pr", "print", "print(", "print(1)", "", "x = 1\nprint(x)\n"} {
		require.NoError(t, m.Edit(context.Background(), edit))
		assert.Equal(t, edit, mirrorText(m))
		stored, _ := h.Store.Get(store.TextKey)
		assert.Equal(t, edit, stored)
	}
}

func TestMirrorLastWriteWinsAcrossClients(t *testing.T) {
	backend := newRemoteBackend(t)
	ctx := context.Background()

	ha, err := Resolve(ctx, backend, "", nil)
	require.NoError(t, err)
	closeStore(t, ha.Store)
	hb, err := Resolve(ctx, backend, ha.ID, nil)
	require.NoError(t, err)
	closeStore(t, hb.Store)

	a, b := NewMirror(nil), NewMirror(nil)
	require.NoError(t, a.Bind(ha.Store))
	require.NoError(t, b.Bind(hb.Store))
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	require.NoError(t, a.Edit(ctx, "X"))
	require.Eventually(t, func() bool { return mirrorText(b) == "X" }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Edit(ctx, "Y"))
	require.Eventually(t, func() bool { return mirrorText(a) == "Y" }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Y", mirrorText(b))

	// a stays on Y; its own earlier echo must not pull it back to X.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "Y", mirrorText(a))
}

func TestMirrorRollsBackFailedWrite(t *testing.T) {
	backend := newLocalBackend()
	h, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, h.Store)
	require.NoError(t, h.Store.Set(context.Background(), store.TextKey, "committed"))

	view := &viewRecorder{}
	m := NewMirror(view.update)
	require.NoError(t, m.Bind(failingStore{Store: h.Store}))
	t.Cleanup(m.Close)

	err = m.Edit(context.Background(), "never stored")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreWrite))
	assert.Equal(t, "committed", mirrorText(m))
	assert.Equal(t, "committed", view.last())
}

func TestMirrorCloseUnbindsAndStopsUpdates(t *testing.T) {
	backend := newLocalBackend()
	h, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, h.Store)

	view := &viewRecorder{}
	m := NewMirror(view.update)
	require.NoError(t, m.Bind(h.Store))
	m.Close()
	assert.False(t, m.Bound())

	require.NoError(t, h.Store.Set(context.Background(), store.TextKey, "after close"))
	time.Sleep(50 * time.Millisecond)
	assert.NotEqual(t, "after close", view.last())
	assert.ErrorIs(t, m.Edit(context.Background(), "x"), ErrUnbound)

	require.NoError(t, m.Bind(h.Store))
	assert.Equal(t, "after close", mirrorText(m))
	m.Close()
}

func TestMirrorKeystrokeBurstWithDefaultLimits(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	server := httptest.NewServer(store.NewServer(store.NewRegistry(nil), store.ServerOptions{
		RateLimit: rate.Limit(cfg.Store.RateLimit),
		RateBurst: cfg.Store.RateBurst,
	}).Handler())
	t.Cleanup(server.Close)
	backend := &RemoteBackend{BaseURL: server.URL, ReconnectDelay: 10 * time.Millisecond}

	h, err := Resolve(context.Background(), backend, "", nil)
	require.NoError(t, err)
	closeStore(t, h.Store)
	m := NewMirror(nil)
	require.NoError(t, m.Bind(h.Store))
	t.Cleanup(m.Close)

	var typed strings.Builder
	for i := 0; i < 80; i++ {
		typed.WriteByte('x')
		require.NoError(t, m.Edit(context.Background(), typed.String()), "keystroke %d", i)
		require.Equal(t, typed.String(), mirrorText(m))
	}
	stored, _ := h.Store.Get(store.TextKey)
	assert.Len(t, stored, 80)
}
