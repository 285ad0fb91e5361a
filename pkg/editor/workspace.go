package editor

import (
	"context"
	"fmt"
	"sync"

	"github.com/astromechza/codepad/pkg/judge"
	"github.com/astromechza/codepad/pkg/session"
)

// Workspace is one client's editing context: a resolved session, the local
// mirror of its text and the compile runner. Language and stdin are local to
// the client and never shared.
type Workspace struct {
	handle *session.Handle
	mirror *session.Mirror
	runner *judge.Runner

	mu       sync.Mutex
	language judge.Language
	stdin    string
}

type Options struct {
	Backend   session.Backend
	Locator   string
	Publisher session.Publisher
	Runner    *judge.Runner
	// OnText is called with the buffer text after every local or remote
	// change.
	OnText func(text string)
}

// Open resolves the session and binds a fresh mirror to it. Nothing can be
// read or written before Open returns.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	handle, err := session.Resolve(ctx, opts.Backend, opts.Locator, opts.Publisher)
	if err != nil {
		return nil, err
	}
	mirror := session.NewMirror(opts.OnText)
	if err := mirror.Bind(handle.Store); err != nil {
		_ = handle.Store.Close()
		return nil, fmt.Errorf("failed to bind buffer: %w", err)
	}
	return &Workspace{
		handle:   handle,
		mirror:   mirror,
		runner:   opts.Runner,
		language: judge.DefaultLanguage(),
	}, nil
}

func (w *Workspace) SessionID() string {
	return w.handle.ID
}

func (w *Workspace) Text() string {
	text, _ := w.mirror.Text()
	return text
}

// Type replaces the buffer with text, writing it through to the session.
func (w *Workspace) Type(ctx context.Context, text string) error {
	return w.mirror.Edit(ctx, text)
}

func (w *Workspace) SetLanguage(l judge.Language) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.language = l
}

func (w *Workspace) Language() judge.Language {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.language
}

func (w *Workspace) SetStdin(stdin string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stdin = stdin
}

func (w *Workspace) Processing() bool {
	return w.runner != nil && w.runner.Processing()
}

// Compile runs whatever the buffer holds right now. Later edits do not
// affect the submitted job.
func (w *Workspace) Compile(ctx context.Context) (*judge.Result, error) {
	if w.runner == nil {
		return nil, fmt.Errorf("no execution service configured")
	}
	w.mu.Lock()
	lang, stdin := w.language, w.stdin
	w.mu.Unlock()
	return w.runner.Compile(ctx, w.Text(), stdin, lang)
}

// Close unbinds the mirror before closing the session store, so no change
// handler outlives the workspace.
func (w *Workspace) Close() error {
	w.mirror.Close()
	return w.handle.Store.Close()
}
