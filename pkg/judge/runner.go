package judge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

var (
	ErrBusy        = errors.New("a compile is already in progress")
	ErrEmptySource = errors.New("source code is empty")
)

// Executor is the part of Client the Runner needs.
type Executor interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	PollStatus(ctx context.Context, token string) (*Result, error)
}

// Reporter receives the outcome of every compile attempt that got past the
// processing guard.
type Reporter interface {
	Report(result *Result, err error)
}

// Runner turns one compile action into a submit and a poll chain. Only one
// chain runs at a time; the processing flag guards it.
type Runner struct {
	// Logger receives submit and poll failures. It defaults to slog.Default.
	Logger *slog.Logger

	executor   Executor
	reporter   Reporter
	processing atomic.Bool
}

func NewRunner(executor Executor, reporter Reporter) *Runner {
	return &Runner{executor: executor, reporter: reporter}
}

func (r *Runner) Processing() bool {
	return r.processing.Load()
}

// Compile submits a snapshot of source and waits for its terminal result.
// The processing flag is cleared on every exit path, before the outcome is
// reported.
func (r *Runner) Compile(ctx context.Context, source, stdin string, lang Language) (*Result, error) {
	if source == "" {
		r.report(nil, ErrEmptySource)
		return nil, ErrEmptySource
	}
	if !r.processing.CompareAndSwap(false, true) {
		r.report(nil, ErrBusy)
		return nil, ErrBusy
	}
	result, err := r.run(ctx, source, stdin, lang)
	r.processing.Store(false)
	r.report(result, err)
	return result, err
}

func (r *Runner) run(ctx context.Context, source, stdin string, lang Language) (*Result, error) {
	token, err := r.executor.Submit(ctx, Submission{SourceCode: source, Stdin: stdin, LanguageID: lang.ID})
	if err != nil {
		r.logger().Error("failed to submit", "language", lang.Key, "err", err)
		return nil, err
	}
	result, err := r.executor.PollStatus(ctx, token)
	if err != nil {
		r.logger().Error("failed to poll", "token", token, "err", err)
		return nil, err
	}
	return result, nil
}

func (r *Runner) report(result *Result, err error) {
	if r.reporter != nil {
		r.reporter.Report(result, err)
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
