package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/codepad/pkg/judge"
	"github.com/astromechza/codepad/pkg/session"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

const (
	QuotaMessage   = "Quota of 100 requests exceeded for the Day! Please read the blog on freeCodeCamp to learn how to setup your own RAPID API Judge0!"
	GenericMessage = "Something went wrong! Please try again."
	SuccessMessage = "Compiled Successfully!"
	BusyMessage    = "A compile is already in progress."
	EmptyMessage   = "Nothing to compile."
	MissingMessage = "This session does not exist. Check the shared link."

	ShortDuration = time.Second
	LongDuration  = 10 * time.Second
)

// Notification is a transient, user visible message.
type Notification struct {
	Level    Level
	Message  string
	Duration time.Duration
}

type Notifier interface {
	Notify(n Notification)
}

// FromError maps a terminal failure of the current action to the message the
// user sees. The quota case gets a long lived, more detailed message.
func FromError(err error) Notification {
	switch {
	case errors.Is(err, judge.ErrQuotaExceeded):
		return Notification{Level: LevelError, Message: QuotaMessage, Duration: LongDuration}
	case errors.Is(err, judge.ErrBusy):
		return Notification{Level: LevelError, Message: BusyMessage, Duration: ShortDuration}
	case errors.Is(err, judge.ErrEmptySource):
		return Notification{Level: LevelError, Message: EmptyMessage, Duration: ShortDuration}
	case errors.Is(err, session.ErrSessionNotFound):
		return Notification{Level: LevelError, Message: MissingMessage, Duration: LongDuration}
	default:
		return Notification{Level: LevelError, Message: GenericMessage, Duration: ShortDuration}
	}
}

func Success() Notification {
	return Notification{Level: LevelSuccess, Message: SuccessMessage, Duration: ShortDuration}
}

// LogNotifier renders notifications as log lines.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, n.Message, "duration", n.Duration)
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.seen))
	copy(out, r.seen)
	return out
}

// Reporter turns compile outcomes into notifications.
type Reporter struct {
	Notifier Notifier
}

func (r Reporter) Report(_ *judge.Result, err error) {
	if err != nil {
		r.Notifier.Notify(FromError(err))
		return
	}
	r.Notifier.Notify(Success())
}
