package notify

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/astromechza/codepad/pkg/judge"
	"github.com/astromechza/codepad/pkg/session"
)

func TestFromError(t *testing.T) {
	for _, tc := range []struct {
		name     string
		err      error
		message  string
		duration int
	}{
		{"quota", fmt.Errorf("%w: 429", judge.ErrQuotaExceeded), QuotaMessage, 10},
		{"busy", judge.ErrBusy, BusyMessage, 1},
		{"empty", judge.ErrEmptySource, EmptyMessage, 1},
		{"missing", fmt.Errorf("%w: abc", session.ErrSessionNotFound), MissingMessage, 10},
		{"transport", fmt.Errorf("%w: eof", judge.ErrPollTransport), GenericMessage, 1},
		{"other", errors.New("boom"), GenericMessage, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n := FromError(tc.err)
			assert.Equal(t, LevelError, n.Level)
			assert.Equal(t, tc.message, n.Message)
			assert.Equal(t, tc.duration, int(n.Duration.Seconds()))
		})
	}
}

func TestReporter(t *testing.T) {
	rec := &Recorder{}
	r := Reporter{Notifier: rec}

	r.Report(&judge.Result{Status: judge.Status{ID: judge.StatusAccepted}}, nil)
	r.Report(nil, judge.ErrQuotaExceeded)

	got := rec.All()
	assert.Equal(t, []Notification{
		Success(),
		{Level: LevelError, Message: QuotaMessage, Duration: LongDuration},
	}, got)
}

func TestLogNotifier(t *testing.T) {
	buf := new(bytes.Buffer)
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(buf, nil))}

	n.Notify(Success())
	n.Notify(FromError(judge.ErrBusy))

	out := buf.String()
	assert.Contains(t, out, "level=INFO msg=\"Compiled Successfully!\" duration=1s")
	assert.Contains(t, out, "level=ERROR msg=\"A compile is already in progress.\" duration=1s")
}
