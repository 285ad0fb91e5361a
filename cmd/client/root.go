package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/astromechza/codepad/pkg/config"
	"github.com/astromechza/codepad/pkg/editor"
	"github.com/astromechza/codepad/pkg/judge"
	"github.com/astromechza/codepad/pkg/notify"
	"github.com/astromechza/codepad/pkg/session"
)

type app struct {
	cfg     config.Config
	backend session.Backend
	// executor is nil until the execution service is configured.
	executor judge.Executor
	logger   *slog.Logger
}

func wireApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
	a := &app{
		cfg:     cfg,
		backend: &session.RemoteBackend{BaseURL: cfg.Store.URL, Logger: logger},
		logger:  logger,
	}
	if cfg.Judge.Validate() == nil {
		a.executor = &judge.Client{
			BaseURL:      cfg.Judge.URL,
			Host:         cfg.Judge.Host,
			Key:          cfg.Judge.Key,
			PollInterval: cfg.Judge.PollInterval,
			PollTimeout:  cfg.Judge.PollTimeout,
			MaxPolls:     cfg.Judge.MaxPolls,
			Logger:       logger,
		}
	}
	return a, nil
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "codepad",
		Short:         "Collaborative code pad: share a buffer and run it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if a == nil {
		wired, err := wireApp()
		if err != nil {
			rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
				return err
			}
			return rootCmd
		}
		a = wired
	}

	rootCmd.AddCommand(
		newOpenCmd(a),
		newWriteCmd(a),
		newRunCmd(a),
		newLanguagesCmd(),
	)
	return rootCmd
}

// openWorkspace resolves locator (creating a session when it is empty) and
// reports failures as notifications as well as errors.
func (a *app) openWorkspace(cmd *cobra.Command, locator string, onText func(string)) (*editor.Workspace, error) {
	var runner *judge.Runner
	notifier := notify.LogNotifier{Logger: a.logger}
	if a.executor != nil {
		runner = judge.NewRunner(a.executor, notify.Reporter{Notifier: notifier})
		runner.Logger = a.logger
	}
	w, err := editor.Open(cmd.Context(), editor.Options{
		Backend:   a.backend,
		Locator:   session.ParseLocator(locator),
		Publisher: session.FragmentPublisher{BaseURL: a.cfg.Store.URL, Out: cmd.OutOrStdout()},
		Runner:    runner,
		OnText:    onText,
	})
	if err != nil {
		notifier.Notify(notify.FromError(err))
		return nil, err
	}
	return w, nil
}
