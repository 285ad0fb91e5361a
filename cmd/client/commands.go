package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/astromechza/codepad/pkg/judge"
)

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open [locator]",
		Short: "Open a session, creating one when no locator is given, and follow its text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var locator string
			if len(args) == 1 {
				locator = args[0]
			}
			out := cmd.OutOrStdout()
			w, err := a.openWorkspace(cmd, locator, func(text string) {
				_, _ = fmt.Fprintf(out, "--- %d bytes\n%s\n", len(text), text)
			})
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			a.logger.Info("Signal caught, closing session", "session", w.SessionID())
			return nil
		},
	}
}

func newWriteCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "write <locator>",
		Short: "Replace the session text with a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			w, err := a.openWorkspace(cmd, args[0], nil)
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.Type(cmd.Context(), text); err != nil {
				return fmt.Errorf("write session text: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(text), w.SessionID())
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "the file to read, - for stdin")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		lang      string
		stdinFile string
	)

	cmd := &cobra.Command{
		Use:   "run <locator>",
		Short: "Compile and run the current session text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.executor == nil {
				return a.cfg.Judge.Validate()
			}
			language, err := judge.LookupLanguage(lang)
			if err != nil {
				return err
			}
			var stdin string
			if stdinFile != "" {
				if stdin, err = readInput(cmd, stdinFile); err != nil {
					return err
				}
			}

			w, err := a.openWorkspace(cmd, args[0], nil)
			if err != nil {
				return err
			}
			defer w.Close()
			w.SetLanguage(language)
			w.SetStdin(stdin)

			result, err := w.Compile(cmd.Context())
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", judge.DefaultLanguage().Key, "the language key or id")
	cmd.Flags().StringVar(&stdinFile, "stdin", "", "a file to feed to the program on stdin, - for this process's stdin")
	return cmd
}

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages the execution service accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, l := range judge.Languages {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", l.Key, l.ID, l.Label)
			}
			return tw.Flush()
		},
	}
}

func readInput(cmd *cobra.Command, file string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return "", fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(raw), nil
}

func writeResult(out io.Writer, result *judge.Result) error {
	if result == nil {
		return errors.New("no result")
	}
	_, _ = fmt.Fprintf(out, "status: %s (%d)\n", result.Status.Description, result.Status.ID)
	if result.Time != "" {
		_, _ = fmt.Fprintf(out, "time: %ss memory: %dKB\n", result.Time, result.Memory)
	}
	for _, section := range []struct{ name, body string }{
		{"compile output", result.CompileOutput},
		{"stdout", result.Stdout},
		{"stderr", result.Stderr},
		{"message", result.Message},
	} {
		if section.body == "" {
			continue
		}
		if _, err := fmt.Fprintf(out, "%s:\n%s\n", section.name, section.body); err != nil {
			return err
		}
	}
	return nil
}
