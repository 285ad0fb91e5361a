package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/codepad/pkg/store"
	"github.com/astromechza/codepad/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	serverVar := flag.String("server", "", "fetch the session document from this store server instead of a file")
	svgVar := flag.String("svg", "", "render the change history of the text to this svg file")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the file to read, or the session id with -server")
	}

	buff, err := readDocument(*serverVar, flag.Arg(0))
	if err != nil {
		return err
	}
	doc, err := automerge.Load(buff)
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}
	buff = nil
	slog.Info("loaded doc", "contents", doc.RootMap().GoString())
	slog.Info("loaded heads", "heads", doc.Heads())

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	slog.Info("changes:", "version", len(changes))
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "message", change.Message(), "dep", change.Dependencies())
	}

	text, err := automerge.As[string](doc.Path(store.TextKey).Get())
	if err != nil {
		return fmt.Errorf("failed to read text: %w", err)
	}
	fmt.Println(text)

	if *svgVar != "" {
		if err := viz.RenderToFile(doc, *svgVar, store.TextKey); err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	return nil
}

func readDocument(server, arg string) ([]byte, error) {
	if server == "" {
		f, err := os.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		buff, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return buff, nil
	}

	base, err := url.Parse(strings.TrimSuffix(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	resp, err := http.DefaultClient.Get(base.JoinPath("sessions", url.PathEscape(arg), "document").String())
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	buff, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from get: %w", err)
	}
	return buff, nil
}
