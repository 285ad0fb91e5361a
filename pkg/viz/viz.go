package viz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

const maxLabelValue = 40

// RenderHistory draws the change graph of doc as SVG, labelling every change
// with the value found at nodePath once that change was applied.
func RenderHistory(doc *automerge.Doc, nodePath ...interface{}) ([]byte, error) {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return nil, fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		var raw interface{}
		value, err := docAt.Path(nodePath...).Get()
		if err == nil {
			raw = value.Interface()
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", change.Hash(), err)
		}

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %q @%s %s", change.Hash().String()[:8], change.Message(), change.Timestamp().Format("15:04:05"), truncate(string(encoded))))
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), parent, n); err != nil {
				return nil, fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return nil, fmt.Errorf("failed to render: %w", err)
	}
	return buff.Bytes(), nil
}

// RenderToFile writes the history SVG of doc to outputPath.
func RenderToFile(doc *automerge.Doc, outputPath string, nodePath ...interface{}) error {
	svg, err := RenderHistory(doc, nodePath...)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, svg, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelValue {
		return s
	}
	return string(r[:maxLabelValue]) + "…"
}
