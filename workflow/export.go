package workflow

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/types"
)

// EdgeInfo is one outgoing connection in a Structure.
type EdgeInfo struct {
	To       string `json:"to"`
	Label    string `json:"label,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Structure returns the adjacency of the graph: every node mapped to its
// outgoing connections in declaration order.
func (g *Graph) Structure() map[string][]EdgeInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	structure := make(map[string][]EdgeInfo, len(g.nodes))
	for _, id := range g.order {
		infos := make([]EdgeInfo, 0, len(g.out[id]))
		for _, e := range g.out[id] {
			infos = append(infos, EdgeInfo{To: e.To, Label: e.Label, Optional: e.Optional})
		}
		structure[id] = infos
	}
	return structure
}

// ExportDOT renders the graph in Graphviz DOT format. Optional edges are
// dashed.
func (g *Graph) ExportDOT() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(g.name))
	sb.WriteString("    rankdir=LR;\n")
	for _, id := range g.order {
		n := g.nodes[id]
		label := n.Agent.Name()
		if label == "" || label == id {
			label = id
		} else {
			label = id + "\\n" + label
		}
		fmt.Fprintf(&sb, "    %s [label=%s];\n", dotQuote(id), dotQuote(label))
	}
	for _, e := range g.edges {
		var attrs []string
		if e.Label != "" {
			attrs = append(attrs, "label="+dotQuote(e.Label))
		}
		if e.Optional {
			attrs = append(attrs, "style=dashed")
		}
		fmt.Fprintf(&sb, "    %s -> %s", dotQuote(e.From), dotQuote(e.To))
		if len(attrs) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(attrs, ", "))
		}
		sb.WriteString(";\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

func dotQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// ExecutionPaths returns every path from start to a leaf, following edges
// in declaration order.
func (g *Graph) ExecutionPaths(start string) ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[start]; !ok {
		return nil, types.Errorf(types.ErrGraphUnknownNode, "unknown start node %q", start)
	}
	var paths [][]string
	g.walkPaths(start, nil, &paths)
	return paths, nil
}

func (g *Graph) walkPaths(id string, current []string, paths *[][]string) {
	current = append(current, id)
	if len(g.out[id]) == 0 {
		*paths = append(*paths, append([]string(nil), current...))
		return
	}
	for _, e := range g.out[id] {
		g.walkPaths(e.To, current, paths)
	}
}
