package workflow

import (
	"strings"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/state"
)

// partSeparator joins upstream outputs when a node has no merge function.
const partSeparator = "\n\n"

// JoinParts is the default MergeFunc: the present outputs in edge order,
// separated by a blank line.
func JoinParts(parts []agent.Part) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Missing {
			continue
		}
		texts = append(texts, p.Output)
	}
	return strings.Join(texts, partSeparator)
}

// inputResolver builds node inputs from upstream results of one run.
type inputResolver struct {
	graph    *Graph
	task     string
	outputs  map[string]string
	es       ExecutionState
	declined map[*Edge]bool
	store    *state.Store
}

func (r *inputResolver) resolve(node *Node) *agent.Input {
	in := &agent.Input{
		NodeID: node.ID,
		Task:   r.task,
		State:  r.store,
	}

	edges := r.graph.InEdges(node.ID)
	if len(edges) == 0 {
		in.Text = r.task
	} else {
		in.Parts = make([]agent.Part, 0, len(edges))
		for _, e := range edges {
			part := agent.Part{From: e.From}
			if r.es[e.From] != StatusSucceeded || r.declined[e] {
				part.Missing = true
			} else {
				part.Output = r.outputs[e.From]
				if e.Transform != nil {
					part.Output = e.Transform(part.Output)
				}
			}
			in.Parts = append(in.Parts, part)
		}
		merge := node.Merge
		if merge == nil {
			merge = JoinParts
		}
		in.Text = merge(in.Parts)
	}

	if len(node.Reads) > 0 && r.store != nil {
		in.Shared = make(map[string]any, len(node.Reads))
		for _, key := range node.Reads {
			if v, ok := r.store.Get(key); ok {
				in.Shared[key] = v
			}
		}
	}
	return in
}
