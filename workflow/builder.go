package workflow

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
)

// GraphBuilder provides a fluent API for constructing graphs. The first
// error is kept and reported by Build; later calls become no-ops.
type GraphBuilder struct {
	graph   *Graph
	entries []string
	err     error
	logger  *zap.Logger
}

// NewGraphBuilder creates a builder for a graph with the given name.
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		graph:  NewGraph(name),
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// AddNode starts configuring a node wrapping a.
func (b *GraphBuilder) AddNode(a agent.Agent) *NodeBuilder {
	return &NodeBuilder{parent: b, agent: a}
}

// AddEdge adds a directed edge from one node to another
func (b *GraphBuilder) AddEdge(from, to string, opts ...EdgeOption) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if err := b.graph.AddEdge(from, to, opts...); err != nil {
		b.err = fmt.Errorf("add edge %s -> %s: %w", from, to, err)
	}
	return b
}

// Chain connects the given nodes one after another.
func (b *GraphBuilder) Chain(ids ...string) *GraphBuilder {
	for i := 1; i < len(ids); i++ {
		b.AddEdge(ids[i-1], ids[i])
	}
	return b
}

// Entry requires every node to be reachable from the given entry nodes.
func (b *GraphBuilder) Entry(ids ...string) *GraphBuilder {
	b.entries = append(b.entries, ids...)
	return b
}

// Build validates and freezes the graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	var opts []ValidateOption
	if len(b.entries) > 0 {
		opts = append(opts, RequireReachableFrom(b.entries...))
	}
	if err := b.graph.Validate(opts...); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	b.logger.Info("graph built",
		zap.String("name", b.graph.Name()),
		zap.Int("nodes", len(b.graph.Nodes())),
		zap.Int("edges", len(b.graph.Edges())))
	return b.graph, nil
}

// NodeBuilder configures one node of a GraphBuilder.
type NodeBuilder struct {
	parent *GraphBuilder
	agent  agent.Agent
	opts   []NodeOption
}

// WithID overrides the node id.
func (nb *NodeBuilder) WithID(id string) *NodeBuilder {
	nb.opts = append(nb.opts, WithNodeID(id))
	return nb
}

// WithRetry sets the node retry policy.
func (nb *NodeBuilder) WithRetry(p RetryPolicy) *NodeBuilder {
	nb.opts = append(nb.opts, WithRetryPolicy(p))
	return nb
}

// WithTimeout bounds each invocation.
func (nb *NodeBuilder) WithTimeout(d time.Duration) *NodeBuilder {
	nb.opts = append(nb.opts, WithTimeout(d))
	return nb
}

// Reads copies shared-state keys into the node input.
func (nb *NodeBuilder) Reads(keys ...string) *NodeBuilder {
	nb.opts = append(nb.opts, WithReads(keys...))
	return nb
}

// Publish writes the node output to the shared state.
func (nb *NodeBuilder) Publish(key string) *NodeBuilder {
	nb.opts = append(nb.opts, WithPublish(key))
	return nb
}

// WithMerge sets the part merge function.
func (nb *NodeBuilder) WithMerge(fn MergeFunc) *NodeBuilder {
	nb.opts = append(nb.opts, WithMerge(fn))
	return nb
}

// NoCache disables caching for the node.
func (nb *NodeBuilder) NoCache() *NodeBuilder {
	nb.opts = append(nb.opts, WithoutCache())
	return nb
}

// Done adds the node and returns to the graph builder.
func (nb *NodeBuilder) Done() *GraphBuilder {
	b := nb.parent
	if b.err != nil {
		return b
	}
	if _, err := b.graph.AddNode(nb.agent, nb.opts...); err != nil {
		b.err = fmt.Errorf("add node: %w", err)
	}
	return b
}
