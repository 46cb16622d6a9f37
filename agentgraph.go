// Package agentgraph provides a top-level convenience entry point for
// building and running agent graphs with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentgraph"
//
//	g, err := agentgraph.NewGraphBuilder("review").
//		AddNode(draft).Done().
//		AddNode(critic).Done().
//		Chain("draft", "critic").
//		Build()
//	report, err := agentgraph.Run(ctx, g, "topic")
//
//	report, err := agentgraph.RunFile(ctx, "review.yaml", "topic")
//
// This is a thin wrapper around [workflow]; both produce identical results.
// Use this package when you prefer the shorter import path.
package agentgraph

import (
	"context"

	"github.com/BaSui01/agentgraph/workflow"
)

// Re-export the core types so callers never need to import workflow/.

// Graph is a set of agent nodes joined by directed edges.
type Graph = workflow.Graph

// RunReport is the outcome of one run.
type RunReport = workflow.RunReport

// Executor runs frozen graphs.
type Executor = workflow.Executor

// Option configures the executor used by [Run] and [RunFile].
type Option = workflow.ExecutorOption

// NewGraph creates an empty graph.
var NewGraph = workflow.NewGraph

// NewGraphBuilder starts a fluent graph definition.
var NewGraphBuilder = workflow.NewGraphBuilder

// NewExecutor creates an executor.
var NewExecutor = workflow.NewExecutor

// DefaultExecutorConfig returns the executor defaults.
var DefaultExecutorConfig = workflow.DefaultExecutorConfig

// NewRegistry returns a definition registry preloaded with the builtins.
var NewRegistry = workflow.NewRegistry

// Run executes g with the default executor configuration.
func Run(ctx context.Context, g *Graph, input string, opts ...Option) (*RunReport, error) {
	return workflow.NewExecutor(workflow.DefaultExecutorConfig(), opts...).Run(ctx, g, input, 0)
}

// RunFile loads a YAML or JSON definition, builds it against the builtin
// registry and runs it with the default executor configuration.
func RunFile(ctx context.Context, path, input string, opts ...Option) (*RunReport, error) {
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	g, err := def.Build(workflow.NewRegistry(nil))
	if err != nil {
		return nil, err
	}
	return Run(ctx, g, input, opts...)
}
