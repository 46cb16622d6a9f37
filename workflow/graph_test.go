package workflow

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/types"
)

func newTestGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := NewGraph("test")
	for _, id := range ids {
		_, err := g.AddNode(mocks.NewScriptedAgent(id))
		require.NoError(t, err)
	}
	return g
}

func edgePairs(g *Graph) []string {
	var pairs []string
	for _, e := range g.Edges() {
		pairs = append(pairs, e.String())
	}
	return pairs
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph("g")

	id, err := g.AddNode(mocks.NewScriptedAgent("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = g.AddNode(mocks.NewScriptedAgent("a"), WithNodeID("a2"))
	require.NoError(t, err)
	assert.Equal(t, "a2", id)

	_, err = g.AddNode(mocks.NewScriptedAgent("a"))
	assert.ErrorIs(t, err, ErrDuplicateNode)

	_, err = g.AddNode(nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestGraph_AddEdgeErrors(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")

	assert.ErrorIs(t, g.AddEdge("a", "missing"), ErrUnknownNode)
	assert.ErrorIs(t, g.AddEdge("missing", "a"), ErrUnknownNode)
	assert.ErrorIs(t, g.AddEdge("a", "a"), ErrCycle)

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	assert.ErrorIs(t, g.AddEdge("a", "b"), ErrInvalidGraph)

	before := edgePairs(g)
	assert.ErrorIs(t, g.AddEdge("c", "a"), ErrCycle)
	assert.Equal(t, before, edgePairs(g))
	assert.Equal(t, []string{"a"}, g.Predecessors("b"))
}

func TestGraph_ValidateFreezes(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.AddEdge("a", "b"))

	require.NoError(t, g.Validate())
	require.NoError(t, g.Validate())
	assert.True(t, g.Frozen())

	_, err := g.AddNode(mocks.NewScriptedAgent("c"))
	assert.ErrorIs(t, err, ErrGraphFrozen)
	assert.ErrorIs(t, g.AddEdge("b", "a"), ErrGraphFrozen)
	assert.ErrorIs(t, g.RemoveEdge("a", "b"), ErrGraphFrozen)
}

func TestGraph_ValidateEmpty(t *testing.T) {
	assert.ErrorIs(t, NewGraph("empty").Validate(), ErrInvalidGraph)
}

func TestGraph_RequireReachableFrom(t *testing.T) {
	g := newTestGraph(t, "a", "b", "orphan")
	require.NoError(t, g.AddEdge("a", "b"))

	err := g.Validate(RequireReachableFrom("a"))
	require.ErrorIs(t, err, ErrDisconnected)
	assert.Contains(t, err.Error(), "orphan")
	assert.False(t, g.Frozen())

	assert.ErrorIs(t, g.Validate(RequireReachableFrom("nope")), ErrUnknownNode)
	assert.NoError(t, g.Validate(RequireReachableFrom("a", "orphan")))
}

func TestGraph_TopologicalOrderIsStable(t *testing.T) {
	g := newTestGraph(t, "d", "c", "b", "a")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("c", "b"))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "a", "b"}, order)
	assert.Equal(t, []string{"d", "c", "a"}, g.Roots())
	assert.Equal(t, []string{"d", "b"}, g.Leaves())
}

func TestGraph_ReadySuccessors(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d", Optional()))

	es := NewExecutionState(g)
	es["a"] = StatusSucceeded
	assert.Equal(t, []string{"b", "c"}, g.ReadySuccessors("a", es))

	es["b"] = StatusSucceeded
	assert.Empty(t, g.ReadySuccessors("b", es), "c has not finished")

	es["c"] = StatusFailed
	assert.Equal(t, []string{"d"}, g.ReadySuccessors("b", es))

	es["b"] = StatusFailed
	assert.Empty(t, g.ReadySuccessors("b", es), "required upstream failed")
}

func TestGraph_RemoveEdgeAndNode(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	assert.ErrorIs(t, g.RemoveEdge("a", "c"), ErrUnknownEdge)
	require.NoError(t, g.RemoveEdge("a", "b"))
	assert.Equal(t, []string{"b -> c"}, edgePairs(g))

	require.NoError(t, g.RemoveNode("b"))
	assert.Empty(t, g.Edges())
	assert.Len(t, g.Nodes(), 2)
	assert.ErrorIs(t, g.RemoveNode("b"), ErrUnknownNode)

	// 删除后可以重新加入同名节点
	_, err := g.AddNode(mocks.NewScriptedAgent("b"))
	assert.NoError(t, err)
}

func TestGraph_Exports(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d")
	require.NoError(t, g.AddEdge("a", "b", WithLabel("upper")))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d", Optional()))

	dot := g.ExportDOT()
	assert.True(t, strings.HasPrefix(dot, `digraph "test" {`))
	assert.Contains(t, dot, `"a" -> "b" [label="upper"];`)
	assert.Contains(t, dot, `"c" -> "d" [style=dashed];`)

	structure := g.Structure()
	assert.Equal(t, []EdgeInfo{{To: "b", Label: "upper"}, {To: "c"}}, structure["a"])
	assert.Empty(t, structure["d"])

	paths, err := g.ExecutionPaths("a")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "d"}, {"a", "c", "d"}}, paths)

	_, err = g.ExecutionPaths("zz")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

const propNodes = 8

func propGraph() *Graph {
	g := NewGraph("prop")
	for i := 0; i < propNodes; i++ {
		_, _ = g.AddNode(mocks.NewScriptedAgent(fmt.Sprintf("n%d", i)))
	}
	return g
}

func TestProperty_CycleRejectionLeavesGraphUnchanged(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rejected edges never change the graph and the result stays acyclic", prop.ForAll(
		func(pairs []int) bool {
			g := propGraph()
			for _, p := range pairs {
				from := fmt.Sprintf("n%d", p/propNodes)
				to := fmt.Sprintf("n%d", p%propNodes)
				before := edgePairs(g)
				if err := g.AddEdge(from, to); err != nil {
					if fmt.Sprint(before) != fmt.Sprint(edgePairs(g)) {
						return false
					}
				}
			}

			order, err := g.TopologicalOrder()
			if err != nil {
				return false
			}
			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			for _, e := range g.Edges() {
				if pos[e.From] >= pos[e.To] {
					return false
				}
			}
			return g.Validate() == nil
		},
		gen.SliceOf(gen.IntRange(0, propNodes*propNodes-1)),
	))

	properties.TestingRun(t)
}

func TestProperty_ForwardEdgesAlwaysValidate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("edges from lower to higher index never form a cycle", prop.ForAll(
		func(pairs []int) bool {
			g := propGraph()
			for _, p := range pairs {
				i, j := p/propNodes, p%propNodes
				if i == j {
					continue
				}
				if i > j {
					i, j = j, i
				}
				err := g.AddEdge(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", j))
				if err != nil && types.GetErrorCode(err) != types.ErrGraphInvalid {
					return false
				}
			}
			return g.Validate() == nil
		},
		gen.SliceOf(gen.IntRange(0, propNodes*propNodes-1)),
	))

	properties.TestingRun(t)
}
