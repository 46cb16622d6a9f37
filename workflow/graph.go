package workflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
)

var (
	// ErrCycle 边会形成环
	ErrCycle = types.NewError(types.ErrGraphCycle, "graph contains a cycle")
	// ErrUnknownNode 引用了不存在的节点
	ErrUnknownNode = types.NewError(types.ErrGraphUnknownNode, "unknown node")
	// ErrUnknownEdge 引用了不存在的边
	ErrUnknownEdge = types.NewError(types.ErrGraphUnknownEdge, "unknown edge")
	// ErrDisconnected 存在入口不可达的节点
	ErrDisconnected = types.NewError(types.ErrGraphDisconnected, "graph has unreachable nodes")
	// ErrDuplicateNode 节点 ID 重复
	ErrDuplicateNode = types.NewError(types.ErrGraphDuplicateNode, "duplicate node")
	// ErrGraphFrozen 图已校验，不再允许修改
	ErrGraphFrozen = types.NewError(types.ErrGraphFrozen, "graph is frozen")
	// ErrInvalidGraph 其他构造错误
	ErrInvalidGraph = types.NewError(types.ErrGraphInvalid, "invalid graph")
)

// MergeFunc combines the parts of a node's incoming edges into one input text.
type MergeFunc func(parts []agent.Part) string

// TransformFunc rewrites an upstream output before it reaches the successor.
type TransformFunc func(output string) string

// ConditionFunc decides from the upstream output whether an edge is taken.
type ConditionFunc func(output string) bool

// Node is one agent placed in a graph.
type Node struct {
	ID    string
	Agent agent.Agent
	// Retry overrides the executor's default policy when set.
	Retry *RetryPolicy
	// Timeout bounds a single invocation; zero uses the executor default.
	Timeout time.Duration
	// Reads lists shared-state keys copied into the node input.
	Reads []string
	// Publish stores the node output under this shared-state key.
	Publish string
	Merge   MergeFunc
	NoCache bool

	index int
}

// Edge connects the output of From to the input of To.
type Edge struct {
	From      string
	To        string
	Transform TransformFunc
	Condition ConditionFunc
	// Optional edges let To run when From fails, is skipped or declines.
	Optional bool
	// Label is informational and used by exports.
	Label string

	index int
}

// NodeOption configures a node added with AddNode.
type NodeOption func(*Node)

// WithNodeID overrides the node id, which defaults to the agent id.
func WithNodeID(id string) NodeOption {
	return func(n *Node) { n.ID = id }
}

// WithRetryPolicy sets a node specific retry policy.
func WithRetryPolicy(p RetryPolicy) NodeOption {
	return func(n *Node) { n.Retry = &p }
}

// WithTimeout bounds each invocation of the node.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *Node) { n.Timeout = d }
}

// WithReads copies the given shared-state keys into the node input.
func WithReads(keys ...string) NodeOption {
	return func(n *Node) { n.Reads = append(n.Reads, keys...) }
}

// WithPublish writes the node output to the shared state under key.
func WithPublish(key string) NodeOption {
	return func(n *Node) { n.Publish = key }
}

// WithMerge replaces the default part merging.
func WithMerge(fn MergeFunc) NodeOption {
	return func(n *Node) { n.Merge = fn }
}

// WithoutCache disables the result cache for the node.
func WithoutCache() NodeOption {
	return func(n *Node) { n.NoCache = true }
}

// EdgeOption configures an edge added with AddEdge.
type EdgeOption func(*Edge)

// WithTransform rewrites the upstream output along the edge.
func WithTransform(fn TransformFunc) EdgeOption {
	return func(e *Edge) { e.Transform = fn }
}

// WithCondition makes the edge conditional on the upstream output.
func WithCondition(fn ConditionFunc) EdgeOption {
	return func(e *Edge) { e.Condition = fn }
}

// Optional marks the edge as non-required.
func Optional() EdgeOption {
	return func(e *Edge) { e.Optional = true }
}

// WithLabel attaches a label used by DOT and structure exports.
func WithLabel(label string) EdgeOption {
	return func(e *Edge) { e.Label = label }
}

// Graph is a directed acyclic graph of agent nodes. It is built once,
// validated, and then shared read-only by any number of runs.
type Graph struct {
	name string

	nodes map[string]*Node
	order []string
	out   map[string][]*Edge
	in    map[string][]*Edge
	edges []*Edge

	nextNode int
	nextEdge int
	frozen   bool
	mu       sync.RWMutex
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:  name,
		nodes: make(map[string]*Node),
		out:   make(map[string][]*Edge),
		in:    make(map[string][]*Edge),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Frozen reports whether Validate has succeeded on the graph.
func (g *Graph) Frozen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen
}

// AddNode places a in the graph and returns the node id.
func (g *Graph) AddNode(a agent.Agent, opts ...NodeOption) (string, error) {
	if a == nil {
		return "", types.NewError(types.ErrGraphInvalid, "agent is nil")
	}
	node := &Node{ID: a.ID(), Agent: a}
	for _, opt := range opts {
		opt(node)
	}
	if node.ID == "" {
		return "", types.NewError(types.ErrGraphInvalid, "node id is empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return "", ErrGraphFrozen
	}
	if _, exists := g.nodes[node.ID]; exists {
		return "", types.Errorf(types.ErrGraphDuplicateNode, "duplicate node %q", node.ID)
	}

	node.index = g.nextNode
	g.nextNode++
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return node.ID, nil
}

// AddEdge connects from to to. On failure the graph is unchanged.
func (g *Graph) AddEdge(from, to string, opts ...EdgeOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrGraphFrozen
	}
	for _, id := range []string{from, to} {
		if _, ok := g.nodes[id]; !ok {
			return types.Errorf(types.ErrGraphUnknownNode, "unknown node %q", id)
		}
	}
	for _, e := range g.out[from] {
		if e.To == to {
			return types.Errorf(types.ErrGraphInvalid, "duplicate edge %s -> %s", from, to)
		}
	}
	// to 能到达 from 时新边闭合成环（含自环）
	if from == to || g.reachableLocked(to, from) {
		return types.Errorf(types.ErrGraphCycle, "edge %s -> %s would create a cycle", from, to)
	}

	edge := &Edge{From: from, To: to, index: g.nextEdge}
	for _, opt := range opts {
		opt(edge)
	}
	g.nextEdge++
	g.edges = append(g.edges, edge)
	g.out[from] = append(g.out[from], edge)
	g.in[to] = append(g.in[to], edge)
	return nil
}

// RemoveEdge deletes the edge from -> to.
func (g *Graph) RemoveEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrGraphFrozen
	}
	var target *Edge
	for _, e := range g.out[from] {
		if e.To == to {
			target = e
			break
		}
	}
	if target == nil {
		return types.Errorf(types.ErrGraphUnknownEdge, "no edge %s -> %s", from, to)
	}
	g.dropEdgeLocked(target)
	return nil
}

// RemoveNode deletes a node together with its edges.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[id]; !ok {
		return types.Errorf(types.ErrGraphUnknownNode, "unknown node %q", id)
	}
	for _, e := range append(append([]*Edge(nil), g.out[id]...), g.in[id]...) {
		g.dropEdgeLocked(e)
	}
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
	for i, n := range g.order {
		if n == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

func (g *Graph) dropEdgeLocked(target *Edge) {
	g.edges = without(g.edges, target)
	g.out[target.From] = without(g.out[target.From], target)
	g.in[target.To] = without(g.in[target.To], target)
}

func without(edges []*Edge, target *Edge) []*Edge {
	result := edges[:0:0]
	for _, e := range edges {
		if e != target {
			result = append(result, e)
		}
	}
	return result
}

// reachableLocked reports whether dst can be reached from src.
func (g *Graph) reachableLocked(src, dst string) bool {
	visited := make(map[string]bool)
	stack := []string{src}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == dst {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		for _, e := range g.out[id] {
			stack = append(stack, e.To)
		}
	}
	return false
}

// ValidateOption configures Validate.
type ValidateOption func(*validateOptions)

type validateOptions struct {
	entries []string
}

// RequireReachableFrom makes Validate fail when a node cannot be reached
// from any of the given entry nodes.
func RequireReachableFrom(entries ...string) ValidateOption {
	return func(o *validateOptions) { o.entries = append(o.entries, entries...) }
}

// Validate checks the graph and freezes it on success. It is idempotent.
func (g *Graph) Validate(opts ...ValidateOption) error {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.nodes) == 0 {
		return types.NewError(types.ErrGraphInvalid, "graph has no nodes")
	}
	if _, err := g.topologicalLocked(); err != nil {
		return err
	}

	if len(o.entries) > 0 {
		reached := make(map[string]bool, len(g.nodes))
		for _, entry := range o.entries {
			if _, ok := g.nodes[entry]; !ok {
				return types.Errorf(types.ErrGraphUnknownNode, "unknown entry node %q", entry)
			}
			g.markReachableLocked(entry, reached)
		}
		var unreachable []string
		for _, id := range g.order {
			if !reached[id] {
				unreachable = append(unreachable, id)
			}
		}
		if len(unreachable) > 0 {
			return types.Errorf(types.ErrGraphDisconnected,
				"nodes unreachable from %s: %s", strings.Join(o.entries, ","), strings.Join(unreachable, ","))
		}
	}

	g.frozen = true
	return nil
}

func (g *Graph) markReachableLocked(id string, visited map[string]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	for _, e := range g.out[id] {
		g.markReachableLocked(e.To, visited)
	}
}

// TopologicalOrder returns the node ids in dependency order. Among nodes
// that are ready at the same time, declaration order wins.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topologicalLocked()
}

func (g *Graph) topologicalLocked() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.in[id])
	}

	// 就绪集合按声明顺序排序，保证结果稳定
	var ready []*Node
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, g.nodes[id])
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].index < ready[j].index })
		n := ready[0]
		ready = ready[1:]
		result = append(result, n.ID)
		for _, e := range g.out[n.ID] {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				ready = append(ready, g.nodes[e.To])
			}
		}
	}

	if len(result) != len(g.nodes) {
		var stuck []string
		for _, id := range g.order {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, types.Errorf(types.ErrGraphCycle, "cycle among nodes: %s", strings.Join(stuck, ","))
	}
	return result, nil
}

// Roots returns the nodes without incoming edges in declaration order.
func (g *Graph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var roots []string
	for _, id := range g.order {
		if len(g.in[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns the nodes without outgoing edges in declaration order.
func (g *Graph) Leaves() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var leaves []string
	for _, id := range g.order {
		if len(g.out[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.edges...)
}

// InEdges returns the incoming edges of id in declaration order.
func (g *Graph) InEdges(id string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.in[id]...)
}

// OutEdges returns the outgoing edges of id in declaration order.
func (g *Graph) OutEdges(id string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Edge(nil), g.out[id]...)
}

// Predecessors returns the sources of the incoming edges of id.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.in[id]))
	for _, e := range g.in[id] {
		ids = append(ids, e.From)
	}
	return ids
}

// Successors returns the targets of the outgoing edges of id.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.out[id]))
	for _, e := range g.out[id] {
		ids = append(ids, e.To)
	}
	return ids
}

// ReadySuccessors returns the pending successors of id whose required
// predecessors have all succeeded and whose optional predecessors have all
// finished. Successors come back in edge declaration order.
func (g *Graph) ReadySuccessors(id string, es ExecutionState) []string {
	var ready []string
	for _, succ := range g.Successors(id) {
		if es[succ] != StatusPending && es[succ] != "" {
			continue
		}
		if g.resolve(succ, es, nil) == resolutionReady {
			ready = append(ready, succ)
		}
	}
	return ready
}

type resolution int

const (
	resolutionWait resolution = iota
	resolutionReady
	resolutionSkip
)

// resolve classifies a pending node once its predecessors change state.
// declined holds the conditional edges whose condition rejected the
// upstream output.
func (g *Graph) resolve(id string, es ExecutionState, declined map[*Edge]bool) resolution {
	in := g.InEdges(id)
	for _, e := range in {
		if !es[e.From].Terminal() {
			return resolutionWait
		}
	}
	for _, e := range in {
		satisfied := es[e.From] == StatusSucceeded && !declined[e]
		if !satisfied && !e.Optional {
			return resolutionSkip
		}
	}
	return resolutionReady
}

// String renders an edge for logs.
func (e *Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}
