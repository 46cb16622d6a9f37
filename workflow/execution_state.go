package workflow

import "fmt"

// NodeStatus is the lifecycle position of a node within one run.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusReady     NodeStatus = "ready"
	StatusRunning   NodeStatus = "running"
	StatusSucceeded NodeStatus = "succeeded"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s NodeStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// RunState is the lifecycle position of a whole run.
type RunState string

const (
	RunNotStarted RunState = "not_started"
	RunRunning    RunState = "running"
	RunCompleted  RunState = "completed"
	RunAborted    RunState = "aborted"
)

// running -> ready 表示失败后进入退避等待重试
var nodeTransitions = map[NodeStatus][]NodeStatus{
	StatusPending: {StatusReady, StatusSkipped},
	StatusReady:   {StatusRunning, StatusSkipped},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusReady},
}

// CanTransition reports whether a node may move from one status to another.
func CanTransition(from, to NodeStatus) bool {
	for _, next := range nodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExecutionState maps node ids to their status for one run.
type ExecutionState map[string]NodeStatus

// NewExecutionState returns a state with every node of g pending.
func NewExecutionState(g *Graph) ExecutionState {
	es := make(ExecutionState)
	for _, n := range g.Nodes() {
		es[n.ID] = StatusPending
	}
	return es
}

// transition moves id to the given status, rejecting illegal moves.
func (es ExecutionState) transition(id string, to NodeStatus) error {
	from := es[id]
	if !CanTransition(from, to) {
		return fmt.Errorf("node %s: illegal transition %s -> %s", id, from, to)
	}
	es[id] = to
	return nil
}

// Count returns how many nodes are in the given status.
func (es ExecutionState) Count(status NodeStatus) int {
	n := 0
	for _, s := range es {
		if s == status {
			n++
		}
	}
	return n
}

// Done reports whether every node is terminal.
func (es ExecutionState) Done() bool {
	for _, s := range es {
		if !s.Terminal() {
			return false
		}
	}
	return true
}
