package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentgraph/state"
)

// Agent is the capability every graph node wraps: given the resolved input
// of a node it produces a text output or fails.
type Agent interface {
	// ID 返回 Agent 唯一标识，也是节点默认 ID
	ID() string
	// Name 返回可读名称
	Name() string
	// Invoke 执行一次调用
	Invoke(ctx context.Context, in *Input) (string, error)
}

// Fingerprinter is implemented by agents whose configuration should be
// part of the cache key (model, prompt, sampling parameters).
type Fingerprinter interface {
	Fingerprint() string
}

// FingerprintOf returns a's fingerprint, or "" when it has none.
func FingerprintOf(a Agent) string {
	if f, ok := a.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// Part is the contribution of one incoming edge to a node's input.
type Part struct {
	From    string `json:"from"`
	Output  string `json:"output"`
	Missing bool   `json:"missing,omitempty"`
}

// Input is the resolved input handed to an agent.
type Input struct {
	RunID   string `json:"run_id,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// Task is the initial input of the run.
	Task string `json:"task"`
	// Text is the merged input: Task for roots, the merged upstream
	// outputs otherwise.
	Text string `json:"text"`
	// Parts holds one entry per incoming edge in declaration order.
	Parts []Part `json:"parts,omitempty"`
	// Shared holds the shared-state keys the node declared it reads.
	Shared map[string]any `json:"shared,omitempty"`

	// State gives direct access to the run's shared store.
	State *state.Store `json:"-"`
}

// Part returns the part contributed by the edge from the given node.
func (in *Input) Part(from string) (Part, bool) {
	for _, p := range in.Parts {
		if p.From == from {
			return p, true
		}
	}
	return Part{}, false
}

// CacheBytes returns the canonical encoding of the fields that determine
// an invocation result. Run metadata and the live store are excluded.
func (in *Input) CacheBytes() []byte {
	payload := struct {
		Text   string         `json:"text"`
		Parts  []Part         `json:"parts"`
		Shared map[string]any `json:"shared"`
	}{in.Text, in.Parts, in.Shared}

	data, err := json.Marshal(payload)
	if err != nil {
		// 不可序列化的共享值退化为 fmt 表示，保持确定性
		data = []byte(fmt.Sprintf("%q|%v|%v", in.Text, in.Parts, in.Shared))
	}
	return data
}
