package agent

import (
	"slices"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// ShortMemory keeps one bounded conversation per task. When a conversation
// exceeds the limit the oldest messages are dropped; when more than maxTasks
// conversations are tracked the least recently written one is evicted.
type ShortMemory struct {
	mu       sync.Mutex
	limit    int
	maxTasks int
	convs    map[string][]types.Message
	order    []string // 最近写入的在末尾
}

// NewShortMemory creates a ShortMemory. limit <= 0 keeps every message and
// maxTasks <= 0 keeps every task.
func NewShortMemory(limit, maxTasks int) *ShortMemory {
	return &ShortMemory{limit: limit, maxTasks: maxTasks, convs: make(map[string][]types.Message)}
}

// Add appends msg to the conversation of task.
func (m *ShortMemory) Add(task string, msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := append(m.convs[task], msg)
	if m.limit > 0 && len(conv) > m.limit {
		conv = append([]types.Message(nil), conv[len(conv)-m.limit:]...)
	}
	m.convs[task] = conv
	m.touch(task)

	for m.maxTasks > 0 && len(m.order) > m.maxTasks {
		delete(m.convs, m.order[0])
		m.order = m.order[1:]
	}
}

// History returns a copy of the conversation of task.
func (m *ShortMemory) History(task string) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.convs[task]
	out := make([]types.Message, len(conv))
	copy(out, conv)
	return out
}

// Tasks returns the number of tracked conversations.
func (m *ShortMemory) Tasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Forget drops the conversation of task.
func (m *ShortMemory) Forget(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, task)
	if i := slices.Index(m.order, task); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
}

func (m *ShortMemory) touch(task string) {
	if i := slices.Index(m.order, task); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	m.order = append(m.order, task)
}
