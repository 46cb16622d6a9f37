package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryConfig bounds a MemoryBackend. Zero values disable the bound.
type MemoryConfig struct {
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes" json:"max_bytes"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age"`
}

// DefaultMemoryConfig 默认内存缓存配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries: 10000,
		MaxBytes:   256 << 20,
		MaxAge:     24 * time.Hour,
	}
}

// ============================================================
// LRU 内存后端（双向链表，O(1) 读写与淘汰）
// ============================================================

// MemoryBackend is an in-process LRU backend bounded by entry count,
// total bytes and entry age.
type MemoryBackend struct {
	mu     sync.Mutex
	config MemoryConfig
	now    func() time.Time
	items  map[string]*lruNode
	head   *lruNode // 最近使用
	tail   *lruNode // 最久未使用
	bytes  int64
}

type lruNode struct {
	key      string
	value    []byte
	storedAt time.Time
	prev     *lruNode
	next     *lruNode
}

// NewMemoryBackend creates a MemoryBackend.
func NewMemoryBackend(config MemoryConfig) *MemoryBackend {
	return &MemoryBackend{
		config: config,
		now:    time.Now,
		items:  make(map[string]*lruNode),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(node) {
		m.remove(node)
		return nil, ErrNotFound
	}

	m.moveToHead(node)
	out := make([]byte, len(node.value))
	copy(out, node.value)
	return out, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	if node, ok := m.items[key]; ok {
		m.bytes += int64(len(stored)) - int64(len(node.value))
		node.value = stored
		node.storedAt = m.now()
		m.moveToHead(node)
	} else {
		node := &lruNode{key: key, value: stored, storedAt: m.now()}
		m.items[key] = node
		m.addToHead(node)
		m.bytes += int64(len(stored))
	}

	m.evict()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.items[key]; ok {
		m.remove(node)
	}
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Bytes returns the total size of stored values.
func (m *MemoryBackend) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Clear removes every entry.
func (m *MemoryBackend) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*lruNode)
	m.head = nil
	m.tail = nil
	m.bytes = 0
}

func (m *MemoryBackend) expired(node *lruNode) bool {
	return m.config.MaxAge > 0 && m.now().Sub(node.storedAt) > m.config.MaxAge
}

// evict drops expired entries from the tail, then least recently used
// entries until the count and byte bounds hold. The newest entry is kept
// even when it alone exceeds MaxBytes.
func (m *MemoryBackend) evict() {
	for m.tail != nil && m.expired(m.tail) {
		m.remove(m.tail)
	}
	for m.tail != nil && m.tail != m.head {
		overCount := m.config.MaxEntries > 0 && len(m.items) > m.config.MaxEntries
		overBytes := m.config.MaxBytes > 0 && m.bytes > m.config.MaxBytes
		if !overCount && !overBytes {
			return
		}
		m.remove(m.tail)
	}
}

func (m *MemoryBackend) remove(node *lruNode) {
	m.unlink(node)
	delete(m.items, node.key)
	m.bytes -= int64(len(node.value))
}

// addToHead 添加节点到头部 O(1)
func (m *MemoryBackend) addToHead(node *lruNode) {
	node.prev = nil
	node.next = m.head
	if m.head != nil {
		m.head.prev = node
	}
	m.head = node
	if m.tail == nil {
		m.tail = node
	}
}

// unlink 从链表中移除节点 O(1)
func (m *MemoryBackend) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		m.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		m.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

// moveToHead 移动节点到头部 O(1)
func (m *MemoryBackend) moveToHead(node *lruNode) {
	if node == m.head {
		return
	}
	m.unlink(node)
	m.addToHead(node)
}
