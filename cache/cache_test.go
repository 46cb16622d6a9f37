package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

type eventCounter struct {
	mu     sync.Mutex
	events map[string]int
}

func (e *eventCounter) RecordCacheEvent(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		e.events = map[string]int{}
	}
	e.events[event]++
}

func (e *eventCounter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[event]
}

type failingBackend struct{ err error }

func (f failingBackend) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Put(context.Context, string, []byte) error   { return f.err }
func (f failingBackend) Delete(context.Context, string) error        { return f.err }

func TestResultCache_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &eventCounter{}
	c := New(NewMemoryBackend(DefaultMemoryConfig()), WithPrefix("t:"), WithRecorder(rec), WithLogger(zap.NewNop()))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", []byte("value")))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	// last writer wins
	require.NoError(t, c.Put(ctx, "k", []byte("value2")))
	got, _ = c.Get(ctx, "k")
	assert.Equal(t, []byte("value2"), got)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(2), stats.Puts)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)
	assert.Equal(t, 2, rec.count("hit"))
	assert.Equal(t, 2, rec.count("put"))

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestResultCache_PrefixIsApplied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend(DefaultMemoryConfig())
	c := New(backend, WithPrefix("ns:"))
	require.NoError(t, c.Put(ctx, "abc", []byte("x")))

	_, err := backend.Get(ctx, "ns:abc")
	assert.NoError(t, err)
	_, err = backend.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultCache_CorruptionIsMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend(DefaultMemoryConfig())
	rec := &eventCounter{}
	c := New(backend, WithPrefix(""), WithRecorder(rec))

	require.NoError(t, backend.Put(ctx, "bad", []byte("garbage bytes that are not an envelope")))
	_, ok := c.Get(ctx, "bad")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Corruptions)
	assert.Equal(t, 1, rec.count("corruption"))
}

func TestResultCache_ForgedSizeIsMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend(DefaultMemoryConfig())
	c := New(backend, WithPrefix(""))

	raw := Encode([]byte("cached output"), time.Now())
	binary.BigEndian.PutUint64(raw[13:21], 1<<62)
	require.NoError(t, backend.Put(ctx, "forged", raw))

	var ok bool
	require.NotPanics(t, func() { _, ok = c.Get(ctx, "forged") })
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Corruptions)
}

func TestResultCache_BackendErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(failingBackend{err: errors.New("disk on fire")})

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	err := c.Put(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.Equal(t, types.ErrCache, types.GetErrorCode(err))
	assert.Equal(t, uint64(2), c.Stats().Errors)
}

func TestResultCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(NewMemoryBackend(DefaultMemoryConfig()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Put(ctx, "shared", []byte("same"))
				if v, ok := c.Get(ctx, "shared"); ok {
					assert.Equal(t, []byte("same"), v)
				}
			}
		}()
	}
	wg.Wait()
}

func TestResultCache_ClockStampsEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewMemoryBackend(DefaultMemoryConfig())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(backend, WithPrefix(""), WithClock(func() time.Time { return fixed }))
	require.NoError(t, c.Put(ctx, "k", []byte("v")))

	raw, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	entry, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, entry.CreatedAt.Equal(fixed))
}
