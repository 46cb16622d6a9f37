package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

var (
	// ErrNotFound is returned by backends when a key is absent.
	ErrNotFound = types.NewError(types.ErrCacheMiss, "cache miss")
	// ErrCorruption marks an entry that could not be decoded.
	ErrCorruption = types.NewError(types.ErrCacheCorruption, "cache entry corrupted")
	// ErrBackend matches errors returned by Put and Delete when the backend fails.
	ErrBackend = types.NewError(types.ErrCache, "cache backend error")
)

// Backend stores encoded entries as opaque bytes.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives cache events for metrics. Events are "hit", "miss",
// "put", "corruption" and "error".
type Recorder interface {
	RecordCacheEvent(event string)
}

// Stats is a point-in-time copy of the cache counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Puts        uint64 `json:"puts"`
	Corruptions uint64 `json:"corruptions"`
	Errors      uint64 `json:"errors"`
}

// HitRate returns hits / (hits + misses).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithPrefix namespaces every key written to the backend.
func WithPrefix(prefix string) Option {
	return func(c *ResultCache) { c.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *ResultCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder reports cache events to r.
func WithRecorder(r Recorder) Option {
	return func(c *ResultCache) { c.recorder = r }
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// ResultCache memoizes agent outputs keyed by Key. Values are compressed
// and checksummed; entries that fail to decode are reported as misses.
type ResultCache struct {
	backend  Backend
	prefix   string
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	puts        atomic.Uint64
	corruptions atomic.Uint64
	errs        atomic.Uint64
}

// New creates a ResultCache on top of backend.
func New(backend Backend, opts ...Option) *ResultCache {
	c := &ResultCache{
		backend: backend,
		prefix:  "agentgraph:",
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "result_cache"))
	return c
}

// Get returns the cached value for key. Absent, unreadable and corrupted
// entries all report ok=false.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.backend.Get(ctx, c.prefix+key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.errs.Add(1)
			c.record("error")
			c.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		c.misses.Add(1)
		c.record("miss")
		return nil, false
	}

	entry, err := Decode(raw)
	if err != nil {
		c.corruptions.Add(1)
		c.misses.Add(1)
		c.record("corruption")
		c.record("miss")
		c.logger.Warn("corrupted cache entry, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	c.hits.Add(1)
	c.record("hit")
	return entry.Data, true
}

// Put stores value under key. Same-key writes are idempotent; the last
// writer wins.
func (c *ResultCache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.backend.Put(ctx, c.prefix+key, Encode(value, c.now())); err != nil {
		c.errs.Add(1)
		c.record("error")
		return types.NewError(types.ErrCache, "cache write failed").WithCause(err)
	}
	c.puts.Add(1)
	c.record("put")
	return nil
}

// Delete removes key.
func (c *ResultCache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, c.prefix+key); err != nil && !errors.Is(err, ErrNotFound) {
		return types.NewError(types.ErrCache, "cache delete failed").WithCause(err)
	}
	return nil
}

// Stats returns the current counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Puts:        c.puts.Load(),
		Corruptions: c.corruptions.Load(),
		Errors:      c.errs.Load(),
	}
}

// Backend returns the underlying backend.
func (c *ResultCache) Backend() Backend { return c.backend }

func (c *ResultCache) record(event string) {
	if c.recorder != nil {
		c.recorder.RecordCacheEvent(event)
	}
}
