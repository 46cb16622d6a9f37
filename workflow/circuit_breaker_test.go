package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("agent", CircuitBreakerConfig{
		FailureThreshold:  threshold,
		RecoveryTimeout:   time.Minute,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}, nil)
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())

	// 成功会清零连续失败计数
	cb.RecordSuccess()
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.True(t, types.IsRetryable(err))
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	clock.advance(30 * time.Second)
	assert.Error(t, cb.Allow())

	clock.advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.Error(t, cb.Allow(), "only one probe allowed")

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	cb.RecordFailure()
	clock.advance(time.Minute)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Error(t, cb.Allow())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerRegistry(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	reg := NewCircuitBreakerRegistry(cfg, nil)

	a := reg.GetOrCreate("a")
	assert.Same(t, a, reg.GetOrCreate("a"))
	reg.GetOrCreate("b")

	a.RecordFailure()
	assert.Equal(t, map[string]CircuitState{"a": CircuitOpen, "b": CircuitClosed}, reg.States())

	reg.ResetAll()
	assert.Equal(t, CircuitClosed, a.State())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
}
