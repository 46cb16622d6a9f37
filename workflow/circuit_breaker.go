package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常放行
	CircuitClosed CircuitState = iota
	// CircuitOpen 拒绝调用
	CircuitOpen
	// CircuitHalfOpen 允许少量探测调用
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the per-agent breakers of an executor.
type CircuitBreakerConfig struct {
	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxProbes 半开状态允许的探测调用数
	HalfOpenMaxProbes int `json:"half_open_max_probes" yaml:"half_open_max_probes"`
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		SuccessThreshold:  2,
	}
}

// CircuitBreaker guards the invocations of one agent.
type CircuitBreaker struct {
	agentID   string
	config    CircuitBreakerConfig
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	now       func() time.Time
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewCircuitBreaker creates a closed breaker for agentID.
func NewCircuitBreaker(agentID string, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		agentID: agentID,
		config:  config,
		now:     time.Now,
		logger:  logger.With(zap.String("agent_id", agentID)),
	}
}

// Allow returns nil when a call may proceed and a CIRCUIT_OPEN error
// otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		// 恢复时间已到，转入半开
		if cb.now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
			cb.probes = 1
			cb.successes = 0
			return nil
		}
		return types.Errorf(types.ErrCircuitOpen,
			"circuit open for agent %s after %d consecutive failures", cb.agentID, cb.failures).WithRetryable(true)
	case CircuitHalfOpen:
		if cb.probes < cb.config.HalfOpenMaxProbes {
			cb.probes++
			return nil
		}
		return types.Errorf(types.ErrCircuitOpen,
			"circuit half-open for agent %s: max probes reached", cb.agentID).WithRetryable(true)
	default:
		return nil
	}
}

// RecordSuccess 记录一次成功
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.transitionTo(CircuitClosed, "probes succeeded")
		}
	}
}

// RecordFailure 记录一次失败
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transitionTo(CircuitOpen, "failure threshold reached")
		}
	case CircuitHalfOpen:
		// 半开状态下任何失败都重新熔断
		cb.successes = 0
		cb.openedAt = cb.now()
		cb.transitionTo(CircuitOpen, "probe failed")
	}
}

// State 返回当前状态
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed, "manual reset")
	}
}

// transitionTo 必须在锁内调用
func (cb *CircuitBreaker) transitionTo(next CircuitState, reason string) {
	prev := cb.state
	cb.state = next
	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", prev.String()),
		zap.String("new_state", next.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))
}

// CircuitBreakerRegistry holds one breaker per agent id.
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewCircuitBreakerRegistry 创建熔断器注册表
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// GetOrCreate 获取或创建 agent 的熔断器
func (r *CircuitBreakerRegistry) GetOrCreate(agentID string) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[agentID]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	// 双重检查
	if cb, ok := r.breakers[agentID]; ok {
		return cb
	}
	cb := NewCircuitBreaker(agentID, r.config, r.logger)
	r.breakers[agentID] = cb
	return cb
}

// States 返回所有熔断器状态
func (r *CircuitBreakerRegistry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make(map[string]CircuitState, len(r.breakers))
	for id, cb := range r.breakers {
		states[id] = cb.State()
	}
	return states
}

// ResetAll 重置所有熔断器
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
