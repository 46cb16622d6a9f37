package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Strategy 退避策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy 解析配置中的退避策略名称，空字符串视为 exponential
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyExponential:
		return StrategyExponential, nil
	case StrategyFixed:
		return StrategyFixed, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q", s)
	}
}

const maxDuration = time.Duration(math.MaxInt64)

// Backoff 计算第 n 次重试前的等待时间（n 从 1 开始）
type Backoff struct {
	Strategy     Strategy      `json:"strategy" yaml:"strategy"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	Jitter       bool          `json:"jitter" yaml:"jitter"`
}

// DefaultBackoff 返回默认的指数退避
func DefaultBackoff() Backoff {
	return Backoff{
		Strategy:     StrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// FixedBackoff 返回固定间隔退避
func FixedBackoff(d time.Duration) Backoff {
	return Backoff{Strategy: StrategyFixed, InitialDelay: d, MaxDelay: d, Multiplier: 1}
}

// Delay 返回第 attempt 次重试前的延迟。attempt < 1 时返回 0。
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.InitialDelay <= 0 {
		return 0
	}

	delay := float64(b.InitialDelay)
	if b.Strategy != StrategyFixed {
		mult := b.Multiplier
		if mult < 1.0 {
			mult = 2.0
		}
		// delay = initial * multiplier^(attempt-1)
		delay = delay * math.Pow(mult, float64(attempt-1))
		if math.IsInf(delay, 0) || math.IsNaN(delay) {
			delay = float64(maxDuration)
		}
	}

	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	// ±25% 抖动
	if b.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(b.InitialDelay) && !b.Jitter {
		delay = float64(b.InitialDelay)
	}
	if delay < 0 {
		delay = 0
	}
	// float64 超出 int64 时转换结果未定义
	if delay >= float64(maxDuration) {
		return maxDuration
	}

	return time.Duration(delay)
}

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries int // 最大重试次数（0 表示不重试）
	Backoff    Backoff
	// RetryIf 判断错误是否可重试；为 nil 时使用 RetryableErrors，二者皆空则重试所有错误
	RetryIf         func(err error) bool
	RetryableErrors []error
	OnRetry         func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		Backoff:    DefaultBackoff(),
	}
}

// Retryer 重试器接口
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger.With(zap.String("component", "retryer")),
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.policy.Backoff.Delay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return nil, lastErr
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("重试 %d 次后仍失败: %w", r.policy.MaxRetries, lastErr)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r.policy.RetryIf != nil {
		return r.policy.RetryIf(err)
	}
	if len(r.policy.RetryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

// Value runs fn under r and returns the value of the first successful call.
func Value[T any](ctx context.Context, r Retryer, fn func() (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
