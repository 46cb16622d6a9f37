package workflow

import (
	"time"

	"github.com/BaSui01/agentgraph/llm/retry"
)

// RetryPolicy controls how a failed node is retried. MaxAttempts counts
// additional attempts after the first one; zero disables retries.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     retry.Backoff `json:"backoff" yaml:"backoff"`
}

// DefaultRetryPolicy 默认两次重试，指数退避
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff: retry.Backoff{
			Strategy:     retry.StrategyExponential,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// NoRetry fails a node on its first error.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// shouldRetry reports whether another attempt is allowed after the given
// number of invocations.
func (p RetryPolicy) shouldRetry(invocations int) bool {
	return invocations <= p.MaxAttempts
}

// delay returns the wait before the retry following the n-th invocation.
func (p RetryPolicy) delay(invocations int) time.Duration {
	return p.Backoff.Delay(invocations)
}
