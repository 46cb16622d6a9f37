package agent

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited bounds how often the wrapped agent is invoked. Waiting for a
// token respects the call context.
type RateLimited struct {
	Agent
	limiter *rate.Limiter
}

// NewRateLimited wraps a with a token bucket of rps requests per second
// and the given burst.
func NewRateLimited(a Agent, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Agent: a, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Invoke(ctx context.Context, in *Input) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", Timeout("rate limiter wait: " + err.Error()).WithCause(err)
	}
	return r.Agent.Invoke(ctx, in)
}

// Fingerprint forwards to the wrapped agent.
func (r *RateLimited) Fingerprint() string {
	return FingerprintOf(r.Agent)
}
