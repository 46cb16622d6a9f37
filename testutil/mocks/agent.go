package mocks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentgraph/agent"
)

// ErrScripted is returned by ScriptedAgent for scripted failures.
var ErrScripted = errors.New("scripted failure")

// ScriptedAgent is a test agent whose behaviour is configured per call:
// optional initial failures, a fixed delay, and an output function.
type ScriptedAgent struct {
	id        string
	output    func(in *agent.Input) string
	failTimes int
	failErr   error
	delay     time.Duration
	fp        string

	calls    atomic.Int32
	mu       sync.Mutex
	inputs   []*agent.Input
	inflight atomic.Int32
	peak     atomic.Int32
}

// NewScriptedAgent returns an agent that echoes "<id>(<input text>)".
func NewScriptedAgent(id string) *ScriptedAgent {
	return &ScriptedAgent{
		id: id,
		output: func(in *agent.Input) string {
			return id + "(" + in.Text + ")"
		},
	}
}

// Returns makes every successful call return out.
func (s *ScriptedAgent) Returns(out string) *ScriptedAgent {
	s.output = func(*agent.Input) string { return out }
	return s
}

// ReturnsFunc sets the output function.
func (s *ScriptedAgent) ReturnsFunc(fn func(in *agent.Input) string) *ScriptedAgent {
	s.output = fn
	return s
}

// FailTimes makes the first n calls fail with a provider error.
func (s *ScriptedAgent) FailTimes(n int) *ScriptedAgent {
	s.failTimes = n
	return s
}

// AlwaysFail makes every call fail with err (ErrScripted when nil).
func (s *ScriptedAgent) AlwaysFail(err error) *ScriptedAgent {
	s.failTimes = int(^uint(0) >> 1)
	s.failErr = err
	return s
}

// WithDelay makes each call take d (or until ctx is done).
func (s *ScriptedAgent) WithDelay(d time.Duration) *ScriptedAgent {
	s.delay = d
	return s
}

// WithFingerprint sets the cache fingerprint.
func (s *ScriptedAgent) WithFingerprint(fp string) *ScriptedAgent {
	s.fp = fp
	return s
}

func (s *ScriptedAgent) ID() string          { return s.id }
func (s *ScriptedAgent) Name() string        { return s.id }
func (s *ScriptedAgent) Fingerprint() string { return s.fp }

func (s *ScriptedAgent) Invoke(ctx context.Context, in *agent.Input) (string, error) {
	n := int(s.calls.Add(1))
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	s.mu.Lock()
	cp := *in
	s.inputs = append(s.inputs, &cp)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", agent.Classify(ctx.Err())
		}
	}

	if n <= s.failTimes {
		if s.failErr != nil {
			return "", s.failErr
		}
		return "", agent.ProviderError("scripted failure").WithCause(ErrScripted)
	}
	return s.output(in), nil
}

// Calls returns how many times Invoke ran.
func (s *ScriptedAgent) Calls() int { return int(s.calls.Load()) }

// PeakConcurrency returns the largest number of overlapping calls seen.
func (s *ScriptedAgent) PeakConcurrency() int { return int(s.peak.Load()) }

// Inputs returns copies of the inputs received so far.
func (s *ScriptedAgent) Inputs() []*agent.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*agent.Input, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// LastInput returns the most recent input, or nil.
func (s *ScriptedAgent) LastInput() *agent.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) == 0 {
		return nil
	}
	return s.inputs[len(s.inputs)-1]
}
