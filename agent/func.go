package agent

import "context"

// InvokeFunc is the signature of a function-backed agent.
type InvokeFunc func(ctx context.Context, in *Input) (string, error)

// FuncAgent adapts a plain function to Agent.
type FuncAgent struct {
	id          string
	name        string
	fn          InvokeFunc
	fingerprint string
}

// FuncOption configures a FuncAgent.
type FuncOption func(*FuncAgent)

// WithName sets the display name.
func WithName(name string) FuncOption {
	return func(a *FuncAgent) { a.name = name }
}

// WithFingerprint sets the cache fingerprint.
func WithFingerprint(fp string) FuncOption {
	return func(a *FuncAgent) { a.fingerprint = fp }
}

// NewFuncAgent creates a FuncAgent.
func NewFuncAgent(id string, fn InvokeFunc, opts ...FuncOption) *FuncAgent {
	a := &FuncAgent{id: id, name: id, fn: fn}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FuncAgent) ID() string          { return a.id }
func (a *FuncAgent) Name() string        { return a.name }
func (a *FuncAgent) Fingerprint() string { return a.fingerprint }

func (a *FuncAgent) Invoke(ctx context.Context, in *Input) (string, error) {
	return a.fn(ctx, in)
}
