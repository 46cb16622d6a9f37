package metrics

import (
	"context"
	"time"

	"github.com/BaSui01/agentgraph/llm"
)

type instrumentedProvider struct {
	next      llm.Provider
	collector *Collector
}

// InstrumentProvider wraps p so every completion is recorded on c.
func InstrumentProvider(p llm.Provider, c *Collector) llm.Provider {
	if c == nil {
		return p
	}
	return &instrumentedProvider{next: p, collector: c}
}

func (p *instrumentedProvider) Name() string { return p.next.Name() }

func (p *instrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.next.Completion(ctx, req)

	model := req.Model
	status := "success"
	var prompt, completion int
	if err != nil {
		status = "error"
	} else if resp != nil {
		if resp.Model != "" {
			model = resp.Model
		}
		prompt = resp.Usage.PromptTokens
		completion = resp.Usage.CompletionTokens
	}
	p.collector.RecordLLMRequest(p.next.Name(), model, status, time.Since(start), prompt, completion)
	return resp, err
}
