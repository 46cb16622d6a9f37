package llm

import (
	"context"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// ChatRequest 是发往 Provider 的一次聊天请求。
type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []types.Message   `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int           `json:"index"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Message      types.Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Content 返回第一个 choice 的文本；没有 choice 时 ok 为 false。
func (r *ChatResponse) Content() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

// Provider 定义了 LLM 适配接口。具体的模型服务商集成不在本仓库内，
// 由调用方实现后注入 agent.ChatAgent。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// ProviderFunc 将普通函数适配为 Provider，便于测试与简单集成。
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

func (p ProviderFunc) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.Fn(ctx, req)
}

func (p ProviderFunc) Name() string { return p.ProviderName }
