package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/retry"
	"github.com/BaSui01/agentgraph/types"
)

// ChatConfig ChatAgent 配置
type ChatConfig struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	Description  string  `json:"description,omitempty" yaml:"description"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt"`
	UserName     string  `json:"user_name,omitempty" yaml:"user_name"`
	Model        string  `json:"model" yaml:"model"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature  float32 `json:"temperature,omitempty" yaml:"temperature"`

	// MaxLoops 每次调用的最大对话轮数；StopWords 命中即提前结束
	MaxLoops  int      `json:"max_loops,omitempty" yaml:"max_loops"`
	StopWords []string `json:"stop_words,omitempty" yaml:"stop_words"`

	// MemoryLimit 每个任务保留的消息数（<=0 不限制）
	MemoryLimit int `json:"memory_limit,omitempty" yaml:"memory_limit"`
	// MemoryTasks 最多保留的任务会话数，超出淘汰最久未写入的（<=0 不限制）
	MemoryTasks int `json:"memory_tasks,omitempty" yaml:"memory_tasks"`

	// PlanPrompt 非空时先生成计划并写入记忆
	PlanPrompt string `json:"planning_prompt,omitempty" yaml:"planning_prompt"`

	Autosave bool   `json:"autosave,omitempty" yaml:"autosave"`
	SaveDir  string `json:"save_dir,omitempty" yaml:"save_dir"`

	// ProviderRetries 单轮内对 Provider 的重试次数（0 表示不重试）。
	// 节点级重试由执行器负责，二者独立。
	ProviderRetries int           `json:"provider_retries,omitempty" yaml:"provider_retries"`
	ProviderBackoff retry.Backoff `json:"provider_backoff" yaml:"provider_backoff"`
}

// DefaultChatConfig 返回默认配置
func DefaultChatConfig(id string) ChatConfig {
	return ChatConfig{
		ID:           id,
		Name:         id,
		SystemPrompt: "You are a helpful assistant.",
		UserName:     "User",
		MaxLoops:     1,
		MemoryLimit:  50,
		MemoryTasks:  256,
		ProviderBackoff: retry.Backoff{
			Strategy:     retry.StrategyExponential,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// ChatAgent is an LLM-backed agent with bounded per-task conversation
// memory. Each Invoke runs up to MaxLoops chat turns and stops early when
// a response contains one of the stop words.
type ChatAgent struct {
	config   ChatConfig
	provider llm.Provider
	memory   *ShortMemory
	retryer  retry.Retryer
	logger   *zap.Logger
}

// NewChatAgent 创建 ChatAgent
func NewChatAgent(cfg ChatConfig, provider llm.Provider, logger *zap.Logger) (*ChatAgent, error) {
	if provider == nil {
		return nil, ErrProviderNotSet
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("chat agent id is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MaxLoops < 1 {
		cfg.MaxLoops = 1
	}
	if cfg.UserName == "" {
		cfg.UserName = "User"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chat_agent"), zap.String("agent_id", cfg.ID))

	return &ChatAgent{
		config:   cfg,
		provider: provider,
		memory:   NewShortMemory(cfg.MemoryLimit, cfg.MemoryTasks),
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries: cfg.ProviderRetries,
			Backoff:    cfg.ProviderBackoff,
		}, logger),
		logger: logger,
	}, nil
}

func (a *ChatAgent) ID() string   { return a.config.ID }
func (a *ChatAgent) Name() string { return a.config.Name }

// Config returns the agent configuration.
func (a *ChatAgent) Config() ChatConfig { return a.config }

// Memory exposes the conversation memory.
func (a *ChatAgent) Memory() *ShortMemory { return a.memory }

// Fingerprint identifies the configuration that influences responses.
func (a *ChatAgent) Fingerprint() string {
	h := xxhash.New()
	for _, s := range []string{
		a.provider.Name(),
		a.config.Model,
		a.config.SystemPrompt,
		a.config.PlanPrompt,
		strconv.Itoa(a.config.MaxTokens),
		strconv.FormatFloat(float64(a.config.Temperature), 'f', -1, 32),
		strconv.Itoa(a.config.MaxLoops),
		strings.Join(a.config.StopWords, "\x1f"),
	} {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Invoke 执行一次对话任务
func (a *ChatAgent) Invoke(ctx context.Context, in *Input) (string, error) {
	task := in.Text
	start := time.Now()

	a.memory.Add(task, types.NewUserMessage(task).WithName(a.config.UserName))

	if a.config.PlanPrompt != "" {
		plan, err := a.complete(ctx, []types.Message{
			types.NewSystemMessage(a.config.SystemPrompt),
			types.NewUserMessage(a.config.PlanPrompt + " " + task),
		})
		if err != nil {
			a.onFailure(ctx, task, err)
			return "", err
		}
		a.logger.Debug("plan generated", append(ctxkeys.Fields(ctx), zap.Int("length", len(plan)))...)
		a.remember(task, plan)
	}

	a.autosave(task)

	var responses []string
	for loop := 0; loop < a.config.MaxLoops; loop++ {
		messages := append([]types.Message{types.NewSystemMessage(a.config.SystemPrompt)}, a.memory.History(task)...)
		resp, err := a.complete(ctx, messages)
		if err != nil {
			a.onFailure(ctx, task, err)
			return "", err
		}

		a.remember(task, resp)
		responses = append(responses, resp)

		if a.isComplete(resp) {
			break
		}
	}

	a.autosave(task)

	a.logger.Debug("chat completed", append(ctxkeys.Fields(ctx),
		zap.Int("turns", len(responses)),
		zap.Duration("duration", time.Since(start)),
	)...)
	return strings.Join(responses, ""), nil
}

func (a *ChatAgent) complete(ctx context.Context, messages []types.Message) (string, error) {
	req := &llm.ChatRequest{
		Model:       a.config.Model,
		Messages:    messages,
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
		Stop:        a.config.StopWords,
	}

	content, err := retry.Value(ctx, a.retryer, func() (string, error) {
		resp, err := a.provider.Completion(ctx, req)
		if err != nil {
			return "", Classify(err)
		}
		content, ok := resp.Content()
		if !ok {
			return "", InvalidResponse("provider returned no choices")
		}
		return content, nil
	})
	if err != nil {
		return "", Classify(err)
	}
	return content, nil
}

func (a *ChatAgent) remember(task, content string) {
	a.memory.Add(task, types.NewAssistantMessage(content).WithName(a.config.Name))
}

func (a *ChatAgent) isComplete(resp string) bool {
	for _, w := range a.config.StopWords {
		if w != "" && strings.Contains(resp, w) {
			return true
		}
	}
	return false
}

func (a *ChatAgent) onFailure(ctx context.Context, task string, err error) {
	a.logger.Warn("chat task failed", append(ctxkeys.Fields(ctx), zap.Error(err))...)
	a.autosave(task)
}

// =============================================================================
// 💾 Autosave
// =============================================================================

// StatePath returns where the conversation of task is saved: the lower 32
// bits of the task's xxhash name the file.
func (a *ChatAgent) StatePath(task string) string {
	hash := xxhash.Sum64String(task) & 0xFFFFFFFF
	return filepath.Join(a.config.SaveDir, fmt.Sprintf("%s_%x.json", a.config.Name, hash))
}

func (a *ChatAgent) autosave(task string) {
	if !a.config.Autosave || a.config.SaveDir == "" {
		return
	}
	if err := a.SaveTaskState(task); err != nil {
		a.logger.Error("failed to save task state", zap.Error(err))
	}
}

// SaveTaskState writes the conversation of task as indented JSON.
func (a *ChatAgent) SaveTaskState(task string) error {
	if a.config.SaveDir == "" {
		return fmt.Errorf("save directory not configured")
	}
	if err := os.MkdirAll(a.config.SaveDir, 0o755); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}

	doc := struct {
		Agent   string          `json:"agent"`
		Task    string          `json:"task"`
		SavedAt time.Time       `json:"saved_at"`
		History []types.Message `json:"history"`
	}{a.config.Name, task, time.Now(), a.memory.History(task)}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	return os.WriteFile(a.StatePath(task), data, 0o644)
}
