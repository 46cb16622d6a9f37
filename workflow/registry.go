package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/llm"
)

// AgentFactory builds an agent from its definition.
type AgentFactory func(def AgentDefinition, reg *Registry) (agent.Agent, error)

// Registry resolves the names used in graph definitions: agent kinds,
// edge transforms, edge conditions and LLM providers.
type Registry struct {
	agents     map[string]AgentFactory
	transforms map[string]TransformFunc
	conditions map[string]ConditionFunc
	providers  map[string]llm.Provider
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewRegistry returns a registry preloaded with the builtins.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		agents:     make(map[string]AgentFactory),
		transforms: make(map[string]TransformFunc),
		conditions: make(map[string]ConditionFunc),
		providers:  make(map[string]llm.Provider),
		logger:     logger,
	}

	r.RegisterAgent("echo", echoFactory)
	r.RegisterAgent("template", templateFactory)
	r.RegisterAgent("chat", chatFactory)

	r.RegisterTransform("upper", strings.ToUpper)
	r.RegisterTransform("lower", strings.ToLower)
	r.RegisterTransform("trim", strings.TrimSpace)

	r.RegisterCondition("non_empty", func(out string) bool { return strings.TrimSpace(out) != "" })
	return r
}

// RegisterAgent 注册 agent 类型
func (r *Registry) RegisterAgent(kind string, f AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[kind] = f
}

// RegisterTransform 注册边变换
func (r *Registry) RegisterTransform(name string, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = fn
}

// RegisterCondition 注册边条件
func (r *Registry) RegisterCondition(name string, fn ConditionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[name] = fn
}

// RegisterProvider makes an LLM provider available to chat agents.
func (r *Registry) RegisterProvider(name string, p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Agent builds the agent described by def.
func (r *Registry) Agent(def AgentDefinition) (agent.Agent, error) {
	kind := def.Kind
	if kind == "" {
		kind = "echo"
	}
	r.mu.RLock()
	f, ok := r.agents[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q (known: %s)", kind, strings.Join(r.AgentKinds(), ", "))
	}
	return f(def, r)
}

// Transform looks up a named transform.
func (r *Registry) Transform(name string) (TransformFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return fn, nil
}

// Condition looks up a named condition.
func (r *Registry) Condition(name string) (ConditionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.conditions[name]
	if !ok {
		return nil, fmt.Errorf("unknown condition %q", name)
	}
	return fn, nil
}

// Provider looks up a registered provider.
func (r *Registry) Provider(name string) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// AgentKinds returns the registered agent kinds, sorted.
func (r *Registry) AgentKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.agents))
	for k := range r.agents {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func echoFactory(def AgentDefinition, _ *Registry) (agent.Agent, error) {
	return agent.NewFuncAgent(def.ID, func(_ context.Context, in *agent.Input) (string, error) {
		return in.Text, nil
	}, agent.WithName(def.displayName()), agent.WithFingerprint("echo")), nil
}

func templateFactory(def AgentDefinition, _ *Registry) (agent.Agent, error) {
	if def.Template == "" {
		return nil, fmt.Errorf("agent %s: template is required", def.ID)
	}
	return agent.NewTemplateAgent(def.ID, def.Template)
}

func chatFactory(def AgentDefinition, reg *Registry) (agent.Agent, error) {
	if def.Provider == "" {
		return nil, fmt.Errorf("agent %s: provider is required", def.ID)
	}
	p, err := reg.Provider(def.Provider)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", def.ID, err)
	}

	cfg := agent.DefaultChatConfig(def.ID)
	cfg.Name = def.displayName()
	cfg.Description = def.Description
	if def.SystemPrompt != "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if def.Model != "" {
		cfg.Model = def.Model
	}
	if def.MaxTokens > 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if def.Temperature != nil {
		cfg.Temperature = *def.Temperature
	}
	if def.MaxLoops > 0 {
		cfg.MaxLoops = def.MaxLoops
	}
	cfg.StopWords = def.StopWords
	cfg.PlanPrompt = def.PlanningPrompt
	return agent.NewChatAgent(cfg, p, reg.logger)
}
