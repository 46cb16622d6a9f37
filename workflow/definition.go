package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentgraph/llm/retry"
)

// GraphDefinition is the serializable form of a graph. Agents become
// nodes in declaration order; connections become edges.
type GraphDefinition struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Entries     []string               `json:"entries,omitempty" yaml:"entries,omitempty"`
	Agents      []AgentDefinition      `json:"agents" yaml:"agents"`
	Connections []ConnectionDefinition `json:"connections" yaml:"connections"`
	Metadata    map[string]any         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// AgentDefinition describes one agent node.
type AgentDefinition struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Kind selects the registered factory (echo, template, chat, ...).
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// template
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// chat
	Provider       string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt   string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	PlanningPrompt string   `json:"planning_prompt,omitempty" yaml:"planning_prompt,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxLoops       int      `json:"max_loops,omitempty" yaml:"max_loops,omitempty"`
	StopWords      []string `json:"stop_words,omitempty" yaml:"stop_words,omitempty"`

	// node
	Timeout string           `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry   *RetryDefinition `json:"retry,omitempty" yaml:"retry,omitempty"`
	Reads   []string         `json:"reads,omitempty" yaml:"reads,omitempty"`
	Publish string           `json:"publish,omitempty" yaml:"publish,omitempty"`
	NoCache bool             `json:"no_cache,omitempty" yaml:"no_cache,omitempty"`
}

func (d AgentDefinition) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// RetryDefinition is the serializable retry policy of a node.
type RetryDefinition struct {
	MaxAttempts  int    `json:"max_attempts" yaml:"max_attempts"`
	Backoff      string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Jitter       bool   `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// Policy converts the definition, filling unset delays from the default.
func (d RetryDefinition) Policy() (RetryPolicy, error) {
	p := DefaultRetryPolicy()
	p.MaxAttempts = d.MaxAttempts
	p.Backoff.Jitter = d.Jitter

	strategy, err := retry.ParseStrategy(d.Backoff)
	if err != nil {
		return RetryPolicy{}, err
	}
	p.Backoff.Strategy = strategy
	if strategy == retry.StrategyFixed {
		p.Backoff.Multiplier = 1
	}
	if d.InitialDelay != "" {
		if p.Backoff.InitialDelay, err = time.ParseDuration(d.InitialDelay); err != nil {
			return RetryPolicy{}, fmt.Errorf("initial_delay: %w", err)
		}
	}
	if d.MaxDelay != "" {
		if p.Backoff.MaxDelay, err = time.ParseDuration(d.MaxDelay); err != nil {
			return RetryPolicy{}, fmt.Errorf("max_delay: %w", err)
		}
	}
	return p, nil
}

// ConnectionDefinition describes one edge.
type ConnectionDefinition struct {
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Optional  bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
}

// UnmarshalJSON deserializes a GraphDefinition from JSON
func (d *GraphDefinition) UnmarshalJSON(data []byte) error {
	type Alias GraphDefinition
	if err := json.Unmarshal(data, (*Alias)(d)); err != nil {
		return fmt.Errorf("failed to unmarshal GraphDefinition: %w", err)
	}
	return nil
}

// UnmarshalYAML deserializes a GraphDefinition from YAML
func (d *GraphDefinition) UnmarshalYAML(node *yaml.Node) error {
	type Alias GraphDefinition
	if err := node.Decode((*Alias)(d)); err != nil {
		return fmt.Errorf("failed to unmarshal GraphDefinition: %w", err)
	}
	return nil
}

// ToJSON converts a GraphDefinition to an indented JSON string
func (d *GraphDefinition) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a GraphDefinition to a YAML string
func (d *GraphDefinition) ToYAML() (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// ParseJSON decodes and validates a JSON definition.
func ParseJSON(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// ParseYAML decodes and validates a YAML definition.
func ParseYAML(data []byte) (*GraphDefinition, error) {
	var def GraphDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &def, nil
}

// LoadDefinition reads a definition file; .json files are parsed as JSON,
// everything else as YAML.
func LoadDefinition(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// Validate checks the definition without building agents.
func (d *GraphDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(d.Agents) == 0 {
		return fmt.Errorf("workflow must have at least one agent")
	}

	ids := make(map[string]bool, len(d.Agents))
	for _, a := range d.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent id is required")
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate agent id: %s", a.ID)
		}
		ids[a.ID] = true
		if a.Timeout != "" {
			if _, err := time.ParseDuration(a.Timeout); err != nil {
				return fmt.Errorf("agent %s: invalid timeout: %w", a.ID, err)
			}
		}
		if a.Retry != nil {
			if _, err := a.Retry.Policy(); err != nil {
				return fmt.Errorf("agent %s: invalid retry: %w", a.ID, err)
			}
		}
	}

	for _, c := range d.Connections {
		if !ids[c.From] {
			return fmt.Errorf("connection %s -> %s: unknown source", c.From, c.To)
		}
		if !ids[c.To] {
			return fmt.Errorf("connection %s -> %s: unknown target", c.From, c.To)
		}
	}
	for _, e := range d.Entries {
		if !ids[e] {
			return fmt.Errorf("entry %s does not exist", e)
		}
	}
	return nil
}

// Build creates and validates the graph using reg to resolve names.
func (d *GraphDefinition) Build(reg *Registry) (*Graph, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = NewRegistry(nil)
	}

	b := NewGraphBuilder(d.Name).WithLogger(reg.logger)
	for _, ad := range d.Agents {
		a, err := reg.Agent(ad)
		if err != nil {
			return nil, err
		}
		nb := b.AddNode(a).WithID(ad.ID)
		if ad.Timeout != "" {
			timeout, _ := time.ParseDuration(ad.Timeout)
			nb.WithTimeout(timeout)
		}
		if ad.Retry != nil {
			policy, _ := ad.Retry.Policy()
			nb.WithRetry(policy)
		}
		if len(ad.Reads) > 0 {
			nb.Reads(ad.Reads...)
		}
		if ad.Publish != "" {
			nb.Publish(ad.Publish)
		}
		if ad.NoCache {
			nb.NoCache()
		}
		nb.Done()
	}

	for _, c := range d.Connections {
		opts, err := c.edgeOptions(reg)
		if err != nil {
			return nil, err
		}
		b.AddEdge(c.From, c.To, opts...)
	}
	if len(d.Entries) > 0 {
		b.Entry(d.Entries...)
	}
	return b.Build()
}

func (c ConnectionDefinition) edgeOptions(reg *Registry) ([]EdgeOption, error) {
	var opts []EdgeOption
	if c.Transform != "" {
		fn, err := reg.Transform(c.Transform)
		if err != nil {
			return nil, fmt.Errorf("connection %s -> %s: %w", c.From, c.To, err)
		}
		opts = append(opts, WithTransform(fn))
	}
	if c.Condition != "" {
		fn, err := reg.Condition(c.Condition)
		if err != nil {
			return nil, fmt.Errorf("connection %s -> %s: %w", c.From, c.To, err)
		}
		opts = append(opts, WithCondition(fn))
	}
	if c.Optional {
		opts = append(opts, Optional())
	}
	label := c.Label
	if label == "" {
		label = strings.Trim(strings.Join([]string{c.Transform, c.Condition}, " "), " ")
	}
	if label != "" {
		opts = append(opts, WithLabel(label))
	}
	return opts, nil
}
