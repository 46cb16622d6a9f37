package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/retry"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

const pipelineYAML = `
name: pipeline
agents:
  - id: draft
    kind: template
    template: "draft: {{ .Text }}"
    publish: draft
  - id: shout
    kind: echo
  - id: review
    kind: chat
    provider: echo
    model: offline
connections:
  - from: draft
    to: shout
    transform: upper
  - from: shout
    to: review
`

const brokenYAML = `
name: broken
agents:
  - id: start
    kind: echo
  - id: broken
    kind: template
    template: "{{ index .Parts 5 }}"
  - id: after
    kind: echo
connections:
  - from: start
    to: broken
  - from: broken
    to: after
`

const cyclicYAML = `
name: loop
agents:
  - id: a
    kind: echo
  - id: b
    kind: echo
connections:
  - from: a
    to: b
  - from: b
    to: a
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeConfig 写入测试配置，日志输出到临时文件避免干扰 stdout
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	base := fmt.Sprintf(`
log:
  level: error
  format: json
  output_paths: [%q]
executor:
  retry:
    max_attempts: 0
`, filepath.Join(dir, "agentgraph.log"))
	return writeFile(t, dir, "agentgraph.yaml", base+extra)
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// 🧪 命令分发
// =============================================================================

func TestExecute_Dispatch(t *testing.T) {
	code, out, _ := run("version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "AgentGraph dev")

	code, out, _ = run("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Commands:")

	code, _, errOut := run("frobnicate")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, _, _ = run()
	assert.Equal(t, exitError, code)
}

// =============================================================================
// 🧪 run
// =============================================================================

func TestRun_Pipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)

	code, out, errOut := run("run", "--config", cfg, "--input", "hello", wf)
	require.Equal(t, exitOK, code, errOut)

	assert.Contains(t, out, "state=completed")
	assert.Contains(t, out, "3 succeeded, 0 failed")
	assert.Contains(t, out, "== review ==\nDRAFT: HELLO")
	assert.Contains(t, out, "draft = draft: hello")
	assert.NotContains(t, out, "== shout ==")
}

func TestRun_JSONAndReportDir(t *testing.T) {
	dir := t.TempDir()
	reports := filepath.Join(dir, "reports")
	cfg := writeConfig(t, dir, fmt.Sprintf("reports:\n  output_dir: %q\n", reports))
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)

	code, out, errOut := run("run", "--config", cfg, "--json", "--sequential", "--input", "hi", wf)
	require.Equal(t, exitOK, code, errOut)

	var report workflow.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "pipeline", report.Graph)
	assert.Equal(t, []string{"draft", "shout", "review"}, report.ExecutionOrder)

	written, err := os.ReadFile(filepath.Join(reports, report.RunID+".json"))
	require.NoError(t, err)
	var saved workflow.RunReport
	require.NoError(t, json.Unmarshal(written, &saved))
	assert.Equal(t, report.RunID, saved.RunID)
}

func TestRun_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	wf := writeFile(t, dir, "broken.yaml", brokenYAML)

	code, out, _ := run("run", "--config", cfg, "--input", "x", wf)
	assert.Equal(t, exitPartial, code)
	assert.Contains(t, out, "1 succeeded, 1 failed, 1 skipped")
	assert.Contains(t, out, "upstream broken failed")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "")
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)
	loop := writeFile(t, dir, "loop.yaml", cyclicYAML)

	code, _, errOut := run("run", "--config", cfg)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "exactly one workflow file")

	code, _, errOut = run("run", "--config", cfg, filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "Failed to load workflow")

	code, _, errOut = run("run", "--config", cfg, loop)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "Invalid workflow")

	code, _, errOut = run("run", "--config", cfg, "--input", "a", "--input-file", wf, wf)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "mutually exclusive")

	bad := writeFile(t, dir, "bad.yaml", "executor:\n  concurrency_limit: 0\n")
	code, _, errOut = run("run", "--config", bad, wf)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "concurrency_limit")
}

func TestReadInput(t *testing.T) {
	got, err := readInput("inline", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = readInput("", "-", strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	path := writeFile(t, t.TempDir(), "input.txt", "from file")
	got, err = readInput("", path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)
}

func TestExitCode(t *testing.T) {
	ok := &workflow.RunReport{FinalState: workflow.RunCompleted, NodeResults: []workflow.NodeResult{
		{ID: "a", Status: workflow.StatusSucceeded},
	}}
	assert.Equal(t, exitOK, exitCode(ok))

	partial := &workflow.RunReport{FinalState: workflow.RunCompleted, NodeResults: []workflow.NodeResult{
		{ID: "a", Status: workflow.StatusSucceeded},
		{ID: "b", Status: workflow.StatusSkipped},
	}}
	assert.Equal(t, exitPartial, exitCode(partial))

	aborted := &workflow.RunReport{FinalState: workflow.RunAborted}
	assert.Equal(t, exitAborted, exitCode(aborted))
}

// =============================================================================
// 🧪 validate / dot
// =============================================================================

func TestValidateAndDot(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)
	loop := writeFile(t, dir, "loop.yaml", cyclicYAML)

	code, out, errOut := run("validate", wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "ok: pipeline (3 nodes, 2 edges)")
	assert.Contains(t, out, "order: draft -> shout -> review")

	code, _, errOut = run("validate", loop)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "Invalid workflow")

	code, out, _ = run("dot", wf)
	require.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(out, `digraph "pipeline" {`))
	assert.Contains(t, out, `"draft" -> "shout"`)
}

// =============================================================================
// 🧪 cache
// =============================================================================

func TestCache_FileBackend(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	cfg := writeConfig(t, dir, fmt.Sprintf("cache:\n  backend: file\n  dir: %q\n", cacheDir))
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)

	code, _, errOut := run("run", "--config", cfg, "--input", "hello", wf)
	require.Equal(t, exitOK, code, errOut)

	// 第二次运行全部命中缓存
	code, out, errOut := run("run", "--config", cfg, "--input", "hello", wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "3 cache hits")

	code, out, errOut = run("cache", "stats", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "entries: 3")

	code, out, errOut = run("cache", "purge", "--config", cfg, "--older-than", "1h")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "removed 0 entries")

	code, out, errOut = run("cache", "purge", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "removed 3 entries")
}

func TestCache_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, fmt.Sprintf(`
cache:
  backend: redis
  prefix: "cli:"
redis:
  addr: %q
  ttl: 1h
`, mr.Addr()))
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)

	code, _, errOut := run("run", "--config", cfg, "--input", "hello", wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Len(t, mr.Keys(), 3)

	code, out, errOut := run("cache", "stats", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "keys: 3")

	code, _, errOut = run("cache", "purge", "--config", cfg, "--older-than", "1h")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "not supported for redis")

	code, out, errOut = run("cache", "purge", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "removed 3 entries")
	assert.Empty(t, mr.Keys())
}

func TestCache_SQLBackendAndReports(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, fmt.Sprintf(`
cache:
  backend: sql
reports:
  store: sql
database:
  driver: sqlite
  name: %q
`, filepath.Join(dir, "agentgraph.db")))
	wf := writeFile(t, dir, "pipeline.yaml", pipelineYAML)

	code, _, errOut := run("run", "--config", cfg, "--input", "hello", wf)
	require.Equal(t, exitOK, code, errOut)

	code, out, errOut := run("cache", "stats", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "backend: sql (sqlite)")
	assert.Contains(t, out, "entries: 3")

	code, out, errOut = run("cache", "purge", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "removed 3 entries")
}

func TestCache_Errors(t *testing.T) {
	dir := t.TempDir()

	code, _, errOut := run("cache")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "subcommand required")

	disabled := writeConfig(t, dir, "cache:\n  enabled: false\n")
	code, _, errOut = run("cache", "stats", "--config", disabled)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "disabled")

	memory := writeFile(t, dir, "memory.yaml", "log:\n  level: error\n")
	code, _, errOut = run("cache", "purge", "--config", memory)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "process-local")

	code, _, errOut = run("cache", "shrink", "--config", memory)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "unknown cache subcommand")
}

// =============================================================================
// 🧪 组件装配
// =============================================================================

func TestExecutorConfig(t *testing.T) {
	c := config.DefaultExecutorConfig()
	c.Retry.Backoff = "fixed"
	c.Retry.Multiplier = 3
	c.CircuitBreaker.Enabled = true

	ec, err := executorConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 4, ec.ConcurrencyLimit)
	assert.Equal(t, 2*time.Minute, ec.NodeTimeout)
	assert.Equal(t, 2, ec.Retry.MaxAttempts)
	assert.Equal(t, retry.StrategyFixed, ec.Retry.Backoff.Strategy)
	assert.Equal(t, 1.0, ec.Retry.Backoff.Multiplier)
	require.NotNil(t, ec.CircuitBreaker)
	assert.Equal(t, 5, ec.CircuitBreaker.FailureThreshold)

	c.CircuitBreaker.Enabled = false
	ec, err = executorConfig(c)
	require.NoError(t, err)
	assert.Nil(t, ec.CircuitBreaker)

	c.Retry.Backoff = "linear"
	_, err = executorConfig(c)
	assert.Error(t, err)
}

func TestDatabaseAndRedisConfig(t *testing.T) {
	dc := config.DefaultDatabaseConfig()
	dbc := databaseConfig(dc)
	assert.Equal(t, "sqlite", dbc.Driver)
	assert.Equal(t, "agentgraph.db", dbc.DSN)
	assert.Equal(t, 25, dbc.Pool.MaxOpenConns)
	assert.NoError(t, dbc.Pool.Validate())

	rc := redisConfig(config.RedisConfig{Addr: "redis:6379", DB: 2, TTL: time.Hour})
	assert.Equal(t, "redis:6379", rc.Addr)
	assert.Equal(t, 2, rc.DB)
	assert.Equal(t, time.Hour, rc.DefaultTTL)
	assert.Equal(t, 10, rc.PoolSize)
}

func TestEchoProvider(t *testing.T) {
	p := echoProvider()
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model: "offline",
		Messages: []types.Message{
			types.NewSystemMessage("system"),
			types.NewUserMessage("first"),
			types.NewAssistantMessage("reply"),
			types.NewUserMessage("second"),
		},
	})
	require.NoError(t, err)
	content, ok := resp.Content()
	require.True(t, ok)
	assert.Equal(t, "second", content)
	assert.Equal(t, "echo", p.Name())
}

func TestApp_MetricsServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Metrics.Namespace = "cli_test"

	a, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	only, err := agent.NewTemplateAgent("only", "{{ .Text }}")
	require.NoError(t, err)
	g, err := workflow.NewGraphBuilder("served").AddNode(only).Done().Build()
	require.NoError(t, err)
	exec, err := a.Executor()
	require.NoError(t, err)

	var body string
	err = a.WithMetricsServer(context.Background(), func(ctx context.Context) error {
		if _, err := exec.Run(ctx, g, "x", 1); err != nil {
			return err
		}
		resp, err := http.Get("http://" + a.metricsAddr + "/metrics")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		body = string(data)
		return err
	})
	require.NoError(t, err)
	assert.Contains(t, body, `cli_test_runs_total{graph="served",state="completed"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestApp_MetricsServerDisabled(t *testing.T) {
	a, err := newApp(config.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close(context.Background())

	called := false
	require.NoError(t, a.WithMetricsServer(context.Background(), func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Empty(t, a.metricsAddr)
}

func TestNewApp_RedisUnavailable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := newApp(cfg, zap.NewNop())
	assert.Error(t, err)
}
