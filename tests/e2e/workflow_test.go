// 工作流端到端测试。
//
// 覆盖定义解析、执行、缓存复用与报告存储的完整流程。
//go:build e2e

package e2e

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/cache"
	icache "github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/workflow"
)

const researchYAML = `
name: research
entries: [topic]
agents:
  - id: topic
    kind: template
    template: "research {{ .Text }}"
    publish: topic
  - id: facts
    kind: chat
    provider: mock
    model: e2e-model
  - id: outline
    kind: template
    template: "outline of {{ .Text }}"
  - id: report
    kind: template
    template: "{{ .Shared.topic }} => {{ .Text }}"
    reads: [topic]
connections:
  - from: topic
    to: facts
  - from: topic
    to: outline
  - from: facts
    to: report
  - from: outline
    to: report
`

// --- 工作流测试 ---

// TestWorkflow_FullPipeline 测试 fan-out/fan-in 的完整执行
func TestWorkflow_FullPipeline(t *testing.T) {
	env := NewTestEnv(t)
	env.Provider.WithResponse("three facts")

	g := env.Build(t, researchYAML)
	report, err := env.Executor(t).Run(env.Context(), g, "go", 2)
	require.NoError(t, err)

	assert.Equal(t, workflow.RunCompleted, report.FinalState)
	assert.Equal(t, 4, report.Summary().Succeeded)
	assert.Equal(t, "topic", report.ExecutionOrder[0])
	assert.Equal(t, "report", report.ExecutionOrder[3])

	out, ok := report.Output("report")
	require.True(t, ok)
	assert.Contains(t, out, "research go => ")
	assert.Contains(t, out, "three facts")
	assert.Contains(t, out, "outline of research go")

	saved, err := env.Reports.Get(env.Context(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, saved.RunID)
}

// TestWorkflow_WarmCache 测试第二次运行全部命中缓存
func TestWorkflow_WarmCache(t *testing.T) {
	env := NewTestEnv(t)
	env.Provider.WithResponse("cached facts")

	g := env.Build(t, researchYAML)
	exec := env.Executor(t)

	first, err := exec.Run(env.Context(), g, "cache", 4)
	require.NoError(t, err)
	second, err := exec.Run(env.Context(), g, "cache", 4)
	require.NoError(t, err)

	assert.Equal(t, 0, first.Summary().CacheHits)
	assert.Equal(t, 4, second.Summary().CacheHits)
	assert.Equal(t, 1, env.Provider.CallCount())

	a, _ := first.Output("report")
	b, _ := second.Output("report")
	assert.Equal(t, a, b)

	runs, err := env.Reports.ListByGraph(env.Context(), "research", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

// TestWorkflow_FailureIsolation 测试失败节点只影响其下游
func TestWorkflow_FailureIsolation(t *testing.T) {
	env := NewTestEnv(t)
	env.Registry.RegisterProvider("mock", mocks.NewMockProvider().WithError(errors.New("model offline")))

	g := env.Build(t, researchYAML)
	report, err := env.Executor(t).Run(env.Context(), g, "broken", 2)
	require.NoError(t, err)

	facts, _ := report.Result("facts")
	assert.Equal(t, workflow.StatusFailed, facts.Status)
	assert.Equal(t, 3, facts.Attempts)

	outline, _ := report.Result("outline")
	assert.Equal(t, workflow.StatusSucceeded, outline.Status)

	final, _ := report.Result("report")
	assert.Equal(t, workflow.StatusSkipped, final.Status)
	assert.Contains(t, final.Error, "facts")
}

// TestWorkflow_ConcurrentRuns 测试并发运行共享同一次调用
func TestWorkflow_ConcurrentRuns(t *testing.T) {
	SkipIfShort(t)
	env := NewTestEnv(t)
	env.Provider.WithResponse("shared")

	g := env.Build(t, researchYAML)
	exec := env.Executor(t)

	var wg sync.WaitGroup
	reports := make([]*workflow.RunReport, 8)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := exec.Run(env.Context(), g, "together", 2)
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range reports {
		require.NotNil(t, r)
		assert.Equal(t, 4, r.Summary().Succeeded)
	}
	assert.Equal(t, 1, env.Provider.CallCount())
}

// TestWorkflow_RedisCache 测试真实 Redis 作为缓存后端
func TestWorkflow_RedisCache(t *testing.T) {
	addr := SkipIfNoRedis(t)
	env := NewTestEnv(t)
	env.Provider.WithResponse("from redis")

	rc := icache.DefaultConfig()
	rc.Addr = addr
	m, err := icache.NewManager(rc, env.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	t.Cleanup(func() { _, _ = m.Purge(env.Context(), "e2e-redis:") })

	rcache := cache.New(m.Backend(), cache.WithPrefix("e2e-redis:"))
	g := env.Build(t, researchYAML)
	exec := env.Executor(t, workflow.WithCache(rcache))

	_, err = exec.Run(env.Context(), g, "redis", 2)
	require.NoError(t, err)
	second, err := exec.Run(env.Context(), g, "redis", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, second.Summary().CacheHits)
}
