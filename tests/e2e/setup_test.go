// E2E 测试环境与通用辅助函数。
//
// 提供端到端测试的统一初始化与资源清理逻辑。
//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/cache"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/testutil"
	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/workflow"
)

// --- 测试环境 ---

// TestEnv E2E 测试环境
type TestEnv struct {
	Config   *config.Config
	Logger   *zap.Logger
	Provider *mocks.MockProvider
	Registry *workflow.Registry
	Backend  *cache.MemoryBackend
	Cache    *cache.ResultCache
	Reports  *workflow.MemoryReportStore

	ctx    context.Context
	cancel context.CancelFunc
}

// --- 环境设置 ---

// NewTestEnv 创建新的测试环境
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	cfg := config.DefaultConfig()
	// 从环境变量覆盖（用于 CI/CD）
	if envCfg, err := config.LoadFromEnv(); err == nil {
		cfg = envCfg
	}

	logger, _ := zap.NewDevelopment()

	provider := mocks.NewMockProvider()
	reg := workflow.NewRegistry(logger)
	reg.RegisterProvider("mock", provider)

	backend := cache.NewMemoryBackend(cache.DefaultMemoryConfig())

	env := &TestEnv{
		Config:   cfg,
		Logger:   logger,
		Provider: provider,
		Registry: reg,
		Backend:  backend,
		Cache:    cache.New(backend, cache.WithPrefix("e2e:"), cache.WithLogger(logger)),
		Reports:  workflow.NewMemoryReportStore(),
		ctx:      ctx,
		cancel:   cancel,
	}

	t.Cleanup(func() {
		env.Cleanup()
	})

	return env
}

// Context 返回测试上下文
func (e *TestEnv) Context() context.Context {
	return e.ctx
}

// Executor 创建共享缓存与报告存储的执行器
func (e *TestEnv) Executor(t *testing.T, opts ...workflow.ExecutorOption) *workflow.Executor {
	t.Helper()
	ec := workflow.DefaultExecutorConfig()
	ec.Retry.Backoff.InitialDelay = time.Millisecond
	ec.Retry.Backoff.MaxDelay = 5 * time.Millisecond
	base := []workflow.ExecutorOption{
		workflow.WithLogger(e.Logger),
		workflow.WithCache(e.Cache),
		workflow.WithReportStore(e.Reports),
	}
	return workflow.NewExecutor(ec, append(base, opts...)...)
}

// Build 解析 YAML 定义并构建图
func (e *TestEnv) Build(t *testing.T, src string) *workflow.Graph {
	t.Helper()
	def, err := workflow.ParseYAML([]byte(src))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	g, err := def.Build(e.Registry)
	if err != nil {
		t.Fatalf("build definition: %v", err)
	}
	return g
}

// Cleanup 清理测试环境
func (e *TestEnv) Cleanup() {
	e.cancel()
	if e.Logger != nil {
		_ = e.Logger.Sync()
	}
}

// Reset 重置 mock 与缓存状态
func (e *TestEnv) Reset() {
	e.Provider.Reset()
	e.Backend.Clear()
}

// --- 环境检查 ---

// SkipIfNoRedis 如果没有 Redis 则跳过测试
func SkipIfNoRedis(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("AGENTGRAPH_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping test: Redis not configured (set AGENTGRAPH_REDIS_ADDR)")
	}
	return addr
}

// SkipIfNoPostgres 如果没有 PostgreSQL 则跳过测试
func SkipIfNoPostgres(t *testing.T) {
	t.Helper()
	if os.Getenv("AGENTGRAPH_DATABASE_HOST") == "" {
		t.Skip("Skipping test: PostgreSQL not configured (set AGENTGRAPH_DATABASE_HOST)")
	}
}

// SkipIfShort 如果是短测试模式则跳过
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping long-running test in short mode")
	}
}

// --- 测试辅助 ---

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	if !testutil.WaitFor(condition, timeout) {
		t.Fatalf("Condition not met within %v: %s", timeout, msg)
	}
}

// CreateTempFile 创建临时文件
func CreateTempFile(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return f.Name()
}
