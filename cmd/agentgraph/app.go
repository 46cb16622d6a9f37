package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/cache"
	"github.com/BaSui01/agentgraph/config"
	icache "github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/retry"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

// pruner is implemented by backends that can drop old entries.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// app 持有一次命令执行期间的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	otel      *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector
	recorder  *telemetry.Recorder

	// metricsAddr 是 /metrics 实际监听地址
	metricsAddr string

	db      *database.PoolManager
	redis   *icache.Manager
	backend cache.Backend
	cache   *cache.ResultCache
	reports workflow.ReportStore
}

// newApp wires the components selected by cfg. Components that fail
// to start are closed again before the error is returned.
func newApp(cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.otel, err = telemetry.Init(cfg.Telemetry, logger); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	if a.otel.Enabled() {
		if a.recorder, err = telemetry.NewRecorder(a.otel.Meter("github.com/BaSui01/agentgraph")); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	if cfg.UsesDatabase() {
		var opts []database.PoolOption
		if a.collector != nil {
			opts = append(opts, database.WithStatsFunc(a.collector.RecordDBConnections))
		}
		if a.db, err = database.Open(databaseConfig(cfg.Database), logger, opts...); err != nil {
			return nil, err
		}
	}

	if cfg.Cache.Enabled {
		if a.backend, err = a.openBackend(); err != nil {
			return nil, err
		}
		opts := []cache.Option{cache.WithPrefix(cfg.Cache.Prefix), cache.WithLogger(logger)}
		if a.collector != nil {
			opts = append(opts, cache.WithRecorder(a.collector))
		}
		a.cache = cache.New(a.backend, opts...)
	}

	switch cfg.Reports.Store {
	case "memory":
		a.reports = workflow.NewMemoryReportStore()
	case "sql":
		if a.reports, err = workflow.NewSQLReportStore(a.db.DB()); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *app) openBackend() (cache.Backend, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case "memory":
		return cache.NewMemoryBackend(cache.MemoryConfig{
			MaxEntries: c.MaxEntries,
			MaxBytes:   c.MaxBytes,
			MaxAge:     c.MaxAge,
		}), nil
	case "file":
		return cache.NewFileBackend(c.Dir)
	case "redis":
		m, err := icache.NewManager(redisConfig(a.cfg.Redis), a.logger)
		if err != nil {
			return nil, err
		}
		a.redis = m
		return m.Backend(), nil
	case "sql":
		return cache.NewSQLBackend(a.db.DB())
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", c.Backend)
	}
}

// Executor builds an executor sharing the runtime components.
func (a *app) Executor() (*workflow.Executor, error) {
	ec, err := executorConfig(a.cfg.Executor)
	if err != nil {
		return nil, err
	}

	opts := []workflow.ExecutorOption{
		workflow.WithLogger(a.logger),
		workflow.WithTracer(a.otel.Tracer("github.com/BaSui01/agentgraph/workflow")),
	}
	if a.cache != nil {
		opts = append(opts, workflow.WithCache(a.cache))
	}
	if a.reports != nil {
		opts = append(opts, workflow.WithReportStore(a.reports))
	}

	var recorders []workflow.MetricsRecorder
	if a.collector != nil {
		recorders = append(recorders, a.collector)
	}
	if a.recorder != nil {
		recorders = append(recorders, a.recorder)
	}
	if m := workflow.CombineMetrics(recorders...); m != nil {
		opts = append(opts, workflow.WithMetrics(m))
	}

	return workflow.NewExecutor(ec, opts...), nil
}

// Registry returns the definition registry wired to the collector.
func (a *app) Registry() *workflow.Registry {
	return newRegistry(a.logger, a.collector)
}

// Close releases every component, in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 配置转换
// =============================================================================

func executorConfig(c config.ExecutorConfig) (workflow.ExecutorConfig, error) {
	strategy, err := retry.ParseStrategy(c.Retry.Backoff)
	if err != nil {
		return workflow.ExecutorConfig{}, err
	}
	multiplier := c.Retry.Multiplier
	if strategy == retry.StrategyFixed {
		multiplier = 1
	}

	ec := workflow.ExecutorConfig{
		ConcurrencyLimit: c.ConcurrencyLimit,
		NodeTimeout:      c.NodeTimeout,
		Retry: workflow.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			Backoff: retry.Backoff{
				Strategy:     strategy,
				InitialDelay: c.Retry.InitialDelay,
				MaxDelay:     c.Retry.MaxDelay,
				Multiplier:   multiplier,
				Jitter:       c.Retry.Jitter,
			},
		},
	}
	if c.CircuitBreaker.Enabled {
		ec.CircuitBreaker = &workflow.CircuitBreakerConfig{
			FailureThreshold:  c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:   c.CircuitBreaker.RecoveryTimeout,
			HalfOpenMaxProbes: c.CircuitBreaker.HalfOpenMaxProbes,
			SuccessThreshold:  c.CircuitBreaker.SuccessThreshold,
		}
	}
	return ec, nil
}

func databaseConfig(c config.DatabaseConfig) database.Config {
	pool := database.DefaultPoolConfig()
	if c.MaxOpenConns > 0 {
		pool.MaxOpenConns = c.MaxOpenConns
	}
	if c.MaxIdleConns > 0 {
		pool.MaxIdleConns = c.MaxIdleConns
	}
	if c.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = c.ConnMaxLifetime
	}
	return database.Config{
		Driver:   c.Driver,
		DSN:      c.DSN(),
		LogLevel: "silent",
		Pool:     pool,
	}
}

func redisConfig(c config.RedisConfig) icache.Config {
	rc := icache.DefaultConfig()
	rc.Addr = c.Addr
	rc.Password = c.Password
	rc.DB = c.DB
	rc.DefaultTTL = c.TTL
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	return rc
}

// echoProvider answers every request with the last user message. It lets
// chat nodes run without an external model service.
func echoProvider() llm.Provider {
	return llm.ProviderFunc{
		ProviderName: "echo",
		Fn: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			var last string
			for _, m := range req.Messages {
				if m.Role == types.RoleUser {
					last = m.Content
				}
			}
			return &llm.ChatResponse{
				Provider: "echo",
				Model:    req.Model,
				Choices: []llm.ChatChoice{{
					FinishReason: "stop",
					Message:      types.NewAssistantMessage(last),
				}},
				Usage: llm.ChatUsage{
					PromptTokens:     len(req.Messages),
					CompletionTokens: 1,
					TotalTokens:      len(req.Messages) + 1,
				},
				CreatedAt: time.Now(),
			}, nil
		},
	}
}
