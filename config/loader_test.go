// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 4, cfg.Executor.ConcurrencyLimit)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agentgraph.yaml")

	yamlContent := `
executor:
  concurrency_limit: 8
  node_timeout: 45s
  retry:
    max_attempts: 5
    backoff: fixed
    initial_delay: 1s
  circuit_breaker:
    enabled: true
    failure_threshold: 3

cache:
  backend: redis
  prefix: "pipeline:"

reports:
  store: sql
  output_dir: ./reports

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// YAML 值覆盖默认值
	assert.Equal(t, 8, cfg.Executor.ConcurrencyLimit)
	assert.Equal(t, 45*time.Second, cfg.Executor.NodeTimeout)
	assert.Equal(t, 5, cfg.Executor.Retry.MaxAttempts)
	assert.Equal(t, "fixed", cfg.Executor.Retry.Backoff)
	assert.Equal(t, time.Second, cfg.Executor.Retry.InitialDelay)
	assert.True(t, cfg.Executor.CircuitBreaker.Enabled)
	assert.Equal(t, 3, cfg.Executor.CircuitBreaker.FailureThreshold)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "pipeline:", cfg.Cache.Prefix)
	assert.Equal(t, "sql", cfg.Reports.Store)
	assert.Equal(t, "./reports", cfg.Reports.OutputDir)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// 未出现的字段保留默认值
	assert.Equal(t, 5*time.Second, cfg.Executor.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Executor.CircuitBreaker.RecoveryTimeout)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTGRAPH_EXECUTOR_CONCURRENCY_LIMIT", "16")
	t.Setenv("AGENTGRAPH_EXECUTOR_NODE_TIMEOUT", "90s")
	t.Setenv("AGENTGRAPH_EXECUTOR_RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("AGENTGRAPH_EXECUTOR_RETRY_MULTIPLIER", "1.5")
	t.Setenv("AGENTGRAPH_EXECUTOR_RETRY_JITTER", "false")
	t.Setenv("AGENTGRAPH_CACHE_ENABLED", "false")
	t.Setenv("AGENTGRAPH_REDIS_ADDR", "env-redis:6379")
	t.Setenv("AGENTGRAPH_LOG_LEVEL", "warn")
	t.Setenv("AGENTGRAPH_LOG_OUTPUT_PATHS", "stdout, /tmp/agentgraph.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Executor.ConcurrencyLimit)
	assert.Equal(t, 90*time.Second, cfg.Executor.NodeTimeout)
	assert.Equal(t, 0, cfg.Executor.Retry.MaxAttempts)
	assert.Equal(t, 1.5, cfg.Executor.Retry.Multiplier)
	assert.False(t, cfg.Executor.Retry.Jitter)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/tmp/agentgraph.log"}, cfg.Log.OutputPaths)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTGRAPH_EXECUTOR_NODE_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTGRAPH_EXECUTOR_NODE_TIMEOUT")
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agentgraph.yaml")

	yamlContent := `
executor:
  concurrency_limit: 8
cache:
  backend: file
  dir: /var/cache/agentgraph
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("AGENTGRAPH_EXECUTOR_CONCURRENCY_LIMIT", "2")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Executor.ConcurrencyLimit)
	// 未被环境变量覆盖的 YAML 值保留
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, "/var/cache/agentgraph", cfg.Cache.Dir)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_EXECUTOR_CONCURRENCY_LIMIT", "6")
	t.Setenv("MYAPP_METRICS_NAMESPACE", "pipelines")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Executor.ConcurrencyLimit)
	assert.Equal(t, "pipelines", cfg.Metrics.Namespace)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AGENTGRAPH_EXECUTOR_CONCURRENCY_LIMIT", "0")

	_, err := NewLoader().
		WithValidator((*Config).Validate).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency_limit")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/agentgraph.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
executor:
  concurrency_limit: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "zero concurrency limit",
			modify:  func(c *Config) { c.Executor.ConcurrencyLimit = 0 },
			wantErr: "concurrency_limit",
		},
		{
			name:    "negative node timeout",
			modify:  func(c *Config) { c.Executor.NodeTimeout = -time.Second },
			wantErr: "node_timeout",
		},
		{
			name:    "negative max attempts",
			modify:  func(c *Config) { c.Executor.Retry.MaxAttempts = -1 },
			wantErr: "max_attempts",
		},
		{
			name:    "unknown backoff",
			modify:  func(c *Config) { c.Executor.Retry.Backoff = "linear" },
			wantErr: "backoff",
		},
		{
			name: "initial delay above max",
			modify: func(c *Config) {
				c.Executor.Retry.InitialDelay = time.Minute
				c.Executor.Retry.MaxDelay = time.Second
			},
			wantErr: "initial_delay",
		},
		{
			name: "breaker without threshold",
			modify: func(c *Config) {
				c.Executor.CircuitBreaker.Enabled = true
				c.Executor.CircuitBreaker.FailureThreshold = 0
			},
			wantErr: "failure_threshold",
		},
		{
			name:    "unknown cache backend",
			modify:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name: "unknown cache backend ignored when disabled",
			modify: func(c *Config) {
				c.Cache.Enabled = false
				c.Cache.Backend = "memcached"
			},
		},
		{
			name: "file backend without dir",
			modify: func(c *Config) {
				c.Cache.Backend = "file"
				c.Cache.Dir = ""
			},
			wantErr: "cache.dir",
		},
		{
			name:    "unknown report store",
			modify:  func(c *Config) { c.Reports.Store = "s3" },
			wantErr: "reports.store",
		},
		{
			name: "sql store with unknown driver",
			modify: func(c *Config) {
				c.Reports.Store = "sql"
				c.Database.Driver = "oracle"
			},
			wantErr: "database.driver",
		},
		{
			name:   "unknown driver ignored without sql users",
			modify: func(c *Config) { c.Database.Driver = "oracle" },
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
		{
			name:    "sample rate too high",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
		{
			name:    "negative export interval",
			modify:  func(c *Config) { c.Telemetry.ExportInterval = -time.Second },
			wantErr: "export_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Executor.ConcurrencyLimit = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency_limit")
	assert.Contains(t, err.Error(), "log.level")
}

func TestConfig_UsesDatabase(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.UsesDatabase())

	cfg.Cache.Backend = "sql"
	assert.True(t, cfg.UsesDatabase())

	cfg.Cache.Enabled = false
	assert.False(t, cfg.UsesDatabase())

	cfg.Reports.Store = "sql"
	assert.True(t, cfg.UsesDatabase())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agentgraph.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("executor:\n  concurrency_limit: 3\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 3, cfg.Executor.ConcurrencyLimit)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("AGENTGRAPH_TELEMETRY_SERVICE_NAME", "env-only")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.Telemetry.ServiceName)
}
