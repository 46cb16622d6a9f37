package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects the SQL database used for cache entries and run reports.
type Config struct {
	// Driver 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// DSN 连接字符串；sqlite 为文件路径或 ":memory:"
	DSN string `yaml:"dsn" json:"dsn" env:"DSN"`
	// LogLevel gorm 日志级别: silent, error, warn, info
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`

	Pool PoolConfig `yaml:"pool" json:"pool" env:"POOL"`
}

// DefaultConfig 默认使用本地 sqlite 文件
func DefaultConfig() Config {
	return Config{
		Driver:   "sqlite",
		DSN:      "agentgraph.db",
		LogLevel: "silent",
		Pool:     DefaultPoolConfig(),
	}
}

// Dialector returns the gorm dialector for the configured driver.
func (c Config) Dialector() (gorm.Dialector, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch strings.ToLower(c.Driver) {
	case "sqlite", "sqlite3":
		return sqlite.Open(c.DSN), nil
	case "postgres", "postgresql":
		return postgres.Open(c.DSN), nil
	case "mysql":
		return mysql.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres, mysql)", c.Driver)
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// Open connects to the configured database and wraps it in a PoolManager.
func Open(cfg Config, log *zap.Logger, opts ...PoolOption) (*PoolManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Pool.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	log.Info("database connected", zap.String("driver", cfg.Driver))
	return NewPoolManager(db, cfg.Pool, log, opts...)
}
