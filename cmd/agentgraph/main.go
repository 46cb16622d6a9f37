// =============================================================================
// AgentGraph 命令行入口
// =============================================================================
// 从 YAML/JSON 工作流定义构建多 Agent 图并执行
//
// 使用方法:
//
//	agentgraph run --input "hello" workflow.yaml      # 执行工作流
//	agentgraph validate workflow.yaml                 # 校验定义
//	agentgraph dot workflow.yaml                      # 导出 Graphviz DOT
//	agentgraph cache stats                            # 查看结果缓存统计
//	agentgraph cache purge --older-than 24h           # 清理结果缓存
//	agentgraph version                                # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentgraph/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
	exitAborted = 3
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitError
	}

	switch args[0] {
	case "run":
		return runRun(args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "dot":
		return runDot(args[1:], stdout, stderr)
	case "cache":
		return runCache(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitError
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "AgentGraph %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `AgentGraph - multi-agent graph workflow engine

Usage:
  agentgraph <command> [options] <workflow file>

Commands:
  run       Execute a workflow definition
  validate  Build and validate a workflow definition
  dot       Print the workflow graph in Graphviz DOT format
  cache     Result cache maintenance (stats, purge)
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>      Path to configuration file (YAML)
  --input <text>       Initial input delivered to entry nodes
  --input-file <path>  Read the initial input from a file ("-" for stdin)
  --limit <n>          Concurrency limit (0 uses executor.concurrency_limit)
  --sequential         Run nodes one at a time in topological order
  --json               Print the full run report as JSON

Cache subcommands:
  cache stats                  Show backend statistics
  cache purge [--older-than d] Remove cached results

Exit codes:
  0 all nodes succeeded, 1 usage or setup error,
  2 some nodes failed or were skipped, 3 run aborted

Examples:
  agentgraph run --input "draft a haiku" pipeline.yaml
  agentgraph run --config agentgraph.yaml --limit 8 --json pipeline.yaml
  agentgraph dot pipeline.yaml | dot -Tsvg > pipeline.svg
  agentgraph cache purge --older-than 168h`)
}

// =============================================================================
// 🔧 配置与日志初始化
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
