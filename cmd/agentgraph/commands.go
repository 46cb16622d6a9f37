package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/cache"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/workflow"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runRun(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to config file")
	input := flags.String("input", "", "Initial input for entry nodes")
	inputFile := flags.String("input-file", "", "Read the initial input from a file (- for stdin)")
	limit := flags.Int("limit", 0, "Concurrency limit (0 uses the configured default)")
	sequential := flags.Bool("sequential", false, "Run nodes one at a time in topological order")
	asJSON := flags.Bool("json", false, "Print the run report as JSON")
	if err := flags.Parse(args); err != nil {
		return exitError
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "run: exactly one workflow file is required")
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	text, err := readInput(*input, *inputFile, os.Stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read input: %v\n", err)
		return exitError
	}

	def, err := workflow.LoadDefinition(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load workflow: %v\n", err)
		return exitError
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitError
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	g, err := def.Build(a.Registry())
	if err != nil {
		fmt.Fprintf(stderr, "Invalid workflow: %v\n", err)
		return exitError
	}
	exec, err := a.Executor()
	if err != nil {
		fmt.Fprintf(stderr, "Invalid executor config: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting run",
		zap.String("graph", g.Name()),
		zap.Int("limit", *limit),
		zap.Bool("sequential", *sequential),
	)

	var report *workflow.RunReport
	err = a.WithMetricsServer(ctx, func(ctx context.Context) error {
		var runErr error
		if *sequential {
			report, runErr = exec.RunSequential(ctx, g, text)
		} else {
			report, runErr = exec.Run(ctx, g, text, *limit)
		}
		return runErr
	})
	if err != nil {
		fmt.Fprintf(stderr, "Run failed: %v\n", err)
		return exitError
	}

	if dir := cfg.Reports.OutputDir; dir != "" {
		path, err := writeReport(dir, report)
		if err != nil {
			logger.Warn("failed to write report", zap.Error(err))
		} else {
			logger.Info("report written", zap.String("path", path))
		}
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "Failed to encode report: %v\n", err)
			return exitError
		}
	} else {
		printReport(stdout, g, report)
	}

	return exitCode(report)
}

// readInput 解析 --input 与 --input-file，二者互斥
func readInput(input, file string, stdin io.Reader) (string, error) {
	if file == "" {
		return input, nil
	}
	if input != "" {
		return "", errors.New("--input and --input-file are mutually exclusive")
	}
	if file == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(file)
	return string(data), err
}

func exitCode(report *workflow.RunReport) int {
	if report.FinalState == workflow.RunAborted {
		return exitAborted
	}
	s := report.Summary()
	if s.Succeeded != s.Total {
		return exitPartial
	}
	return exitOK
}

func writeReport(dir string, report *workflow.RunReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, report.RunID+".json")
	return path, os.WriteFile(path, data, 0o644)
}

// printReport 输出节点表格以及所有叶子节点的结果
func printReport(w io.Writer, g *workflow.Graph, report *workflow.RunReport) {
	s := report.Summary()
	fmt.Fprintf(w, "run %s  graph=%s  state=%s  duration=%s\n",
		report.RunID, report.Graph, report.FinalState, report.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "nodes: %d succeeded, %d failed, %d skipped, %d pending, %d cache hits\n\n",
		s.Succeeded, s.Failed, s.Skipped, s.Pending, s.CacheHits)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSTATUS\tATTEMPTS\tDURATION\tCACHE\tERROR")
	for _, nr := range report.NodeResults {
		cached := ""
		if nr.CacheHit {
			cached = "hit"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			nr.ID, nr.Status, nr.Attempts, nr.Duration.Round(time.Millisecond), cached, nr.Error)
	}
	_ = tw.Flush()

	if len(report.SharedState) > 0 {
		fmt.Fprintln(w, "\nshared state:")
		for _, k := range sortedKeys(report.SharedState) {
			fmt.Fprintf(w, "  %s = %v\n", k, report.SharedState[k])
		}
	}

	structure := g.Structure()
	for _, nr := range report.NodeResults {
		if len(structure[nr.ID]) > 0 || nr.Status != workflow.StatusSucceeded {
			continue
		}
		fmt.Fprintf(w, "\n== %s ==\n%s\n", nr.ID, nr.Output)
	}
}

// =============================================================================
// ✅ validate / dot 命令
// =============================================================================

// buildDefinition 加载并构建工作流，用于不执行的命令
func buildDefinition(name string, args []string, stderr io.Writer) (*workflow.Graph, int) {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	if err := flags.Parse(args); err != nil {
		return nil, exitError
	}
	if flags.NArg() != 1 {
		fmt.Fprintf(stderr, "%s: exactly one workflow file is required\n", name)
		return nil, exitError
	}

	def, err := workflow.LoadDefinition(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load workflow: %v\n", err)
		return nil, exitError
	}
	g, err := def.Build(newRegistry(zap.NewNop(), nil))
	if err != nil {
		fmt.Fprintf(stderr, "Invalid workflow: %v\n", err)
		return nil, exitError
	}
	return g, exitOK
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	g, code := buildDefinition("validate", args, stderr)
	if g == nil {
		return code
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		fmt.Fprintf(stderr, "Invalid workflow: %v\n", err)
		return exitError
	}
	fmt.Fprintf(stdout, "ok: %s (%d nodes, %d edges)\n", g.Name(), len(g.Nodes()), len(g.Edges()))
	fmt.Fprintf(stdout, "order: %s\n", strings.Join(order, " -> "))
	return exitOK
}

func runDot(args []string, stdout, stderr io.Writer) int {
	g, code := buildDefinition("dot", args, stderr)
	if g == nil {
		return code
	}
	fmt.Fprint(stdout, g.ExportDOT())
	return exitOK
}

// =============================================================================
// 💾 cache 命令
// =============================================================================

func runCache(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "cache: subcommand required (stats, purge)")
		return exitError
	}
	sub := args[0]

	flags := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to config file")
	olderThan := flags.Duration("older-than", 0, "Only purge entries older than this (file and sql backends)")
	if err := flags.Parse(args[1:]); err != nil {
		return exitError
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	if !cfg.Cache.Enabled {
		fmt.Fprintln(stderr, "cache is disabled in the configuration")
		return exitError
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitError
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	defer a.Close(ctx)

	switch sub {
	case "stats":
		err = a.PrintCacheStats(ctx, stdout)
	case "purge":
		var n int
		if n, err = a.PurgeCache(ctx, *olderThan); err == nil {
			fmt.Fprintf(stdout, "removed %d entries from the %s cache\n", n, cfg.Cache.Backend)
		}
	default:
		err = fmt.Errorf("unknown cache subcommand %q", sub)
	}
	if err != nil {
		fmt.Fprintf(stderr, "cache %s: %v\n", sub, err)
		return exitError
	}
	return exitOK
}

// PurgeCache removes cached results. Redis entries are matched by prefix
// and expire through their TTL, so olderThan is rejected there.
func (a *app) PurgeCache(ctx context.Context, olderThan time.Duration) (int, error) {
	switch {
	case a.redis != nil:
		if olderThan > 0 {
			return 0, errors.New("--older-than is not supported for redis; entries expire via redis.ttl")
		}
		return a.redis.Purge(ctx, a.cfg.Cache.Prefix)
	case a.backend != nil:
		p, ok := a.backend.(pruner)
		if !ok {
			return 0, fmt.Errorf("%s backend is process-local; nothing to purge", a.cfg.Cache.Backend)
		}
		return p.Prune(ctx, olderThan)
	default:
		return 0, errors.New("cache is disabled")
	}
}

// PrintCacheStats reports what the configured backend holds.
func (a *app) PrintCacheStats(ctx context.Context, w io.Writer) error {
	switch a.cfg.Cache.Backend {
	case "redis":
		s, err := a.redis.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "backend: redis (%s)\nkeys: %d\nhits: %d\nmisses: %d\nused_memory: %d\nconnections: %d\n",
			a.cfg.Redis.Addr, s.Keys, s.Hits, s.Misses, s.UsedMemory, s.Connections)
	case "sql":
		var count int64
		if err := a.db.DB().WithContext(ctx).Model(&cache.CacheRecord{}).Count(&count).Error; err != nil {
			return err
		}
		st := a.db.GetStats()
		fmt.Fprintf(w, "backend: sql (%s)\nentries: %d\nopen_connections: %d\n", a.db.Name(), count, st.OpenConnections)
	case "file":
		files, bytes, err := dirUsage(a.cfg.Cache.Dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "backend: file (%s)\nentries: %d\nbytes: %d\n", a.cfg.Cache.Dir, files, bytes)
	default:
		fmt.Fprintf(w, "backend: %s (process-local, no persistent entries)\n", a.cfg.Cache.Backend)
	}
	return nil
}

func dirUsage(dir string) (files int, bytes int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}

// newRegistry returns the definition registry with the builtin offline
// provider registered.
func newRegistry(logger *zap.Logger, collector *metrics.Collector) *workflow.Registry {
	reg := workflow.NewRegistry(logger)
	reg.RegisterProvider("echo", metrics.InstrumentProvider(echoProvider(), collector))
	return reg
}

// sortedKeys is used for deterministic shared state output.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
