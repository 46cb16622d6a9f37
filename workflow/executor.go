package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/cache"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/state"
	"github.com/BaSui01/agentgraph/types"
)

const tracerName = "github.com/BaSui01/agentgraph/workflow"

// ExecutorConfig holds the executor defaults.
type ExecutorConfig struct {
	// ConcurrencyLimit is used when Run is called with a zero limit.
	ConcurrencyLimit int `json:"concurrency_limit" yaml:"concurrency_limit"`
	// NodeTimeout bounds one invocation of a node without its own timeout.
	NodeTimeout time.Duration `json:"node_timeout" yaml:"node_timeout"`
	// Retry applies to nodes without their own policy.
	Retry RetryPolicy `json:"retry" yaml:"retry"`
	// CircuitBreaker enables per-agent breakers when set.
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// DefaultExecutorConfig 默认执行器配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ConcurrencyLimit: 4,
		NodeTimeout:      2 * time.Minute,
		Retry:            DefaultRetryPolicy(),
	}
}

// MetricsRecorder receives run and node outcomes.
type MetricsRecorder interface {
	RecordRun(graph, state string, duration time.Duration)
	RecordNode(graph, node, status string, attempts int, duration time.Duration, cacheHit bool)
	RecordRetry(graph, node string)
}

// MultiMetrics fans every record out to each recorder in order.
type MultiMetrics []MetricsRecorder

// CombineMetrics drops nil recorders and returns nil when none remain.
func CombineMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	var out MultiMetrics
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (m MultiMetrics) RecordRun(graph, state string, duration time.Duration) {
	for _, r := range m {
		r.RecordRun(graph, state, duration)
	}
}

func (m MultiMetrics) RecordNode(graph, node, status string, attempts int, duration time.Duration, cacheHit bool) {
	for _, r := range m {
		r.RecordNode(graph, node, status, attempts, duration, cacheHit)
	}
}

func (m MultiMetrics) RecordRetry(graph, node string) {
	for _, r := range m {
		r.RecordRetry(graph, node)
	}
}

// Executor runs validated graphs. One executor may serve concurrent runs.
type Executor struct {
	config   ExecutorConfig
	cache    *cache.ResultCache
	reports  ReportStore
	shared   *state.Store
	metrics  MetricsRecorder
	breakers *CircuitBreakerRegistry
	tracer   trace.Tracer
	flight   singleflight.Group
	logger   *zap.Logger
	newRunID func() string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCache memoizes agent invocations in c.
func WithCache(c *cache.ResultCache) ExecutorOption {
	return func(e *Executor) { e.cache = c }
}

// WithReportStore saves every finished run report to s.
func WithReportStore(s ReportStore) ExecutorOption {
	return func(e *Executor) { e.reports = s }
}

// WithSharedState makes all runs share s instead of a fresh store per run.
func WithSharedState(s *state.Store) ExecutorOption {
	return func(e *Executor) { e.shared = s }
}

// WithMetrics 设置指标记录器
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithRunIDGenerator overrides uuid based run ids.
func WithRunIDGenerator(fn func() string) ExecutorOption {
	return func(e *Executor) { e.newRunID = fn }
}

// NewExecutor creates an executor.
func NewExecutor(config ExecutorConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		config:   config,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "executor"))
	if config.CircuitBreaker != nil {
		e.breakers = NewCircuitBreakerRegistry(*config.CircuitBreaker, e.logger)
	}
	return e
}

// Breakers returns the circuit breaker registry, nil when disabled.
func (e *Executor) Breakers() *CircuitBreakerRegistry { return e.breakers }

// Run executes g with at most limit concurrent agent invocations. A zero
// limit uses the configured default. The error covers unusable arguments
// only; node failures and cancellation are reported in the RunReport.
func (e *Executor) Run(ctx context.Context, g *Graph, input string, limit int) (*RunReport, error) {
	if limit == 0 {
		limit = e.config.ConcurrencyLimit
	}
	if limit < 1 {
		return nil, types.Errorf(types.ErrInvalidInput, "concurrency limit must be at least 1, got %d", limit)
	}
	if err := e.check(g); err != nil {
		return nil, err
	}

	ctx, r := e.start(ctx, g, input, limit)
	r.loop(ctx, limit)
	return e.finish(ctx, r), nil
}

// RunSequential executes g one node at a time in topological order.
func (e *Executor) RunSequential(ctx context.Context, g *Graph, input string) (*RunReport, error) {
	if err := e.check(g); err != nil {
		return nil, err
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	ctx, r := e.start(ctx, g, input, 1)
	for _, id := range order {
		if r.es[id] != StatusReady {
			continue
		}
		if ctx.Err() != nil {
			r.abort(ctx.Err())
			break
		}
		r.runInline(ctx, id)
		if r.aborted {
			break
		}
	}
	r.queue = nil
	return e.finish(ctx, r), nil
}

// RunBatch runs g once per input with at most parallel runs in flight; zero
// means all at once. Each run uses the configured concurrency limit and
// reports come back in input order.
func (e *Executor) RunBatch(ctx context.Context, g *Graph, inputs []string, parallel int) ([]*RunReport, error) {
	if parallel < 0 {
		return nil, types.Errorf(types.ErrInvalidInput, "batch parallelism must not be negative, got %d", parallel)
	}
	if err := e.check(g); err != nil {
		return nil, err
	}

	reports := make([]*RunReport, len(inputs))
	var eg errgroup.Group
	if parallel > 0 {
		eg.SetLimit(parallel)
	}
	for i, input := range inputs {
		eg.Go(func() error {
			report, err := e.Run(ctx, g, input, 0)
			if err != nil {
				return fmt.Errorf("batch input %d: %w", i, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	e.logger.Info("batch finished",
		zap.String("graph", g.Name()),
		zap.Int("runs", len(inputs)))
	return reports, nil
}

func (e *Executor) check(g *Graph) error {
	if g == nil {
		return types.NewError(types.ErrInvalidInput, "graph is nil")
	}
	return g.Validate()
}

func (e *Executor) policyFor(n *Node) RetryPolicy {
	if n.Retry != nil {
		return *n.Retry
	}
	return e.config.Retry
}

func (e *Executor) timeoutFor(n *Node) time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return e.config.NodeTimeout
}

// start prepares the per-run state and seeds the roots.
func (e *Executor) start(ctx context.Context, g *Graph, input string, limit int) (context.Context, *run) {
	runID := e.newRunID()
	store := e.shared
	if store == nil {
		store = state.NewStore(nil)
	}

	ctx = ctxkeys.WithRunID(ctx, runID)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("agentgraph.run_id", runID),
		attribute.String("agentgraph.graph", g.Name()),
		attribute.Int("agentgraph.concurrency_limit", limit),
	))

	es := NewExecutionState(g)
	report := &RunReport{
		RunID:      runID,
		Graph:      g.Name(),
		StartedAt:  time.Now(),
		FinalState: RunRunning,
	}
	r := &run{
		exec:       e,
		graph:      g,
		id:         runID,
		span:       span,
		es:         es,
		store:      store,
		results:    make(map[string]*NodeResult, len(es)),
		dispatched: make(map[string]bool, len(es)),
		backoff:    make(map[string]*time.Timer),
		events:     make(chan event),
		done:       make(chan struct{}),
		report:     report,
		logger:     e.logger.With(zap.String("run_id", runID), zap.String("graph", g.Name())),
	}
	r.resolver = &inputResolver{
		graph:    g,
		task:     input,
		outputs:  make(map[string]string),
		es:       es,
		declined: make(map[*Edge]bool),
		store:    store,
	}
	for _, n := range g.Nodes() {
		r.results[n.ID] = &NodeResult{ID: n.ID, Status: StatusPending}
	}

	r.logger.Info("starting graph run",
		zap.Int("nodes", len(es)),
		zap.Int("concurrency_limit", limit))

	for _, id := range g.Roots() {
		r.markReady(id)
	}
	return ctx, r
}

// finish builds the report, records metrics and persists it.
func (e *Executor) finish(ctx context.Context, r *run) *RunReport {
	close(r.done)
	for id, t := range r.backoff {
		t.Stop()
		delete(r.backoff, id)
	}

	report := r.report
	report.EndedAt = time.Now()
	report.FinalState = RunCompleted
	if r.aborted && !r.es.Done() {
		report.FinalState = RunAborted
	}
	for _, n := range r.graph.Nodes() {
		nr := r.results[n.ID]
		nr.Status = r.es[n.ID]
		report.NodeResults = append(report.NodeResults, *nr)
		if e.metrics != nil && nr.Status.Terminal() {
			e.metrics.RecordNode(report.Graph, n.ID, string(nr.Status), nr.Attempts, nr.Duration, nr.CacheHit)
		}
	}
	report.SharedState = r.store.Snapshot()

	summary := report.Summary()
	r.span.SetAttributes(
		attribute.String("agentgraph.final_state", string(report.FinalState)),
		attribute.Int("agentgraph.failed", summary.Failed),
		attribute.Int("agentgraph.skipped", summary.Skipped),
	)
	if report.FinalState == RunAborted {
		r.span.SetStatus(codes.Error, "run aborted")
	}
	r.span.End()

	if e.metrics != nil {
		e.metrics.RecordRun(report.Graph, string(report.FinalState), report.Duration())
	}
	if e.reports != nil {
		if err := e.reports.Save(context.WithoutCancel(ctx), report); err != nil {
			r.logger.Warn("failed to save run report", zap.Error(err))
		}
	}

	r.logger.Info("graph run finished",
		zap.String("final_state", string(report.FinalState)),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Duration("duration", report.Duration()))
	return report
}

// job is one dispatched attempt of a node.
type job struct {
	node    *Node
	input   *agent.Input
	key     string
	attempt int
}

type attemptResult struct {
	nodeID   string
	attempt  int
	output   string
	err      error
	invoked  bool
	cacheHit bool
	duration time.Duration
}

// event is delivered to the coordinator: either a finished attempt or an
// expired backoff timer.
type event struct {
	result *attemptResult
	retry  string
}

// run is the state of one execution. Apart from channel sends, only the
// coordinating goroutine touches it.
type run struct {
	exec     *Executor
	graph    *Graph
	id       string
	span     trace.Span
	es       ExecutionState
	store    *state.Store
	resolver *inputResolver
	results  map[string]*NodeResult
	report   *RunReport
	logger   *zap.Logger

	queue      []string
	dispatched map[string]bool
	running    int
	backoff    map[string]*time.Timer
	events     chan event
	done       chan struct{}
	aborted    bool
}

// loop is the coordinator: it fills free slots from the FIFO ready queue
// and applies attempt results until nothing is running or waiting.
func (r *run) loop(ctx context.Context, limit int) {
	for {
		if !r.aborted && ctx.Err() != nil {
			r.abort(ctx.Err())
		}
		for !r.aborted && r.running < limit && len(r.queue) > 0 {
			if ctx.Err() != nil {
				r.abort(ctx.Err())
				break
			}
			id := r.queue[0]
			r.queue = r.queue[1:]
			r.dispatch(ctx, id)
		}

		if r.running == 0 && (r.aborted || (len(r.queue) == 0 && len(r.backoff) == 0)) {
			return
		}

		var cancelled <-chan struct{}
		if !r.aborted {
			cancelled = ctx.Done()
		}
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-cancelled:
		}
	}
}

func (r *run) dispatch(ctx context.Context, id string) {
	j := r.prepare(id)
	r.running++
	go func() {
		r.send(event{result: r.exec.attempt(ctx, r, j)})
	}()
}

// runInline executes one node to completion on the calling goroutine,
// sleeping through backoff delays.
func (r *run) runInline(ctx context.Context, id string) {
	for {
		res := r.exec.attempt(ctx, r, r.prepare(id))
		delay, retry := r.complete(res)
		if !retry {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.abort(ctx.Err())
			return
		}
	}
}

func (r *run) send(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *run) handle(ev event) {
	if ev.retry != "" {
		delete(r.backoff, ev.retry)
		if !r.aborted {
			r.queue = append(r.queue, ev.retry)
		}
		return
	}

	r.running--
	delay, retry := r.complete(ev.result)
	if retry {
		id := ev.result.nodeID
		r.backoff[id] = time.AfterFunc(delay, func() {
			r.send(event{retry: id})
		})
	}
}

// prepare moves a ready node to running and resolves its input.
func (r *run) prepare(id string) *job {
	node, _ := r.graph.Node(id)
	r.setStatus(id, StatusRunning)
	if !r.dispatched[id] {
		r.dispatched[id] = true
		r.report.ExecutionOrder = append(r.report.ExecutionOrder, id)
	}

	nr := r.results[id]
	in := r.resolver.resolve(node)
	in.RunID = r.id
	in.Attempt = nr.Attempts + 1

	j := &job{node: node, input: in, attempt: in.Attempt}
	if r.exec.cache != nil && !node.NoCache {
		j.key = cache.Key(node.ID, node.Agent.ID(), agent.FingerprintOf(node.Agent), in.CacheBytes())
	}
	return j
}

// complete applies an attempt result. It returns the backoff delay and
// true when the node should be retried.
func (r *run) complete(res *attemptResult) (time.Duration, bool) {
	id := res.nodeID
	node, _ := r.graph.Node(id)
	nr := r.results[id]
	if res.invoked {
		nr.Attempts++
		nr.Duration += res.duration
	}

	if res.err == nil {
		r.setStatus(id, StatusSucceeded)
		nr.Output = res.output
		nr.CacheHit = res.cacheHit
		nr.Error = ""
		r.resolver.outputs[id] = res.output
		if node.Publish != "" {
			r.store.Set(node.Publish, res.output)
		}
		for _, e := range r.graph.OutEdges(id) {
			if e.Condition != nil && !e.Condition(res.output) {
				r.resolver.declined[e] = true
			}
		}
		r.logger.Debug("node succeeded",
			zap.String("node_id", id),
			zap.Int("attempt", res.attempt),
			zap.Bool("cache_hit", res.cacheHit),
			zap.Duration("duration", res.duration))
		r.settle(id)
		return 0, false
	}

	nr.Error = res.err.Error()
	policy := r.exec.policyFor(node)
	if !r.aborted && policy.shouldRetry(nr.Attempts) {
		delay := policy.delay(nr.Attempts)
		r.setStatus(id, StatusReady)
		if r.exec.metrics != nil {
			r.exec.metrics.RecordRetry(r.graph.Name(), id)
		}
		r.logger.Warn("node attempt failed, retrying",
			zap.String("node_id", id),
			zap.Int("attempt", res.attempt),
			zap.Duration("duration", res.duration),
			zap.Duration("backoff", delay),
			zap.Error(res.err))
		return delay, true
	}

	r.setStatus(id, StatusFailed)
	r.logger.Error("node failed",
		zap.String("node_id", id),
		zap.Int("attempt", res.attempt),
		zap.Duration("duration", nr.Duration),
		zap.Error(res.err))
	r.settle(id)
	return 0, false
}

// settle resolves the pending successors of a node that just became
// terminal, skipping transitively where a required edge is unsatisfied.
func (r *run) settle(id string) {
	for _, e := range r.graph.OutEdges(id) {
		succ := e.To
		if r.es[succ] != StatusPending {
			continue
		}
		switch r.graph.resolve(succ, r.es, r.resolver.declined) {
		case resolutionReady:
			r.markReady(succ)
		case resolutionSkip:
			r.setStatus(succ, StatusSkipped)
			r.results[succ].Error = r.skipReason(succ)
			r.logger.Debug("node skipped",
				zap.String("node_id", succ),
				zap.String("reason", r.results[succ].Error))
			r.settle(succ)
		}
	}
}

func (r *run) markReady(id string) {
	r.setStatus(id, StatusReady)
	r.queue = append(r.queue, id)
}

func (r *run) skipReason(id string) string {
	for _, e := range r.graph.InEdges(id) {
		if e.Optional {
			continue
		}
		if r.resolver.declined[e] {
			return fmt.Sprintf("condition on edge %s declined", e)
		}
		if s := r.es[e.From]; s != StatusSucceeded {
			return fmt.Sprintf("upstream %s %s", e.From, s)
		}
	}
	return "upstream unsatisfied"
}

func (r *run) setStatus(id string, status NodeStatus) {
	if err := r.es.transition(id, status); err != nil {
		// 状态表与调度逻辑不一致，属于内部错误
		r.logger.DPanic("execution state violation", zap.Error(err))
		r.es[id] = status
	}
}

// abort stops further dispatching. In-flight attempts still complete.
func (r *run) abort(cause error) {
	if r.aborted {
		return
	}
	r.aborted = true
	for id, t := range r.backoff {
		t.Stop()
		delete(r.backoff, id)
	}
	r.logger.Warn("graph run aborted",
		zap.Int("in_flight", r.running),
		zap.Int("queued", len(r.queue)),
		zap.Error(cause))
}

// attempt performs one dispatch of a node: cache probe, then invocation.
// It runs on a worker goroutine and only reads the job.
func (e *Executor) attempt(ctx context.Context, r *run, j *job) *attemptResult {
	res := &attemptResult{nodeID: j.node.ID, attempt: j.attempt}
	// 已派发的调用不受取消影响
	callCtx := ctxkeys.WithAttempt(ctxkeys.WithNodeID(context.WithoutCancel(ctx), j.node.ID), j.attempt)

	if j.key != "" {
		if data, ok := e.cache.Get(callCtx, j.key); ok {
			res.output = string(data)
			res.cacheHit = true
			return res
		}
	}

	callCtx, span := e.tracer.Start(callCtx, "workflow.node", trace.WithAttributes(
		attribute.String("agentgraph.run_id", r.id),
		attribute.String("agentgraph.node_id", j.node.ID),
		attribute.String("agentgraph.agent_id", j.node.Agent.ID()),
		attribute.Int("agentgraph.attempt", j.attempt),
	))
	defer span.End()

	start := time.Now()
	res.output, res.err = e.invoke(callCtx, j)
	res.duration = time.Since(start)
	res.invoked = true

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res
}

// invoke calls the agent, deduplicating identical concurrent cache misses.
func (e *Executor) invoke(ctx context.Context, j *job) (string, error) {
	if j.key == "" {
		return e.call(ctx, j)
	}
	v, err, _ := e.flight.Do(j.key, func() (any, error) {
		return e.call(ctx, j)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Executor) call(ctx context.Context, j *job) (string, error) {
	var breaker *CircuitBreaker
	if e.breakers != nil {
		breaker = e.breakers.GetOrCreate(j.node.Agent.ID())
		if err := breaker.Allow(); err != nil {
			return "", agent.Classify(err)
		}
	}

	callCtx := ctx
	if timeout := e.timeoutFor(j.node); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := j.node.Agent.Invoke(callCtx, j.input)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return "", agent.Classify(err)
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}

	if j.key != "" {
		if err := e.cache.Put(ctx, j.key, []byte(out)); err != nil {
			e.logger.Warn("failed to write cache entry",
				zap.String("node_id", j.node.ID),
				zap.Error(err))
		}
	}
	return out, nil
}
