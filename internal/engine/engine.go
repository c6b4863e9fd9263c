package engine

import (
	"cohortq/internal/config"
	"cohortq/internal/federation"
	"cohortq/internal/metrics"
	"cohortq/internal/operations"
	"cohortq/internal/output"
	"cohortq/internal/telemetry"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const metricsNamespace = "cohortq"

func exitCodeForCall(fatal, partial, empty bool) int {
	// Exit code contract:
	// 0 = complete answer
	// 1 = every repository answered but nothing was found
	// 2 = partial answer (some repositories failed)
	// 3 = fatal error (no answer at all)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	if empty {
		return 1
	}
	return 0
}

// finder is implemented by results that can tell an empty answer apart.
type finder interface {
	Found() bool
}

func exitCodeForOutcome(out *federation.Outcome, err error) int {
	if err != nil || out == nil {
		return exitCodeForCall(true, false, false)
	}
	empty := false
	if f, ok := out.Result.(finder); ok {
		empty = !f.Found()
	}
	return exitCodeForCall(false, out.Partial(), empty)
}

func (e *Engine) setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(e.Stdout, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(e.Stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

// callCapture remembers the CallInfo the controller assigned so the final
// report carries the same call id as the streamed events.
type callCapture struct {
	federation.NopObserver
	info federation.CallInfo
}

func (c *callCapture) CallStarted(info federation.CallInfo) { c.info = info }

type Engine struct {
	Logger *zap.Logger
	Stdout io.Writer
	Stderr io.Writer
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Logger: logger,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (e *Engine) progress(cfg *config.Config, format string, args ...any) {
	if cfg.Output.NoConsole {
		return
	}
	fmt.Fprintf(e.Stderr, format, args...)
}

// plannedCall is everything Run needs before it talks to any repository.
type plannedCall struct {
	op       operations.Operation
	req      federation.Request
	exec     federation.Executor
	strategy federation.Strategy
	cohort   *config.CohortFile
	callerID string
}

func (e *Engine) planCall(cfg *config.Config, opID string) (*plannedCall, error) {
	op, err := operations.Resolve(opID)
	if err != nil {
		return nil, err
	}
	params, err := operations.ParseParams(cfg.Query.Params)
	if err != nil {
		return nil, err
	}

	e.progress(cfg, "Loading cohort %s...\n", cfg.Cohort.File)
	cf, err := config.LoadCohortFile(cfg.Cohort.File)
	if err != nil {
		return nil, err
	}

	name := cfg.Query.Strategy
	if name == "" {
		name = op.DefaultStrategy()
	}
	strategy, err := federation.ParseStrategy(name, cfg.Query.Concurrency)
	if err != nil {
		return nil, err
	}

	caller := callerID(cf, cfg)
	req, exec, err := op.Build(params, operations.Settings{
		UserID:      caller,
		Strict:      cfg.Query.Strict,
		Parallel:    strategy.IsParallel(),
		MaxPageSize: cfg.Query.MaxPageSize,
	})
	if err != nil {
		return nil, err
	}

	return &plannedCall{
		op:       op,
		req:      req,
		exec:     exec,
		strategy: strategy,
		cohort:   cf,
		callerID: caller,
	}, nil
}

// Run executes one federated operation against the cohort named by cfg and
// returns the process exit code.
func (e *Engine) Run(ctx context.Context, cfg *config.Config, opID string) int {
	plan, err := e.planCall(cfg, opID)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Error preparing %s: %v\n", opID, err)
		return exitCodeForCall(true, false, false)
	}

	named, err := buildHandles(plan.cohort, cfg, e.Logger)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Error building cohort: %v\n", err)
		return exitCodeForCall(true, false, false)
	}
	e.progress(cfg, "Cohort has %d repositories.\n", len(named))

	resolver, closeCache, err := newIdentityResolver(ctx, plan.cohort, cfg, e.Logger)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Error connecting identity cache: %v\n", err)
		return exitCodeForCall(true, false, false)
	}
	defer func() {
		if err := closeCache(); err != nil {
			e.Logger.Warn("failed to close identity cache", zap.Error(err))
		}
	}()

	tp, err := telemetry.Init(ctx, cfg.Telemetry, e.Logger)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Error initializing tracing: %v\n", err)
		return exitCodeForCall(true, false, false)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			e.Logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	outMgr, err := e.setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Error creating output sinks: %v\n", err)
		return exitCodeForCall(true, false, false)
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			e.Logger.Warn("failed to close output sinks", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	capture := &callCapture{info: federation.CallInfo{
		Operation: plan.op.ID(),
		Strategy:  plan.strategy.String(),
		Handles:   len(named),
	}}
	observers := federation.Observers{
		capture,
		output.NewObserver(outMgr, e.Logger),
		metrics.NewObserver(metricsNamespace, reg, e.Logger),
	}

	ctrl := federation.NewController(handlesOf(named),
		federation.WithIdentityResolver(resolver),
		federation.WithCallerID(plan.callerID),
		federation.WithObserver(observers),
		federation.WithLogger(e.Logger),
	)

	callCtx, cancel := context.WithTimeout(ctx, cfg.Query.Timeout)
	defer cancel()
	out, runErr := ctrl.Run(callCtx, plan.req, plan.exec, plan.strategy)

	code := exitCodeForOutcome(out, runErr)
	if err := outMgr.Write(output.NewReport(capture.info, out, runErr, code)); err != nil {
		e.Logger.Warn("failed to write report", zap.Error(err))
	}

	if cfg.Output.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.Output.MetricsFile, reg); err != nil {
			fmt.Fprintf(e.Stderr, "Error writing metrics: %v\n", err)
		}
	}
	return code
}

// Identify asks every cohort member for its repository id and returns the
// answers in cohort order. Per-repository failures are reported on the
// results; the error is reserved for problems with the cohort itself.
func (e *Engine) Identify(ctx context.Context, cfg *config.Config) ([]IdentifyResult, error) {
	cf, err := config.LoadCohortFile(cfg.Cohort.File)
	if err != nil {
		return nil, err
	}
	named, err := buildHandles(cf, cfg, e.Logger)
	if err != nil {
		return nil, err
	}

	resolver, closeCache, err := newIdentityResolver(ctx, cf, cfg, e.Logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeCache(); err != nil {
			e.Logger.Warn("failed to close identity cache", zap.Error(err))
		}
	}()

	concurrency := cfg.Query.Concurrency
	if concurrency <= 0 {
		concurrency = len(named)
	}
	scheduler, err := NewIdentifyScheduler(resolver, callerID(cf, cfg), concurrency)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Query.Timeout)
	defer cancel()

	resCh, errCh := scheduler.Execute(runCtx, named)
	results := make([]IdentifyResult, 0, len(named))
	for res := range resCh {
		if res.Err != nil {
			pres := presentFailure(res.Err, cfg.Runtime.Verbose)
			res.Code, res.Message = pres.code, pres.message
		}
		results = append(results, res)
	}
	for err := range errCh {
		if err != nil {
			return nil, fmt.Errorf("identify cohort: %w", err)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Position < results[j].Position })
	return results, nil
}

func handlesOf(named []namedHandle) []federation.Handle {
	out := make([]federation.Handle, len(named))
	for i, nh := range named {
		out[i] = nh.handle
	}
	return out
}
