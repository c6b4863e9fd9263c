package federation

import (
	"cohortq/internal/logging"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "cohortq/internal/federation"

// Controller drives one federated call over an ordered list of handles.
//
// The handle list is borrowed: the controller never reorders or mutates it.
// A Controller may be reused for further calls once a Run has returned, but
// Run must not be called concurrently on the same Controller.
type Controller struct {
	handles  []Handle
	resolver *IdentityResolver
	callerID string
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	state State
}

type Option func(*Controller)

// WithIdentityResolver routes Identify calls through r so ids are cached
// across calls.
func WithIdentityResolver(r *IdentityResolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithCallerID sets the user id passed to Handle.Identify.
func WithCallerID(id string) Option {
	return func(c *Controller) { c.callerID = id }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

func NewController(handles []Handle, opts ...Option) *Controller {
	c := &Controller{
		handles:  handles,
		observer: NopObserver{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(c)
		}
	}
	c.logger = c.logger.With(zap.String("component", "federation"))
	return c
}

// State returns the state reached by the most recent Run.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// invocation is the result of asking one handle.
type invocation struct {
	src     Source
	resp    Response
	err     error
	elapsed time.Duration
}

// accumulator is the single point where invocations are folded into the
// executor. Only the goroutine running Run touches it.
type accumulator struct {
	exec     Executor
	policy   Policy
	info     CallInfo
	observer Observer
	logger   *zap.Logger

	contributors []Source
	failures     Failures
	satisfiedBy  *Source
	abortErr     error
}

// apply folds one invocation and reports whether the call should stop.
func (a *accumulator) apply(inv invocation) bool {
	if inv.err != nil {
		return a.fail(inv, classify(inv.src.RepositoryID, inv.err))
	}

	if err := a.exec.Accept(inv.src, inv.resp); err != nil {
		var fe *Error
		if errors.As(err, &fe) && fe.Kind == KindConflictingRepositoryState {
			return a.fail(inv, classify(inv.src.RepositoryID, fe))
		}
		return a.fail(inv, Malformed(inv.src.RepositoryID, err))
	}

	a.contributors = append(a.contributors, inv.src)
	a.observer.RepositoryAnswered(a.info, inv.src, inv.elapsed)
	a.logger.Debug("repository answered",
		zap.String("repository_id", string(inv.src.RepositoryID)),
		zap.Int("position", inv.src.Position),
		zap.Duration("elapsed", inv.elapsed),
	)

	if a.exec.Satisfied() {
		src := inv.src
		a.satisfiedBy = &src
		return true
	}
	return false
}

func (a *accumulator) fail(inv invocation, fe *Error) bool {
	src := inv.src
	if src.RepositoryID == "" {
		src.RepositoryID = fe.RepositoryID
	}
	a.failures.record(src, fe)
	a.observer.RepositoryFailed(a.info, inv.src, fe, inv.elapsed)
	a.logger.Warn("repository failed",
		zap.String("repository_id", string(fe.RepositoryID)),
		zap.Int("position", inv.src.Position),
		zap.Stringer("kind", fe.Kind),
		zap.Error(fe.Cause),
	)

	switch {
	case fe.Kind == KindConflictingRepositoryState:
		a.abortErr = aborted(fe)
		return true
	case fe.Kind == KindMalformedRepositoryState && a.policy.Strict:
		a.abortErr = aborted(fe)
		return true
	default:
		return false
	}
}

// Run issues req to every handle according to strategy and folds the answers
// into exec.
//
// It returns an Outcome when at least one repository answered (or the
// executor was satisfied). It returns an error when the cohort is empty, when
// every repository failed, or when the call was aborted by strict mode, a
// conflict, or the caller's context.
func (c *Controller) Run(ctx context.Context, req Request, exec Executor, strategy Strategy) (*Outcome, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Run: nil context")
	}
	if req == nil {
		return nil, fmt.Errorf("Run: nil request")
	}
	if exec == nil {
		return nil, fmt.Errorf("Run: nil executor")
	}
	policy := exec.Policy()
	if strategy.IsParallel() && policy.FirstResponderWins {
		return nil, ErrOrderedExecutorParallel
	}

	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.state = StateRunning
	c.mu.Unlock()

	info := CallInfo{
		CallID:    uuid.NewString(),
		Operation: req.Operation(),
		Strategy:  strategy.String(),
		Handles:   len(c.handles),
	}
	ctx = logging.WithFields(ctx,
		zap.String("call_id", info.CallID),
		zap.String("operation", info.Operation),
	)
	logger := logging.WithContext(ctx, c.logger)

	ctx, span := c.tracer.Start(ctx, "federation.Run", trace.WithAttributes(
		attribute.String("federation.call_id", info.CallID),
		attribute.String("federation.operation", info.Operation),
		attribute.String("federation.strategy", info.Strategy),
		attribute.Int("federation.handles", info.Handles),
	))
	defer span.End()

	c.observer.CallStarted(info)
	logger.Debug("federated call started", zap.String("strategy", info.Strategy), zap.Int("handles", info.Handles))

	acc := &accumulator{
		exec:     exec,
		policy:   policy,
		info:     info,
		observer: c.observer,
		logger:   logger,
	}

	var (
		out *Outcome
		err error
	)
	if len(c.handles) == 0 {
		c.setState(StateAborted)
		err = ErrNoRepositoriesRegistered
	} else {
		if strategy.IsParallel() {
			c.runParallel(ctx, req, acc, strategy.MaxConcurrency())
		} else {
			c.runSequential(ctx, req, acc)
		}
		out, err = c.finish(info, acc)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Info("federated call failed", zap.Stringer("kind", KindOf(err)), zap.Error(err))
	} else {
		span.SetAttributes(attribute.Int("federation.answered", out.Answered()))
		logger.Info("federated call finished",
			zap.Stringer("state", out.State),
			zap.String("coverage", out.Coverage()),
			zap.Int("failures", out.Failures.Len()),
		)
	}
	c.observer.CallFinished(info, out, err)
	return out, err
}

func (c *Controller) finish(info CallInfo, acc *accumulator) (*Outcome, error) {
	if acc.abortErr != nil {
		c.setState(StateAborted)
		return nil, acc.abortErr
	}

	failures := acc.failures
	out := &Outcome{
		CallID:       info.CallID,
		Result:       acc.exec.Result(),
		Handles:      info.Handles,
		Contributors: acc.contributors,
		Failures:     &failures,
		SatisfiedBy:  acc.satisfiedBy,
	}
	if acc.satisfiedBy != nil {
		out.State = StateSatisfied
		c.setState(StateSatisfied)
		return out, nil
	}

	c.setState(StateExhausted)
	if len(acc.contributors) == 0 {
		// Distinguish "nobody had an answer" from "nobody could be asked".
		return nil, &Error{Kind: KindAllRepositoriesFailed, Failures: &failures}
	}
	out.State = StateExhausted
	return out, nil
}

func (c *Controller) runSequential(ctx context.Context, req Request, acc *accumulator) {
	for i, h := range c.handles {
		if err := ctx.Err(); err != nil {
			acc.abortErr = abortFromContext(ctx)
			return
		}
		inv := c.invoke(ctx, i, h, req)
		if inv.err != nil && ctx.Err() != nil {
			acc.abortErr = abortFromContext(ctx)
			return
		}
		if acc.apply(inv) {
			return
		}
	}
}

func (c *Controller) runParallel(ctx context.Context, req Request, acc *accumulator, limit int) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so workers never block on a collector that has stopped reading;
	// anything left in it after an early return is discarded.
	results := make(chan invocation, len(c.handles))

	g, gctx := errgroup.WithContext(runCtx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	go func() {
		defer close(results)
		for i, h := range c.handles {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				results <- c.invoke(gctx, i, h, req)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for {
		select {
		case inv, ok := <-results:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				acc.abortErr = abortFromContext(ctx)
				return
			}
			if acc.apply(inv) {
				// Advisory: outstanding invocations observe gctx and their
				// responses are never read.
				cancel()
				return
			}
		case <-ctx.Done():
			acc.abortErr = abortFromContext(ctx)
			return
		}
	}
}

// invoke resolves the handle's repository id and issues req to it.
func (c *Controller) invoke(ctx context.Context, pos int, h Handle, req Request) invocation {
	start := time.Now()
	src := Source{Position: pos}

	ctx, span := c.tracer.Start(ctx, "federation.Invoke", trace.WithAttributes(
		attribute.Int("federation.position", pos),
	))
	defer span.End()

	id, err := c.identify(ctx, h)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identify failed")
		return invocation{src: src, err: err, elapsed: time.Since(start)}
	}
	src.RepositoryID = id
	span.SetAttributes(attribute.String("federation.repository_id", string(id)))

	resp, err := h.Invoke(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invoke failed")
	}
	return invocation{src: src, resp: resp, err: err, elapsed: time.Since(start)}
}

func (c *Controller) identify(ctx context.Context, h Handle) (RepositoryID, error) {
	if c.resolver != nil {
		return c.resolver.Resolve(ctx, h, c.callerID)
	}
	return identifyOnce(ctx, h, c.callerID)
}

func abortFromContext(ctx context.Context) *Error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return aborted(fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return aborted(err)
}
