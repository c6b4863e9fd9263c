package engine

import (
	"cohortq/internal/federation"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// IdentifyResult is the answer of one cohort member to Identify.
type IdentifyResult struct {
	Position   int
	Name       string
	HandleKind string
	ID         federation.RepositoryID
	ElapsedMs  int64

	// Err is the raw failure; Code and Message are its console rendering.
	Err     error
	Code    string
	Message string
}

type namedHandle struct {
	name   string
	kind   string
	handle federation.Handle
}

// IdentifyScheduler asks every member of a cohort for its id with bounded
// concurrency.
type IdentifyScheduler struct {
	resolver    *federation.IdentityResolver
	callerID    string
	concurrency int
}

func NewIdentifyScheduler(resolver *federation.IdentityResolver, callerID string, concurrency int) (*IdentifyScheduler, error) {
	if resolver == nil {
		return nil, errors.New("identity resolver is nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &IdentifyScheduler{resolver: resolver, callerID: callerID, concurrency: concurrency}, nil
}

// Execute streams one IdentifyResult per handle in completion order.
//
// Channel semantics:
//   - In the normal (non-canceled) case, exactly one result is sent per handle.
//   - On context cancellation, the scheduler stops promptly; it may emit fewer results.
//   - The results channel and error channel are both closed reliably.
//   - The error channel carries cancellation only; per-repository failures are
//     recorded on IdentifyResult.Err.
func (s *IdentifyScheduler) Execute(ctx context.Context, handles []namedHandle) (<-chan IdentifyResult, <-chan error) {
	resultsCh := make(chan IdentifyResult)
	errCh := make(chan error, 1)

	go func() {
		defer close(resultsCh)
		defer close(errCh)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		sem := make(chan struct{}, s.concurrency)
		var wg sync.WaitGroup

	scheduleLoop:
		for i, nh := range handles {
			if runCtx.Err() != nil {
				break
			}

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				break scheduleLoop
			}

			wg.Add(1)
			go func(pos int, nh namedHandle) {
				defer wg.Done()
				defer func() { <-sem }()

				start := time.Now()
				id, err := s.resolver.Resolve(runCtx, nh.handle, s.callerID)
				res := IdentifyResult{
					Position:   pos,
					Name:       nh.name,
					HandleKind: nh.kind,
					ID:         id,
					ElapsedMs:  time.Since(start).Milliseconds(),
					Err:        err,
				}
				select {
				case resultsCh <- res:
				case <-runCtx.Done():
				}
			}(i, nh)
		}

		wg.Wait()
		if err := ctx.Err(); err != nil {
			errCh <- err
		}
	}()

	return resultsCh, errCh
}
