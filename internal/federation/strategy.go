package federation

import (
	"fmt"
	"strings"
)

type strategyKind int

const (
	strategySequential strategyKind = iota
	strategyParallel
)

// Strategy selects the concurrency discipline of one federated call.
type Strategy struct {
	kind           strategyKind
	maxConcurrency int
}

// Sequential visits handles one at a time, in list order, on the caller's goroutine.
func Sequential() Strategy {
	return Strategy{kind: strategySequential}
}

// Parallel dispatches every handle on its own goroutine, with at most
// maxConcurrency invocations in flight. maxConcurrency <= 0 means no bound.
func Parallel(maxConcurrency int) Strategy {
	if maxConcurrency < 0 {
		maxConcurrency = 0
	}
	return Strategy{kind: strategyParallel, maxConcurrency: maxConcurrency}
}

// ParseStrategy maps a CLI/config name onto a Strategy.
func ParseStrategy(name string, maxConcurrency int) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sequential":
		return Sequential(), nil
	case "parallel":
		return Parallel(maxConcurrency), nil
	default:
		return Strategy{}, fmt.Errorf("unsupported strategy %q (must be one of: sequential, parallel)", name)
	}
}

func (s Strategy) IsParallel() bool {
	return s.kind == strategyParallel
}

// MaxConcurrency returns the in-flight bound for Parallel; 0 means unbounded.
func (s Strategy) MaxConcurrency() int {
	return s.maxConcurrency
}

func (s Strategy) String() string {
	if s.kind == strategyParallel {
		return "parallel"
	}
	return "sequential"
}
