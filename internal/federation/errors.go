package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a federation failure.
type Kind int

const (
	KindRepositoryUnavailable Kind = iota + 1
	KindMalformedRepositoryState
	KindConflictingRepositoryState
	KindNoRepositoriesRegistered
	KindAllRepositoriesFailed
	KindAborted
)

type kindInfo struct {
	name     string
	code     string
	template string
}

// kindTable is the audit code catalog. It is read-only after package init.
var kindTable = map[Kind]kindInfo{
	KindRepositoryUnavailable: {
		name:     "RepositoryUnavailable",
		code:     "FED-503-001",
		template: "repository %s is unavailable",
	},
	KindMalformedRepositoryState: {
		name:     "MalformedRepositoryState",
		code:     "FED-500-002",
		template: "repository %s returned a malformed response",
	},
	KindConflictingRepositoryState: {
		name:     "ConflictingRepositoryState",
		code:     "FED-409-003",
		template: "repository %s returned data that conflicts with another member of the cohort",
	},
	KindNoRepositoriesRegistered: {
		name:     "NoRepositoriesRegistered",
		code:     "FED-400-004",
		template: "no repositories are registered in the cohort",
	},
	KindAllRepositoriesFailed: {
		name:     "AllRepositoriesFailed",
		code:     "FED-503-005",
		template: "all %d repositories in the cohort failed",
	},
	KindAborted: {
		name:     "Aborted",
		code:     "FED-500-006",
		template: "federated call aborted",
	},
}

func (k Kind) String() string {
	if info, ok := kindTable[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the stable audit code for the kind.
func (k Kind) Code() string {
	if info, ok := kindTable[k]; ok {
		return info.code
	}
	return "FED-000-000"
}

// Describe renders the message template registered for k.
func Describe(k Kind, args ...any) string {
	info, ok := kindTable[k]
	if !ok {
		return "unknown federation failure"
	}
	if strings.Count(info.template, "%") == 0 {
		return info.template
	}
	return fmt.Sprintf(info.template, args...)
}

var (
	// ErrNoRepositoriesRegistered is returned by Run when the handle list is empty.
	ErrNoRepositoriesRegistered = &Error{Kind: KindNoRepositoriesRegistered}

	// ErrTimeout is wrapped by an Aborted error when the caller's deadline expires.
	ErrTimeout = errors.New("federated call deadline exceeded")

	// ErrOrderedExecutorParallel is returned when a first-responder-wins executor is run
	// with the parallel strategy.
	ErrOrderedExecutorParallel = errors.New("first-responder-wins executor cannot run with the parallel strategy")

	// ErrAlreadyRunning is returned by Run when the controller is already running.
	ErrAlreadyRunning = errors.New("controller is already running")
)

// Error is the single error type surfaced by the federation core.
type Error struct {
	Kind         Kind
	RepositoryID RepositoryID
	Cause        error

	// Failures is populated for KindAllRepositoriesFailed.
	Failures *Failures
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindRepositoryUnavailable, KindMalformedRepositoryState, KindConflictingRepositoryState:
		id := string(e.RepositoryID)
		if id == "" {
			id = "<unidentified>"
		}
		msg = Describe(e.Kind, id)
	case KindAllRepositoriesFailed:
		n := 0
		if e.Failures != nil {
			n = e.Failures.Len()
		}
		msg = Describe(e.Kind, n)
		if e.Failures != nil && n > 0 {
			msg = msg + ": " + e.Failures.String()
		}
		return msg
	default:
		msg = Describe(e.Kind)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so sentinel comparisons like errors.Is(err, ErrNoRepositoriesRegistered) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.RepositoryID == "" || t.RepositoryID == e.RepositoryID)
}

// Unavailable classifies cause as a transient failure of repository id.
func Unavailable(id RepositoryID, cause error) *Error {
	return &Error{Kind: KindRepositoryUnavailable, RepositoryID: id, Cause: cause}
}

// Malformed classifies cause as a permanent defect in repository id.
func Malformed(id RepositoryID, cause error) *Error {
	return &Error{Kind: KindMalformedRepositoryState, RepositoryID: id, Cause: cause}
}

// Conflicting reports that repository id disagrees with data already accepted.
func Conflicting(id RepositoryID, cause error) *Error {
	return &Error{Kind: KindConflictingRepositoryState, RepositoryID: id, Cause: cause}
}

func aborted(cause error) *Error {
	return &Error{Kind: KindAborted, Cause: cause}
}

// KindOf returns the kind of err, or 0 when err is not a federation error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsRetryable reports whether err is a transient repository failure.
// Unclassified errors count as unavailability, matching how the controller
// records them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindRepositoryUnavailable, 0:
		return true
	default:
		return false
	}
}

// classify attaches repository id to a handle error. Unclassified errors are
// treated as unavailability.
func classify(id RepositoryID, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		if fe.RepositoryID == "" && id != "" {
			cp := *fe
			cp.RepositoryID = id
			return &cp
		}
		return fe
	}
	return Unavailable(id, err)
}
