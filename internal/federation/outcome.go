package federation

import "fmt"

// State is the controller's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSatisfied
	StateExhausted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSatisfied:
		return "satisfied"
	case StateExhausted:
		return "exhausted"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the consolidated answer of a successful federated call together
// with the diagnostics a caller needs to judge its completeness.
type Outcome struct {
	CallID string
	State  State

	// Result is the executor's consolidated result.
	Result any

	// Handles is the size of the cohort the call was issued against.
	Handles int

	// Contributors lists the repositories whose responses were accepted, in
	// accept order.
	Contributors []Source

	// Failures lists every repository that could not be asked or answered
	// with a malformed response.
	Failures *Failures

	// SatisfiedBy is the repository whose response satisfied the executor.
	// It is nil when the call ended by exhaustion.
	SatisfiedBy *Source
}

// Answered returns how many repositories contributed to the result.
func (o *Outcome) Answered() int {
	if o == nil {
		return 0
	}
	return len(o.Contributors)
}

// Complete reports whether every repository in the cohort contributed.
func (o *Outcome) Complete() bool {
	return o != nil && o.Handles > 0 && o.Answered() == o.Handles
}

// Partial reports whether at least one repository failed.
func (o *Outcome) Partial() bool {
	return o != nil && o.Failures.Len() > 0
}

// Coverage renders the completeness indicator, e.g. "3 of 5 repositories answered".
func (o *Outcome) Coverage() string {
	if o == nil {
		return "0 of 0 repositories answered"
	}
	return fmt.Sprintf("%d of %d repositories answered", o.Answered(), o.Handles)
}
