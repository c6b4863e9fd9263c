package output

import (
	"cohortq/internal/federation"
	"errors"
)

// Failure describes why one repository, or the call as a whole, failed.
type Failure struct {
	Repository string `json:"repository,omitempty"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

// Report is the consolidated record of one federated call: the result, the
// completeness indicator and every per-repository failure.
type Report struct {
	CallID       string    `json:"call_id,omitempty"`
	Operation    string    `json:"operation"`
	Strategy     string    `json:"strategy,omitempty"`
	State        string    `json:"state"`
	Complete     bool      `json:"complete"`
	Coverage     string    `json:"coverage"`
	Handles      int       `json:"handles"`
	Answered     int       `json:"answered"`
	Contributors []string  `json:"contributors,omitempty"`
	SatisfiedBy  string    `json:"satisfied_by,omitempty"`
	Failures     []Failure `json:"failures,omitempty"`
	Error        *Failure  `json:"error,omitempty"`
	Result       any       `json:"result,omitempty"`
	ExitCode     int       `json:"exit_code"`
}

// NewReport builds the Report for a finished call. out is nil when err is set.
func NewReport(info federation.CallInfo, out *federation.Outcome, err error, exitCode int) Report {
	r := Report{
		CallID:    info.CallID,
		Operation: info.Operation,
		Strategy:  info.Strategy,
		Handles:   info.Handles,
		ExitCode:  exitCode,
	}

	if err != nil {
		r.State = failedState(err)
		f := failureOf("", err)
		r.Error = &f

		var fe *federation.Error
		if errors.As(err, &fe) && fe.Failures != nil {
			r.Failures = failuresOf(fe.Failures)
		}
		r.Coverage = (&federation.Outcome{Handles: info.Handles}).Coverage()
		return r
	}

	r.State = out.State.String()
	r.Complete = out.Complete()
	r.Coverage = out.Coverage()
	r.Answered = out.Answered()
	r.Result = out.Result
	for _, src := range out.Contributors {
		r.Contributors = append(r.Contributors, repositoryName(src.RepositoryID))
	}
	if out.SatisfiedBy != nil {
		r.SatisfiedBy = repositoryName(out.SatisfiedBy.RepositoryID)
	}
	r.Failures = failuresOf(out.Failures)
	return r
}

// failedState names the state a failed call ended in: exhausted when every
// repository was asked and failed, aborted otherwise.
func failedState(err error) string {
	if federation.KindOf(err) == federation.KindAllRepositoriesFailed {
		return federation.StateExhausted.String()
	}
	return federation.StateAborted.String()
}

func failuresOf(f *federation.Failures) []Failure {
	var out []Failure
	for _, e := range f.Entries() {
		out = append(out, failureOf(string(e.Source.RepositoryID), e.Err))
	}
	return out
}

func failureOf(repository string, err error) Failure {
	f := Failure{
		Repository: repository,
		Status:     StatusOf(err),
		Message:    err.Error(),
	}
	if k := federation.KindOf(err); k != 0 {
		f.Kind = k.String()
		f.Code = k.Code()
	}
	return f
}
