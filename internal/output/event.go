package output

import (
	"cohortq/internal/federation"
	"time"
)

// Lifecycle event types.
const (
	EventCallStarted        = "call.started"
	EventRepositoryAnswered = "repository.answered"
	EventRepositoryFailed   = "repository.failed"
	EventCallFinished       = "call.finished"
	EventCallReport         = "call.report"
)

// Repository statuses carried by repository events.
const (
	StatusOK          = "OK"
	StatusUnavailable = "UNAVAILABLE"
	StatusMalformed   = "MALFORMED"
	StatusConflict    = "CONFLICT"
	StatusAborted     = "ABORTED"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line):
// - call.started
// - repository.answered / repository.failed, in accept order
// - call.finished
// - call.report, wrapping the consolidated Report
//
// JSON mode is an aggregate of Report values.
type Event struct {
	Type       string  `json:"type"`
	CallID     string  `json:"call_id,omitempty"`
	Operation  string  `json:"operation,omitempty"`
	Strategy   string  `json:"strategy,omitempty"`
	Handles    int     `json:"handles,omitempty"`
	Repository string  `json:"repository,omitempty"`
	Position   *int    `json:"position,omitempty"`
	Status     string  `json:"status,omitempty"`
	Kind       string  `json:"kind,omitempty"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message,omitempty"`
	ElapsedMs  int64   `json:"elapsed_ms,omitempty"`
	State      string  `json:"state,omitempty"`
	Coverage   string  `json:"coverage,omitempty"`
	Report     *Report `json:"report,omitempty"`
}

func eventFromReport(r Report) Event {
	return Event{Type: EventCallReport, CallID: r.CallID, Operation: r.Operation, Report: &r}
}

func repositoryEvent(typ string, info federation.CallInfo, src federation.Source, elapsed time.Duration) Event {
	pos := src.Position
	return Event{
		Type:       typ,
		CallID:     info.CallID,
		Operation:  info.Operation,
		Strategy:   info.Strategy,
		Repository: repositoryName(src.RepositoryID),
		Position:   &pos,
		ElapsedMs:  elapsed.Milliseconds(),
	}
}

// StatusOf maps a repository failure to its console status.
func StatusOf(err error) string {
	if err == nil {
		return StatusOK
	}
	switch federation.KindOf(err) {
	case federation.KindMalformedRepositoryState:
		return StatusMalformed
	case federation.KindConflictingRepositoryState:
		return StatusConflict
	case federation.KindAborted:
		return StatusAborted
	default:
		return StatusUnavailable
	}
}

func repositoryName(id federation.RepositoryID) string {
	if id == "" {
		return "<unidentified>"
	}
	return string(id)
}
