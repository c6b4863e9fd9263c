package output

import (
	"cohortq/internal/federation"
	"time"

	"go.uber.org/zap"
)

// Observer streams controller lifecycle notifications to a Manager as Events.
type Observer struct {
	mgr    *Manager
	logger *zap.Logger
}

func NewObserver(mgr *Manager, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{mgr: mgr, logger: logger.With(zap.String("component", "output"))}
}

func (o *Observer) CallStarted(info federation.CallInfo) {
	o.write(Event{
		Type:      EventCallStarted,
		CallID:    info.CallID,
		Operation: info.Operation,
		Strategy:  info.Strategy,
		Handles:   info.Handles,
	})
}

func (o *Observer) RepositoryAnswered(info federation.CallInfo, src federation.Source, elapsed time.Duration) {
	e := repositoryEvent(EventRepositoryAnswered, info, src, elapsed)
	e.Status = StatusOK
	o.write(e)
}

func (o *Observer) RepositoryFailed(info federation.CallInfo, src federation.Source, err error, elapsed time.Duration) {
	e := repositoryEvent(EventRepositoryFailed, info, src, elapsed)
	f := failureOf(e.Repository, err)
	e.Status = f.Status
	e.Kind = f.Kind
	e.Code = f.Code
	e.Message = f.Message
	o.write(e)
}

func (o *Observer) CallFinished(info federation.CallInfo, out *federation.Outcome, err error) {
	if out == nil {
		out = &federation.Outcome{Handles: info.Handles}
	}
	e := Event{
		Type:      EventCallFinished,
		CallID:    info.CallID,
		Operation: info.Operation,
		Strategy:  info.Strategy,
		Handles:   info.Handles,
		Coverage:  out.Coverage(),
	}
	if err != nil {
		f := failureOf("", err)
		e.State = failedState(err)
		e.Status = f.Status
		e.Kind = f.Kind
		e.Code = f.Code
		e.Message = f.Message
	} else {
		e.State = out.State.String()
	}
	o.write(e)
}

func (o *Observer) write(e Event) {
	if err := o.mgr.Write(e); err != nil {
		o.logger.Warn("failed to write event", zap.String("type", e.Type), zap.Error(err))
	}
}
