package federation

import "time"

// CallInfo identifies one federated call for observers.
type CallInfo struct {
	CallID    string
	Operation string
	Strategy  string
	Handles   int
}

// Observer receives lifecycle notifications from a Controller. Calls for one
// federated call are never concurrent; they are made from the accumulation
// point, so repository notifications follow Accept order.
type Observer interface {
	CallStarted(info CallInfo)
	RepositoryAnswered(info CallInfo, src Source, elapsed time.Duration)
	RepositoryFailed(info CallInfo, src Source, err error, elapsed time.Duration)
	CallFinished(info CallInfo, outcome *Outcome, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) CallStarted(CallInfo) {}
func (NopObserver) RepositoryAnswered(CallInfo, Source, time.Duration) {}
func (NopObserver) RepositoryFailed(CallInfo, Source, error, time.Duration) {}
func (NopObserver) CallFinished(CallInfo, *Outcome, error) {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (obs Observers) CallStarted(info CallInfo) {
	for _, o := range obs {
		o.CallStarted(info)
	}
}

func (obs Observers) RepositoryAnswered(info CallInfo, src Source, elapsed time.Duration) {
	for _, o := range obs {
		o.RepositoryAnswered(info, src, elapsed)
	}
}

func (obs Observers) RepositoryFailed(info CallInfo, src Source, err error, elapsed time.Duration) {
	for _, o := range obs {
		o.RepositoryFailed(info, src, err, elapsed)
	}
}

func (obs Observers) CallFinished(info CallInfo, outcome *Outcome, err error) {
	for _, o := range obs {
		o.CallFinished(info, outcome, err)
	}
}
