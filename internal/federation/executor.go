package federation

// Policy declares how an Executor expects the controller to treat it.
type Policy struct {
	// Strict demands all-or-nothing results: a malformed repository response
	// aborts the call instead of being isolated.
	Strict bool

	// FirstResponderWins means the executor's outcome depends on the order in
	// which responses are accepted. Such executors only run sequentially.
	FirstResponderWins bool
}

// Executor folds per-repository responses into one consolidated outcome.
//
// The controller never calls Accept concurrently, so implementations need no
// locking of their own.
type Executor interface {
	// Accept folds one repository's answer into the running outcome. A non-nil
	// error marks the response as structurally invalid for this operation; a
	// *Error of KindConflictingRepositoryState aborts the call.
	Accept(src Source, resp Response) error

	// Satisfied reports whether enough repositories have answered.
	Satisfied() bool

	// Result returns the best available outcome, even if never satisfied.
	Result() any

	Policy() Policy
}
