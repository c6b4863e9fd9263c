package federation

import "context"

// RepositoryID identifies a repository's metadata collection. It is non-empty
// once obtained from a handle.
type RepositoryID string

// Request describes one federated operation. Implementations must be immutable
// so the same value can be passed to every handle.
type Request interface {
	Operation() string
}

// Response is the opaque per-repository answer. A nil Response means the
// repository had nothing matching; a failed call is reported through the error
// return instead.
type Response any

// Handle is a capability reference to one repository's query interface.
//
// Each method performs exactly one attempt. Retry policy lives above the
// handle (see RetryingHandle) and timeouts are imposed by the caller's context.
type Handle interface {
	Identify(ctx context.Context, callerID string) (RepositoryID, error)
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Source names the repository a response came from and its position in the
// handle list supplied by the caller.
type Source struct {
	RepositoryID RepositoryID
	Position     int
}

// HandleFunc adapts a pair of functions to the Handle interface.
type HandleFunc struct {
	IdentifyFunc func(ctx context.Context, callerID string) (RepositoryID, error)
	InvokeFunc   func(ctx context.Context, req Request) (Response, error)
}

func (h HandleFunc) Identify(ctx context.Context, callerID string) (RepositoryID, error) {
	return h.IdentifyFunc(ctx, callerID)
}

func (h HandleFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return h.InvokeFunc(ctx, req)
}
