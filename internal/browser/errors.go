package browser

import (
	"errors"
	"fmt"
)

// Sentinel errors for the binding surface. Callers match them with errors.Is.
var (
	// ErrContextClosed is returned by any operation attempted after the
	// context has been closed, except the documented idempotent ones.
	ErrContextClosed = errors.New("context closed")

	// ErrRouteTimeout means a route handler never resolved its route within
	// the context's default timeout; the engine failed the request.
	ErrRouteTimeout = errors.New("route handler did not resolve in time")

	// ErrRouteAlreadyHandled is returned when a handler resolves the same
	// route more than once.
	ErrRouteAlreadyHandled = errors.New("route already handled")

	// ErrWaitTimeout is returned by WaitForPage when the wait deadline
	// elapses before a matching page shows up.
	ErrWaitTimeout = errors.New("timed out waiting for page")

	// ErrWaitAborted is returned by WaitForPage when the context closes
	// while the caller is still waiting.
	ErrWaitAborted = errors.New("context closed while waiting for page")
)

// HandlerAggregateError collects the failures of a single event dispatch
// round. A failing handler never prevents its siblings from running; the
// round completes first and the collected failures surface afterwards.
type HandlerAggregateError struct {
	Event string
	Errs  []error
}

func (e *HandlerAggregateError) Error() string {
	return fmt.Sprintf("%d handler(s) failed during %q dispatch: %v", len(e.Errs), e.Event, errors.Join(e.Errs...))
}

// Unwrap exposes the individual handler failures to errors.Is/As.
func (e *HandlerAggregateError) Unwrap() []error {
	return e.Errs
}
