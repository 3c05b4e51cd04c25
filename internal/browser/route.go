package browser

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Fulfillment is a synthetic response used to answer an intercepted request
// without letting it reach the network.
type Fulfillment struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// ContinueOverrides optionally rewrites parts of a request before it
// continues to the network.
type ContinueOverrides struct {
	URL      string
	Method   string
	Headers  map[string]string
	PostData []byte
}

// Route is the control object handed to the winning route handler for one
// intercepted request. Exactly one of Continue, Fulfill or Abort must be
// called; the second resolution attempt fails with ErrRouteAlreadyHandled.
// Handlers may return first and resolve asynchronously, but the engine
// enforces the context's default timeout as an upper bound, after which the
// request is failed.
type Route struct {
	url      string
	method   string
	headers  map[string]string
	resolver RouteResolver

	ctx context.Context
	log *zap.Logger

	mu       sync.Mutex
	resolved bool
	done     chan struct{}
}

func newRoute(ctx context.Context, req *InterceptedRequest, log *zap.Logger) *Route {
	return &Route{
		url:      req.URL,
		method:   req.Method,
		headers:  req.Headers,
		resolver: req.Resolver,
		ctx:      ctx,
		log:      log,
		done:     make(chan struct{}),
	}
}

// URL returns the request URL being intercepted.
func (r *Route) URL() string { return r.url }

// Method returns the request's HTTP method.
func (r *Route) Method() string { return r.method }

// Headers returns a copy of the request headers.
func (r *Route) Headers() map[string]string {
	h := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		h[k] = v
	}
	return h
}

// Continue lets the request proceed to the network unmodified.
func (r *Route) Continue() error {
	return r.resolve(func() error {
		return r.resolver.Continue(r.ctx, nil)
	})
}

// ContinueWith lets the request proceed with parts of it rewritten.
func (r *Route) ContinueWith(overrides ContinueOverrides) error {
	return r.resolve(func() error {
		return r.resolver.Continue(r.ctx, &overrides)
	})
}

// Fulfill answers the request with a synthetic response.
func (r *Route) Fulfill(response Fulfillment) error {
	if response.Status == 0 {
		response.Status = 200
	}
	return r.resolve(func() error {
		return r.resolver.Fulfill(r.ctx, &response)
	})
}

// Abort fails the request with the given reason ("aborted", "failed",
// "timedout", "accessdenied", ...). An empty reason means "failed".
func (r *Route) Abort(reason string) error {
	if reason == "" {
		reason = "failed"
	}
	return r.resolve(func() error {
		return r.resolver.Abort(r.ctx, reason)
	})
}

func (r *Route) resolve(fn func() error) error {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return ErrRouteAlreadyHandled
	}
	r.resolved = true
	close(r.done)
	r.mu.Unlock()
	return fn()
}

// watch enforces the resolution deadline. When it fires, the request is
// failed on behalf of the defective handler; when the owning context dies
// first, the route is aborted best-effort.
func (r *Route) watch(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		if err := r.Abort("timedout"); err == nil {
			r.log.Warn("route handler timed out, request failed",
				zap.String("url", r.url),
				zap.Duration("timeout", timeout),
				zap.Error(ErrRouteTimeout))
		}
	case <-r.ctx.Done():
		// Best effort: the driver call will likely fail too, since the
		// context is going away.
		_ = r.Abort("aborted")
	}
}
