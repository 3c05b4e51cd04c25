package browser

import (
	"sync"
)

// Page is a single browsing surface (tab or popup window) owned by a
// Context. It is an opaque handle over the driver-side target, plus its own
// route table: page-scope routes always win over context-scope routes for
// requests issued by this page.
type Page struct {
	id      string
	context *Context
	handle  PageHandle
	routes  *routeTable

	mu     sync.Mutex
	closed bool
}

// ID returns the driver-assigned identifier of the page's target.
func (p *Page) ID() string { return p.id }

// Context returns the owning browsing context.
func (p *Page) Context() *Context { return p.context }

// Route registers a page-scope interception route. Registering any route
// disables the HTTP cache for the whole context, for the rest of the
// session.
func (p *Page) Route(m Matcher, handler RouteHandler) error {
	return p.context.addRoute(p.routes, m, handler)
}

// Unroute removes page-scope registrations; see Context.Unroute for the
// matcher/handler removal rules.
func (p *Page) Unroute(m Matcher, handler ...RouteHandler) error {
	return p.context.removeRoute(p.routes, m, handler...)
}

// Navigate drives the page to url, bounded by the context's navigation
// timeout.
func (p *Page) Navigate(url string) error {
	if err := p.context.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := p.context.navCtx()
	defer cancel()
	return p.handle.Navigate(ctx, url)
}

// Content returns the page's current HTML.
func (p *Page) Content() (string, error) {
	if err := p.context.checkOpen(); err != nil {
		return "", err
	}
	ctx, cancel := p.context.opCtx()
	defer cancel()
	return p.handle.Content(ctx)
}

// Close tears the page down. Closing an already-closed page, or a page whose
// context has been closed, is a no-op.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.context.removePage(p)
	if p.context.checkOpen() != nil {
		return nil
	}
	ctx, cancel := p.context.opCtx()
	defer cancel()
	return p.handle.Close(ctx)
}
