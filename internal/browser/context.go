package browser

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const closeTimeout = 15 * time.Second

// ExposeBindingOptions tunes ExposeBinding. With Handle set, the binding
// accepts exactly one argument and receives it as an opaque handle instead
// of flattened values.
type ExposeBindingOptions struct {
	Handle bool
}

// GrantPermissionsOptions restricts a permission grant to one origin instead
// of all origins.
type GrantPermissionsOptions struct {
	Origin string
}

// StorageStateOptions makes StorageState additionally persist the snapshot
// to Path. The snapshot is returned either way.
type StorageStateOptions struct {
	Path string
}

// WaitForPageOptions filters and bounds WaitForPage. A nil Timeout means the
// 30 second default; an explicit zero disables the timer.
type WaitForPageOptions struct {
	Predicate func(*Page) bool
	Timeout   *time.Duration
}

// BindingCall is one invocation of an exposed binding from page JavaScript.
// Page is nil when the calling target is not (or no longer) tracked.
type BindingCall struct {
	Page   *Page
	Args   []json.RawMessage
	Handle json.RawMessage
}

// BindingFunc handles an exposed binding call; its result settles the
// page-side promise.
type BindingFunc func(call BindingCall) (any, error)

// Context is an isolated browsing session, analogous to a private browser
// profile. All browser manipulation is forwarded to the Driver; the Context
// itself owns only the bookkeeping: pages, event handlers, route tables,
// timeouts and mirrored overrides.
//
// Event rounds and route matching are serialized per context; separate
// contexts are fully independent.
type Context struct {
	id     string
	logger *zap.Logger
	driver Driver

	ctx    context.Context
	cancel context.CancelFunc

	hub    *eventHub
	routes *routeTable

	// dispatchMu serializes event dispatch rounds and route matching so
	// handlers observe no interleaved partial state.
	dispatchMu sync.Mutex

	mu             sync.Mutex
	closed         bool
	pages          []*Page
	initScripts    []string
	extraHeaders   map[string]string
	geolocation    *Geolocation
	offline        bool
	grants         map[string][]string
	routingEnabled bool

	timeouts *timeoutSettings

	// onClose is an internal hook for the driver manager (slot release).
	onClose func(*Context)
}

// NewContext wires a Context to its driver. The parent context bounds the
// session's lifetime.
func NewContext(parent context.Context, driver Driver, logger *zap.Logger) *Context {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(parent)
	c := &Context{
		id:       id,
		logger:   logger.With(zap.String("context_id", id)),
		driver:   driver,
		ctx:      ctx,
		cancel:   cancel,
		hub:      newEventHub(),
		routes:   newRouteTable(),
		grants:   make(map[string][]string),
		timeouts: newTimeoutSettings(),
	}
	driver.Attach(c)
	return c
}

// ID returns the context's unique identifier (a UUID string).
func (c *Context) ID() string { return c.id }

func (c *Context) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	return nil
}

// opCtx bounds one driver call by the context's default timeout.
func (c *Context) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.timeouts.timeout())
}

func (c *Context) navCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.timeouts.navigation())
}

// --- Event registration ---

// OnClose registers handler for the context's single close event.
func (c *Context) OnClose(handler CloseHandler) {
	c.hub.on(EventContextClose, handler, func(any) error { return handler(c) })
}

// OffClose removes the first registration of handler; no-op when absent.
func (c *Context) OffClose(handler CloseHandler) {
	c.hub.off(EventContextClose, handler)
}

// OnPage registers handler for every page that enters the context.
func (c *Context) OnPage(handler PageHandler) {
	c.hub.on(EventContextPage, handler, func(data any) error { return handler(data.(*Page)) })
}

// OffPage removes the first registration of handler; no-op when absent.
func (c *Context) OffPage(handler PageHandler) {
	c.hub.off(EventContextPage, handler)
}

// WaitForPage blocks until a page satisfying the optional predicate enters
// the context, the context closes (ErrWaitAborted) or the timeout elapses
// (ErrWaitTimeout), whichever happens first.
func (c *Context) WaitForPage(opts *WaitForPageOptions) (*Page, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	timeout := DefaultTimeout
	var predicate func(*Page) bool
	if opts != nil {
		if opts.Timeout != nil {
			timeout = *opts.Timeout
		}
		predicate = opts.Predicate
	}

	ch := make(chan *Page, 1)
	remove := c.hub.on(EventContextPage, ch, func(data any) error {
		p := data.(*Page)
		if predicate == nil || predicate(p) {
			select {
			case ch <- p:
			default:
			}
		}
		return nil
	})
	defer remove()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case p := <-ch:
		return p, nil
	case <-timerC:
		return nil, ErrWaitTimeout
	case <-c.ctx.Done():
		return nil, ErrWaitAborted
	}
}

// --- Pages ---

// NewPage opens a new tab in this context.
func (c *Context) NewPage() (*Page, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	h, err := c.driver.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	p := c.adoptPage(h)
	if p == nil {
		return nil, ErrContextClosed
	}
	return p, nil
}

// Pages returns the open pages, oldest first. It stays callable after close
// (an idempotent query) and then returns nil.
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	pages := make([]*Page, len(c.pages))
	copy(pages, c.pages)
	return pages
}

// adoptPage registers a driver page handle and runs the page dispatch round.
// The handle is usable at delivery time even though content may still load.
func (c *Context) adoptPage(h PageHandle) *Page {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = h.Close(ctx)
		}()
		return nil
	}
	p := &Page{id: h.ID(), context: c, handle: h, routes: newRouteTable()}
	c.pages = append(c.pages, p)
	c.mu.Unlock()

	c.dispatchMu.Lock()
	err := c.hub.emit(EventContextPage, p)
	c.dispatchMu.Unlock()
	if err != nil {
		c.logger.Warn("page event round finished with failures", zap.String("page_id", p.id), zap.Error(err))
	}
	return p
}

// pageOpened implements DriverSink for popup targets.
func (c *Context) pageOpened(h PageHandle) {
	c.adoptPage(h)
}

func (c *Context) pageByID(id string) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pages {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (c *Context) removePage(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pages {
		if q == p {
			c.pages = append(c.pages[:i:i], c.pages[i+1:]...)
			return
		}
	}
}

// --- Routing ---

// Route registers a context-scope interception route. Later registrations
// win over earlier ones for URLs both match; page-scope routes always win
// over context-scope ones. Registering any route disables the HTTP cache for
// the rest of the session.
func (c *Context) Route(m Matcher, handler RouteHandler) error {
	return c.addRoute(c.routes, m, handler)
}

// Unroute removes context-scope registrations. With a handler it removes the
// exact (matcher, handler) pair; without one it removes every registration
// with an equivalent matcher. Both forms tolerate absent registrations.
func (c *Context) Unroute(m Matcher, handler ...RouteHandler) error {
	return c.removeRoute(c.routes, m, handler...)
}

func (c *Context) addRoute(table *routeTable, m Matcher, handler RouteHandler) error {
	if !m.valid() {
		return errors.New("matcher required: use MatchGlob, MatchRegexp or MatchPredicate")
	}
	if handler == nil {
		return errors.New("route handler required")
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	table.add(m, handler)
	return c.ensureRouting()
}

func (c *Context) removeRoute(table *routeTable, m Matcher, handler ...RouteHandler) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	var h RouteHandler
	if len(handler) > 0 {
		h = handler[0]
	}
	table.remove(m, h)
	return nil
}

func (c *Context) ensureRouting() error {
	c.mu.Lock()
	enabled := c.routingEnabled
	c.mu.Unlock()
	if enabled {
		return nil
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.EnableRouting(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.routingEnabled = true
	c.mu.Unlock()
	return nil
}

// requestPaused implements DriverSink. It runs the matching pass for one
// paused request: the requesting page's registrations first (last match
// wins within the scope), the context's registrations only when no page
// registration matched. Unmatched requests continue to the network
// unmodified; a matcher evaluation failure fails only this request.
func (c *Context) RequestPaused(req *InterceptedRequest) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	timeout := c.timeouts.timeout()

	resolve := func(fn func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = fn(ctx)
	}

	if closed {
		resolve(func(ctx context.Context) error { return req.Resolver.Continue(ctx, nil) })
		return
	}

	page := c.pageByID(req.PageID)
	var (
		reg   routeRegistration
		found bool
		err   error
	)
	if page != nil {
		reg, found, err = page.routes.lastMatch(req.URL)
	}
	if err == nil && !found {
		reg, found, err = c.routes.lastMatch(req.URL)
	}
	if err != nil {
		c.logger.Warn("route matching failed, failing request", zap.String("url", req.URL), zap.Error(err))
		resolve(func(ctx context.Context) error { return req.Resolver.Abort(ctx, "failed") })
		return
	}
	if !found {
		resolve(func(ctx context.Context) error { return req.Resolver.Continue(ctx, nil) })
		return
	}

	route := newRoute(c.ctx, req, c.logger)
	go route.watch(timeout)
	c.invokeRouteHandler(reg, route)
}

func (c *Context) invokeRouteHandler(reg routeRegistration, route *Route) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("route handler panic, failing request",
				zap.String("url", route.URL()),
				zap.String("matcher", reg.matcher.String()),
				zap.Any("panic", r))
			_ = route.Abort("failed")
		}
	}()
	reg.handler(route)
}

// --- Delegated operations ---

// Cookies returns the session's cookies, optionally filtered to those
// affecting the given URLs.
func (c *Context) Cookies(urls ...string) ([]*network.Cookie, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	return c.driver.Cookies(ctx, urls)
}

// AddCookies installs cookies into the session.
func (c *Context) AddCookies(cookies []*network.CookieParam) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	return c.driver.AddCookies(ctx, cookies)
}

// ClearCookies removes all cookies from the session.
func (c *Context) ClearCookies() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	return c.driver.ClearCookies(ctx)
}

// AddInitScript schedules source to run before any page script on every
// navigation, for current and future pages. Scripts run in registration
// order.
func (c *Context) AddInitScript(source string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.AddInitScript(ctx, source); err != nil {
		return err
	}
	c.mu.Lock()
	c.initScripts = append(c.initScripts, source)
	c.mu.Unlock()
	return nil
}

// ExposeBinding publishes fn as window[name] in every page of the context.
// Calls return a promise settled with fn's result. With the Handle option
// the binding accepts exactly one argument, delivered as an opaque handle.
func (c *Context) ExposeBinding(name string, fn BindingFunc, opts *ExposeBindingOptions) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	handle := opts != nil && opts.Handle
	cb := func(pageID, payload string) {
		var msg struct {
			Seq  int64             `json:"seq"`
			Args []json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			c.logger.Warn("malformed binding payload", zap.String("binding", name), zap.Error(err))
			return
		}
		call := BindingCall{Page: c.pageByID(pageID)}
		var result any
		var callErr error
		if handle && len(msg.Args) != 1 {
			callErr = errors.New("binding with handle takes exactly one argument")
		} else {
			if handle {
				call.Handle = msg.Args[0]
			} else {
				call.Args = msg.Args
			}
			result, callErr = fn(call)
		}
		ctx, cancel := c.opCtx()
		defer cancel()
		if err := c.driver.DeliverBindingResult(ctx, pageID, name, msg.Seq, result, callErr); err != nil {
			c.logger.Warn("binding result delivery failed", zap.String("binding", name), zap.Error(err))
		}
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	return c.driver.AddBinding(ctx, name, cb)
}

// ExposeFunction publishes fn as window[name] without call-source context.
func (c *Context) ExposeFunction(name string, fn func(args []json.RawMessage) (any, error)) error {
	return c.ExposeBinding(name, func(call BindingCall) (any, error) {
		return fn(call.Args)
	}, nil)
}

// GrantPermissions grants the named permissions, for one origin when the
// option is set, for all origins otherwise.
func (c *Context) GrantPermissions(permissions []string, opts *GrantPermissionsOptions) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	origin := ""
	if opts != nil {
		origin = opts.Origin
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.GrantPermissions(ctx, permissions, origin); err != nil {
		return err
	}
	c.mu.Lock()
	c.grants[origin] = append(c.grants[origin], permissions...)
	c.mu.Unlock()
	return nil
}

// ClearPermissions resets all permission overrides.
func (c *Context) ClearPermissions() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.ClearPermissions(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.grants = make(map[string][]string)
	c.mu.Unlock()
	return nil
}

// SetGeolocation overrides the position reported to pages; nil clears the
// override.
func (c *Context) SetGeolocation(loc *Geolocation) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.SetGeolocation(ctx, loc); err != nil {
		return err
	}
	c.mu.Lock()
	c.geolocation = loc
	c.mu.Unlock()
	return nil
}

// SetOffline toggles the session's network connectivity emulation.
func (c *Context) SetOffline(offline bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.SetOffline(ctx, offline); err != nil {
		return err
	}
	c.mu.Lock()
	c.offline = offline
	c.mu.Unlock()
	return nil
}

// SetExtraHTTPHeaders attaches headers to every request of every page.
func (c *Context) SetExtraHTTPHeaders(headers map[string]string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.driver.SetExtraHTTPHeaders(ctx, headers); err != nil {
		return err
	}
	c.mu.Lock()
	c.extraHeaders = headers
	c.mu.Unlock()
	return nil
}

// SetDefaultTimeout changes the timeout applied to operations and route
// resolutions.
func (c *Context) SetDefaultTimeout(d time.Duration) {
	c.timeouts.setDefaultTimeout(d)
}

// SetDefaultNavigationTimeout changes the timeout applied to navigations.
func (c *Context) SetDefaultNavigationTimeout(d time.Duration) {
	c.timeouts.setNavigationTimeout(d)
}

// StorageState snapshots cookies and per-origin localStorage. With the Path
// option the snapshot is also written to disk as JSON; it is returned in
// either case.
func (c *Context) StorageState(opts *StorageStateOptions) (*StorageState, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	state, err := c.driver.StorageState(ctx)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.Path != "" {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(opts.Path, data, 0o600); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Close tears the context down: it runs the close dispatch round, cancels
// outstanding waits, disposes the driver and leaves the context permanently
// inert. A second Close is a no-op. Close handler failures surface in the
// returned error, aggregated, after every handler has run.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dispatchMu.Lock()
	hubErr := c.hub.emit(EventContextClose, c)
	c.dispatchMu.Unlock()

	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	driverErr := c.driver.Close(ctx)

	if c.onClose != nil {
		c.onClose(c)
	}
	c.logger.Info("context closed")
	return errors.Join(hubErr, driverErr)
}
