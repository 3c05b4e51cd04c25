package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/incognito/internal/config"
)

// Compile-time check that the CDP driver satisfies the boundary interface.
var _ Driver = (*cdpDriver)(nil)

// Manager owns the shared Chrome allocator and hands out driver-backed
// contexts. Each context gets its own browser process, so cookies,
// permissions and storage are isolated per context.
type Manager struct {
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	cfg             *config.BrowserConfig
	logger          *zap.Logger
	sem             *semaphore.Weighted
	activeWg        sync.WaitGroup
}

// NewManager configures the Chrome allocator.
func NewManager(cfg *config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.IgnoreCertErrors,
	)

	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	} else {
		opts = append(opts, chromedp.Flag("guest", true))
	}

	allocatorCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Manager{
		allocatorCtx:    allocatorCtx,
		allocatorCancel: cancel,
		cfg:             cfg,
		logger:          logger,
		sem:             semaphore.NewWeighted(int64(cfg.MaxContexts)),
	}, nil
}

// NewContext launches a browser and returns a Context bound to it. The
// number of concurrently open contexts is capped by MaxContexts; the slot is
// released when the context closes.
func (m *Manager) NewContext(ctx context.Context) (*Context, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire browser slot: %w", err)
	}

	browserCtx, browserCancel := chromedp.NewContext(
		m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
	)

	release := func() {
		browserCancel()
		m.sem.Release(1)
	}

	// Starting with a blank run launches the browser and gives the driver a
	// control tab for target-scoped commands.
	if err := chromedp.Run(browserCtx); err != nil {
		release()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	// Target discovery feeds the popup listener.
	bexec := cdp.WithExecutor(browserCtx, chromedp.FromContext(browserCtx).Browser)
	if err := target.SetDiscoverTargets(true).Do(bexec); err != nil {
		release()
		return nil, fmt.Errorf("failed to enable target discovery: %w", err)
	}

	m.activeWg.Add(1)
	d := newCDPDriver(browserCtx, browserCancel, m.logger)

	// The caller's ctx only bounds acquisition and startup; the session
	// itself lives until Close.
	c := NewContext(context.Background(), d, m.logger)
	if m.cfg.DefaultTimeout > 0 {
		c.SetDefaultTimeout(m.cfg.DefaultTimeout)
	}
	if m.cfg.NavigationTimeout > 0 {
		c.SetDefaultNavigationTimeout(m.cfg.NavigationTimeout)
	}
	c.onClose = func(*Context) {
		m.sem.Release(1)
		m.activeWg.Done()
	}
	return c, nil
}

// Shutdown tears the allocator down and waits for open contexts to finish,
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down browser manager")

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	done := make(chan struct{})
	go func() {
		m.activeWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all browser contexts finished")
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached while contexts were still open")
		return ctx.Err()
	}
	return nil
}

// cdpDriver drives one Chrome process over CDP. The control tab created at
// startup carries cookie/storage commands; pages live in their own target
// contexts.
type cdpDriver struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	sink   DriverSink

	mu             sync.Mutex
	pages          map[string]*cdpPage
	initScripts    []string
	bindings       map[string]BindingCallback
	bindingOrder   []string
	geolocation    *Geolocation
	offline        bool
	headers        map[string]string
	routingEnabled bool
}

func newCDPDriver(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *cdpDriver {
	return &cdpDriver{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		pages:    make(map[string]*cdpPage),
		bindings: make(map[string]BindingCallback),
	}
}

func (d *cdpDriver) Attach(sink DriverSink) {
	d.sink = sink
	chromedp.ListenBrowser(d.ctx, func(ev interface{}) {
		e, ok := ev.(*target.EventTargetCreated)
		if !ok {
			return
		}
		info := e.TargetInfo
		if info.Type != "page" || info.OpenerID == "" {
			return
		}
		go d.adoptPopup(info)
	})
}

// withDeadline rebases the caller's deadline onto a chromedp context, which
// must stay alive across calls.
func withDeadline(base, caller context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := caller.Deadline(); ok {
		return context.WithDeadline(base, dl)
	}
	return context.WithCancel(base)
}

// run executes actions against the control tab.
func (d *cdpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := withDeadline(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(rctx, actions...)
}

// runBrowser executes one browser-domain command.
func (d *cdpDriver) runBrowser(ctx context.Context, fn func(ctx context.Context) error) error {
	rctx, cancel := withDeadline(d.ctx, ctx)
	defer cancel()
	return fn(cdp.WithExecutor(rctx, chromedp.FromContext(d.ctx).Browser))
}

func (d *cdpDriver) snapshotPages() []*cdpPage {
	d.mu.Lock()
	defer d.mu.Unlock()
	pages := make([]*cdpPage, 0, len(d.pages))
	for _, p := range d.pages {
		pages = append(pages, p)
	}
	return pages
}

// --- Pages ---

func (d *cdpDriver) NewPage(ctx context.Context) (PageHandle, error) {
	pctx, pcancel := chromedp.NewContext(d.ctx)

	rctx, cancel := withDeadline(pctx, ctx)
	defer cancel()
	if err := chromedp.Run(rctx, chromedp.Navigate("about:blank")); err != nil {
		pcancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	tgt := chromedp.FromContext(pctx).Target
	p := &cdpPage{
		id:     string(tgt.TargetID),
		ctx:    pctx,
		cancel: pcancel,
		driver: d,
	}

	if err := chromedp.Run(rctx, d.setupActions()...); err != nil {
		pcancel()
		return nil, fmt.Errorf("failed to apply context overrides to page: %w", err)
	}

	d.mu.Lock()
	d.pages[p.id] = p
	d.mu.Unlock()
	d.listen(p)
	return p, nil
}

// adoptPopup attaches to a target opened by the page itself (window.open and
// friends) and surfaces it as a page event.
func (d *cdpDriver) adoptPopup(info *target.Info) {
	id := string(info.TargetID)
	d.mu.Lock()
	if _, known := d.pages[id]; known {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	pctx, pcancel := chromedp.NewContext(d.ctx, chromedp.WithTargetID(info.TargetID))
	if err := chromedp.Run(pctx, d.setupActions()...); err != nil {
		d.logger.Warn("failed to attach popup target", zap.String("target_id", id), zap.Error(err))
		pcancel()
		return
	}

	p := &cdpPage{id: id, ctx: pctx, cancel: pcancel, driver: d}
	d.mu.Lock()
	if _, known := d.pages[id]; known {
		d.mu.Unlock()
		pcancel()
		return
	}
	d.pages[id] = p
	d.mu.Unlock()

	d.listen(p)
	d.sink.pageOpened(p)
}

func (d *cdpDriver) listen(p *cdpPage) {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go d.onRequestPaused(p, e)
		case *runtime.EventBindingCalled:
			go d.onBindingCalled(p, e)
		}
	})
}

func (d *cdpDriver) onRequestPaused(p *cdpPage, ev *fetch.EventRequestPaused) {
	headers := make(map[string]string, len(ev.Request.Headers))
	for k, v := range ev.Request.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	d.sink.RequestPaused(&InterceptedRequest{
		PageID:   p.id,
		URL:      ev.Request.URL,
		Method:   ev.Request.Method,
		Headers:  headers,
		Resolver: &cdpResolver{page: p, requestID: ev.RequestID},
	})
}

func (d *cdpDriver) onBindingCalled(p *cdpPage, ev *runtime.EventBindingCalled) {
	d.mu.Lock()
	cb := d.bindings[ev.Name]
	d.mu.Unlock()
	if cb == nil {
		return
	}
	cb(p.id, ev.Payload)
}

// setupActions reproduces the context's accumulated overrides on a fresh
// target, in the order they were applied.
func (d *cdpDriver) setupActions() []chromedp.Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	var actions []chromedp.Action
	for _, src := range d.initScripts {
		actions = append(actions, addInitScriptAction(src))
	}
	for _, name := range d.bindingOrder {
		actions = append(actions, addBindingActions(name)...)
	}
	if d.geolocation != nil {
		actions = append(actions, geolocationAction(d.geolocation))
	}
	if d.offline {
		actions = append(actions, offlineAction(true))
	}
	if len(d.headers) > 0 {
		actions = append(actions, extraHeadersAction(d.headers))
	}
	if d.routingEnabled {
		actions = append(actions, routingActions()...)
	}
	return actions
}

// --- Cookies ---

func (d *cdpDriver) Cookies(ctx context.Context, urls []string) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := network.GetCookies()
		if len(urls) > 0 {
			params = params.WithURLs(urls)
		}
		c, err := params.Do(ctx)
		if err != nil {
			return err
		}
		cookies = c
		return nil
	}))
	return cookies, err
}

func (d *cdpDriver) AddCookies(ctx context.Context, cookies []*network.CookieParam) error {
	return d.run(ctx, network.SetCookies(cookies))
}

func (d *cdpDriver) ClearCookies(ctx context.Context) error {
	return d.run(ctx, network.ClearBrowserCookies())
}

// --- Init scripts and bindings ---

func (d *cdpDriver) AddInitScript(ctx context.Context, source string) error {
	d.mu.Lock()
	d.initScripts = append(d.initScripts, source)
	d.mu.Unlock()

	for _, p := range d.snapshotPages() {
		if err := p.run(ctx, addInitScriptAction(source)); err != nil {
			return fmt.Errorf("failed to install init script on page %s: %w", p.id, err)
		}
	}
	return nil
}

func (d *cdpDriver) AddBinding(ctx context.Context, name string, cb BindingCallback) error {
	d.mu.Lock()
	if _, exists := d.bindings[name]; exists {
		d.mu.Unlock()
		return fmt.Errorf("binding %q already registered", name)
	}
	d.bindings[name] = cb
	d.bindingOrder = append(d.bindingOrder, name)
	d.mu.Unlock()

	for _, p := range d.snapshotPages() {
		if err := p.run(ctx, addBindingActions(name)...); err != nil {
			return fmt.Errorf("failed to install binding %q on page %s: %w", name, p.id, err)
		}
	}
	return nil
}

func (d *cdpDriver) DeliverBindingResult(ctx context.Context, pageID, name string, seq int64, result any, callErr error) error {
	d.mu.Lock()
	p := d.pages[pageID]
	d.mu.Unlock()
	if p == nil {
		return fmt.Errorf("binding result for unknown page %s", pageID)
	}

	var settle string
	if callErr != nil {
		msg, err := json.Marshal(callErr.Error())
		if err != nil {
			return err
		}
		settle = fmt.Sprintf("cb.reject(new Error(%s));", msg)
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("binding result not serializable: %w", err)
		}
		settle = fmt.Sprintf("cb.resolve(%s);", data)
	}
	return p.run(ctx, chromedp.Evaluate(deliverBindingJS(name, seq, settle), nil))
}

// --- Permissions and emulation ---

// permissionTypes maps the binding's permission names onto protocol values.
var permissionTypes = map[string]cdpbrowser.PermissionType{
	"geolocation":          cdpbrowser.PermissionTypeGeolocation,
	"midi":                 cdpbrowser.PermissionTypeMidi,
	"midi-sysex":           cdpbrowser.PermissionTypeMidiSysex,
	"notifications":        cdpbrowser.PermissionTypeNotifications,
	"camera":               cdpbrowser.PermissionTypeVideoCapture,
	"microphone":           cdpbrowser.PermissionTypeAudioCapture,
	"background-sync":      cdpbrowser.PermissionTypeBackgroundSync,
	// PermissionTypeAccessibilityEvents was removed from cdproto after the
	// protocol dropped it; keep the protocol string value it carried.
	"accessibility-events": cdpbrowser.PermissionType("accessibilityEvents"),
	"clipboard-read":       cdpbrowser.PermissionTypeClipboardReadWrite,
	"clipboard-write":      cdpbrowser.PermissionTypeClipboardSanitizedWrite,
	"payment-handler":      cdpbrowser.PermissionTypePaymentHandler,
}

func (d *cdpDriver) GrantPermissions(ctx context.Context, permissions []string, origin string) error {
	perms := make([]cdpbrowser.PermissionType, 0, len(permissions))
	for _, name := range permissions {
		pt, ok := permissionTypes[name]
		if !ok {
			return fmt.Errorf("unknown permission %q", name)
		}
		perms = append(perms, pt)
	}
	return d.runBrowser(ctx, func(ctx context.Context) error {
		params := cdpbrowser.GrantPermissions(perms)
		if origin != "" {
			params = params.WithOrigin(origin)
		}
		return params.Do(ctx)
	})
}

func (d *cdpDriver) ClearPermissions(ctx context.Context) error {
	return d.runBrowser(ctx, func(ctx context.Context) error {
		return cdpbrowser.ResetPermissions().Do(ctx)
	})
}

func (d *cdpDriver) SetGeolocation(ctx context.Context, loc *Geolocation) error {
	d.mu.Lock()
	d.geolocation = loc
	d.mu.Unlock()

	for _, p := range d.snapshotPages() {
		if err := p.run(ctx, geolocationAction(loc)); err != nil {
			return fmt.Errorf("failed to update geolocation on page %s: %w", p.id, err)
		}
	}
	return nil
}

func (d *cdpDriver) SetOffline(ctx context.Context, offline bool) error {
	d.mu.Lock()
	d.offline = offline
	d.mu.Unlock()

	for _, p := range d.snapshotPages() {
		if err := p.run(ctx, offlineAction(offline)); err != nil {
			return fmt.Errorf("failed to update connectivity on page %s: %w", p.id, err)
		}
	}
	return nil
}

func (d *cdpDriver) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	d.mu.Lock()
	d.headers = headers
	d.mu.Unlock()

	for _, p := range d.snapshotPages() {
		if err := p.run(ctx, extraHeadersAction(headers)); err != nil {
			return fmt.Errorf("failed to update headers on page %s: %w", p.id, err)
		}
	}
	return nil
}

// --- Routing ---

func (d *cdpDriver) EnableRouting(ctx context.Context) error {
	d.mu.Lock()
	if d.routingEnabled {
		d.mu.Unlock()
		return nil
	}
	d.routingEnabled = true
	d.mu.Unlock()

	for _, p := range d.snapshotPages() {
		if err := p.run(ctx, routingActions()...); err != nil {
			return fmt.Errorf("failed to enable interception on page %s: %w", p.id, err)
		}
	}
	return nil
}

// --- Storage state ---

const localStorageJS = `(() => {
	const items = [];
	for (let i = 0; i < localStorage.length; i++) {
		const key = localStorage.key(i);
		items.push({ name: key, value: localStorage.getItem(key) });
	}
	return { origin: window.location.origin, localStorage: items };
})()`

func (d *cdpDriver) StorageState(ctx context.Context) (*StorageState, error) {
	cookies, err := d.Cookies(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot cookies: %w", err)
	}

	state := &StorageState{Cookies: cookies, Origins: []OriginState{}}
	seen := make(map[string]bool)
	for _, p := range d.snapshotPages() {
		var origin OriginState
		if err := p.run(ctx, chromedp.Evaluate(localStorageJS, &origin)); err != nil {
			// Opaque origins (about:blank, sandboxed frames) refuse storage
			// access; the snapshot simply skips them.
			d.logger.Debug("skipping origin in storage snapshot", zap.String("page_id", p.id), zap.Error(err))
			continue
		}
		if origin.Origin == "" || origin.Origin == "null" || seen[origin.Origin] {
			continue
		}
		seen[origin.Origin] = true
		state.Origins = append(state.Origins, origin)
	}
	return state, nil
}

// --- Lifecycle ---

func (d *cdpDriver) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// --- Page handle ---

type cdpPage struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	driver *cdpDriver
}

func (p *cdpPage) ID() string { return p.id }

func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := withDeadline(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(rctx, actions...)
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *cdpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html))
	return html, err
}

func (p *cdpPage) Close(ctx context.Context) error {
	p.driver.mu.Lock()
	delete(p.driver.pages, p.id)
	p.driver.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(p.ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// --- Route resolver ---

type cdpResolver struct {
	page      *cdpPage
	requestID fetch.RequestID
}

func (r *cdpResolver) Continue(ctx context.Context, overrides *ContinueOverrides) error {
	return r.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := fetch.ContinueRequest(r.requestID)
		if overrides != nil {
			if overrides.URL != "" {
				params = params.WithURL(overrides.URL)
			}
			if overrides.Method != "" {
				params = params.WithMethod(overrides.Method)
			}
			if len(overrides.Headers) > 0 {
				params = params.WithHeaders(headerEntries(overrides.Headers))
			}
			if len(overrides.PostData) > 0 {
				params = params.WithPostData(base64.StdEncoding.EncodeToString(overrides.PostData))
			}
		}
		return params.Do(ctx)
	}))
}

func (r *cdpResolver) Fulfill(ctx context.Context, response *Fulfillment) error {
	return r.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		headers := make(map[string]string, len(response.Headers)+1)
		for k, v := range response.Headers {
			headers[k] = v
		}
		if response.ContentType != "" {
			headers["Content-Type"] = response.ContentType
		}
		params := fetch.FulfillRequest(r.requestID, int64(response.Status)).
			WithResponseHeaders(headerEntries(headers))
		if len(response.Body) > 0 {
			params = params.WithBody(base64.StdEncoding.EncodeToString(response.Body))
		}
		return params.Do(ctx)
	}))
}

// abortReasons maps the binding's abort vocabulary onto protocol values.
var abortReasons = map[string]network.ErrorReason{
	"aborted":              network.ErrorReasonAborted,
	"accessdenied":         network.ErrorReasonAccessDenied,
	"addressunreachable":   network.ErrorReasonAddressUnreachable,
	"blockedbyclient":      network.ErrorReasonBlockedByClient,
	"blockedbyresponse":    network.ErrorReasonBlockedByResponse,
	"connectionaborted":    network.ErrorReasonConnectionAborted,
	"connectionclosed":     network.ErrorReasonConnectionClosed,
	"connectionfailed":     network.ErrorReasonConnectionFailed,
	"connectionrefused":    network.ErrorReasonConnectionRefused,
	"connectionreset":      network.ErrorReasonConnectionReset,
	"internetdisconnected": network.ErrorReasonInternetDisconnected,
	"namenotresolved":      network.ErrorReasonNameNotResolved,
	"timedout":             network.ErrorReasonTimedOut,
	"failed":               network.ErrorReasonFailed,
}

func (r *cdpResolver) Abort(ctx context.Context, reason string) error {
	errorReason, ok := abortReasons[reason]
	if !ok {
		errorReason = network.ErrorReasonFailed
	}
	return r.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return fetch.FailRequest(r.requestID, errorReason).Do(ctx)
	}))
}

// --- Shared actions ---

func addInitScriptAction(source string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	})
}

// bindingShimJS wraps the raw CDP binding in a promise-returning function so
// page code gets results back: calls are tagged with a sequence number the
// driver settles through DeliverBindingResult.
func bindingShimJS(name string) string {
	q := strconv.Quote(name)
	return fmt.Sprintf(`(() => {
	const name = %s;
	const binding = window[name];
	if (!binding || binding.__wrapped) { return; }
	const wrapper = function(...args) {
		wrapper.__seq = (wrapper.__seq || 0) + 1;
		const seq = wrapper.__seq;
		wrapper.__callbacks = wrapper.__callbacks || new Map();
		const promise = new Promise((resolve, reject) => {
			wrapper.__callbacks.set(seq, { resolve, reject });
		});
		binding(JSON.stringify({ seq, args }));
		return promise;
	};
	wrapper.__wrapped = true;
	window[name] = wrapper;
})();`, q)
}

func deliverBindingJS(name string, seq int64, settle string) string {
	return fmt.Sprintf(`(() => {
	const wrapper = window[%s];
	if (!wrapper || !wrapper.__callbacks) { return; }
	const cb = wrapper.__callbacks.get(%d);
	if (!cb) { return; }
	wrapper.__callbacks.delete(%d);
	%s
})();`, strconv.Quote(name), seq, seq, settle)
}

func addBindingActions(name string) []chromedp.Action {
	shim := bindingShimJS(name)
	return []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(name).Do(ctx)
		}),
		addInitScriptAction(shim),
		chromedp.Evaluate(shim, nil),
	}
}

func geolocationAction(loc *Geolocation) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if loc == nil {
			return emulation.ClearGeolocationOverride().Do(ctx)
		}
		return emulation.SetGeolocationOverride().
			WithLatitude(loc.Latitude).
			WithLongitude(loc.Longitude).
			WithAccuracy(loc.Accuracy).
			Do(ctx)
	})
}

func offlineAction(offline bool) chromedp.Action {
	return network.EmulateNetworkConditions(offline, 0, -1, -1)
}

func extraHeadersAction(headers map[string]string) chromedp.Action {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return network.SetExtraHTTPHeaders(h)
}

func routingActions() []chromedp.Action {
	return []chromedp.Action{
		// Interception bypasses the HTTP cache; disabling it explicitly
		// keeps cached and intercepted responses from diverging.
		network.SetCacheDisabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return fetch.Enable().
				WithPatterns([]*fetch.RequestPattern{{
					URLPattern:   "*",
					RequestStage: fetch.RequestStageRequest,
				}}).
				Do(ctx)
		}),
	}
}

func headerEntries(headers map[string]string) []*fetch.HeaderEntry {
	entries := make([]*fetch.HeaderEntry, 0, len(headers))
	for k, v := range headers {
		entries = append(entries, &fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}
