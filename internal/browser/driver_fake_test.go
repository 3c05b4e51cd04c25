package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"
)

// fakeDriver is an in-memory Driver used by the package tests. It records
// every forwarded operation and lets tests feed popup pages, paused requests
// and binding calls back through the sink, the way the CDP driver does.
type fakeDriver struct {
	mu   sync.Mutex
	sink DriverSink

	cookies     []*network.Cookie
	cookieURLs  [][]string
	addedCookies [][]*network.CookieParam
	clearedCookies int

	initScripts []string
	bindings    map[string]BindingCallback
	deliveries  []bindingDelivery

	grants           []grantCall
	permissionResets int
	geolocation      *Geolocation
	offline          bool
	headers          map[string]string

	routingCalls int
	pageSeq      int
	handles      []*fakePageHandle
	storage      *StorageState
	closeCalls   int
}

type bindingDelivery struct {
	pageID string
	name   string
	seq    int64
	result any
	err    error
}

type grantCall struct {
	permissions []string
	origin      string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{bindings: make(map[string]BindingCallback)}
}

func (d *fakeDriver) Attach(sink DriverSink) { d.sink = sink }

func (d *fakeDriver) Cookies(_ context.Context, urls []string) ([]*network.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookieURLs = append(d.cookieURLs, urls)
	return d.cookies, nil
}

func (d *fakeDriver) AddCookies(_ context.Context, cookies []*network.CookieParam) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addedCookies = append(d.addedCookies, cookies)
	return nil
}

func (d *fakeDriver) ClearCookies(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearedCookies++
	return nil
}

func (d *fakeDriver) AddInitScript(_ context.Context, source string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initScripts = append(d.initScripts, source)
	return nil
}

func (d *fakeDriver) AddBinding(_ context.Context, name string, cb BindingCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.bindings[name]; exists {
		return fmt.Errorf("binding %q already registered", name)
	}
	d.bindings[name] = cb
	return nil
}

func (d *fakeDriver) DeliverBindingResult(_ context.Context, pageID, name string, seq int64, result any, callErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, bindingDelivery{pageID: pageID, name: name, seq: seq, result: result, err: callErr})
	return nil
}

func (d *fakeDriver) GrantPermissions(_ context.Context, permissions []string, origin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grants = append(d.grants, grantCall{permissions: permissions, origin: origin})
	return nil
}

func (d *fakeDriver) ClearPermissions(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissionResets++
	return nil
}

func (d *fakeDriver) SetGeolocation(_ context.Context, loc *Geolocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.geolocation = loc
	return nil
}

func (d *fakeDriver) SetOffline(_ context.Context, offline bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = offline
	return nil
}

func (d *fakeDriver) SetExtraHTTPHeaders(_ context.Context, headers map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers = headers
	return nil
}

func (d *fakeDriver) NewPage(context.Context) (PageHandle, error) {
	return d.newHandle(), nil
}

func (d *fakeDriver) EnableRouting(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routingCalls++
	return nil
}

func (d *fakeDriver) StorageState(context.Context) (*StorageState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.storage != nil {
		return d.storage, nil
	}
	return &StorageState{Origins: []OriginState{}}, nil
}

func (d *fakeDriver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func (d *fakeDriver) newHandle() *fakePageHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageSeq++
	h := &fakePageHandle{id: fmt.Sprintf("page-%d", d.pageSeq)}
	d.handles = append(d.handles, h)
	return h
}

// openPopup simulates the browser opening a target by itself.
func (d *fakeDriver) openPopup() *fakePageHandle {
	h := d.newHandle()
	d.sink.pageOpened(h)
	return h
}

// pause feeds one intercepted request through the sink and returns the
// resolver the request will be settled on. The matching pass runs before
// pause returns; resolution may still arrive later (watchdog, async handler).
func (d *fakeDriver) pause(pageID, url, method string) *fakeResolver {
	r := newFakeResolver()
	d.sink.RequestPaused(&InterceptedRequest{
		PageID:   pageID,
		URL:      url,
		Method:   method,
		Headers:  map[string]string{"accept": "*/*"},
		Resolver: r,
	})
	return r
}

// call invokes a registered binding the way page JavaScript would.
func (d *fakeDriver) call(t *testing.T, pageID, name, payload string) {
	t.Helper()
	d.mu.Lock()
	cb := d.bindings[name]
	d.mu.Unlock()
	if cb == nil {
		t.Fatalf("binding %q is not registered", name)
	}
	cb(pageID, payload)
}

func (d *fakeDriver) lastDelivery(t *testing.T) bindingDelivery {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.deliveries) == 0 {
		t.Fatal("no binding result was delivered")
	}
	return d.deliveries[len(d.deliveries)-1]
}

type fakePageHandle struct {
	id string

	mu        sync.Mutex
	navigated []string
	content   string
	closed    bool
}

func (h *fakePageHandle) ID() string { return h.id }

func (h *fakePageHandle) Navigate(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigated = append(h.navigated, url)
	return nil
}

func (h *fakePageHandle) Content(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.content, nil
}

func (h *fakePageHandle) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakePageHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type resolution struct {
	kind      string
	overrides *ContinueOverrides
	response  *Fulfillment
	reason    string
}

// fakeResolver captures the terminal action taken on an intercepted request.
type fakeResolver struct {
	ch chan resolution
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{ch: make(chan resolution, 1)}
}

func (r *fakeResolver) Continue(_ context.Context, overrides *ContinueOverrides) error {
	r.ch <- resolution{kind: "continue", overrides: overrides}
	return nil
}

func (r *fakeResolver) Fulfill(_ context.Context, response *Fulfillment) error {
	r.ch <- resolution{kind: "fulfill", response: response}
	return nil
}

func (r *fakeResolver) Abort(_ context.Context, reason string) error {
	r.ch <- resolution{kind: "abort", reason: reason}
	return nil
}

func (r *fakeResolver) await(t *testing.T) resolution {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("request was never resolved")
		return resolution{}
	}
}

func newTestContext(t *testing.T) (*Context, *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	// Background goroutines (the route watchdog) may log after the test body
	// returns, so the shared helper uses a no-op logger rather than zaptest.
	c := NewContext(context.Background(), d, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c, d
}
