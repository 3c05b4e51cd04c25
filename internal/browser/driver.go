package browser

import (
	"context"

	"github.com/chromedp/cdproto/network"
)

// Driver is the out-of-process automation engine behind a Context. The
// binding forwards every browser-touching operation to it verbatim; the
// in-process core (event hub, route table, waits) never speaks the wire
// protocol itself. The production implementation drives Chrome over CDP;
// tests substitute a fake.
type Driver interface {
	// Attach registers the sink that receives asynchronous driver
	// notifications (popup pages, paused requests). Called once, before any
	// other method.
	Attach(sink DriverSink)

	Cookies(ctx context.Context, urls []string) ([]*network.Cookie, error)
	AddCookies(ctx context.Context, cookies []*network.CookieParam) error
	ClearCookies(ctx context.Context) error

	// AddInitScript schedules source to run before any page script, on every
	// navigation of every page, current and future.
	AddInitScript(ctx context.Context, source string) error

	// AddBinding installs a page-callable function. cb receives the id of
	// the calling page and the raw JSON payload produced by the page-side
	// shim.
	AddBinding(ctx context.Context, name string, cb BindingCallback) error

	// DeliverBindingResult settles the page-side promise for call seq of the
	// named binding.
	DeliverBindingResult(ctx context.Context, pageID, name string, seq int64, result any, callErr error) error

	GrantPermissions(ctx context.Context, permissions []string, origin string) error
	ClearPermissions(ctx context.Context) error
	SetGeolocation(ctx context.Context, loc *Geolocation) error
	SetOffline(ctx context.Context, offline bool) error
	SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error

	// NewPage opens a fresh tab and returns its handle once initial
	// navigation bookkeeping has completed.
	NewPage(ctx context.Context) (PageHandle, error)

	// EnableRouting turns on request interception for the whole session and
	// disables the HTTP cache. The trade-off is sticky: there is no
	// DisableRouting.
	EnableRouting(ctx context.Context) error

	StorageState(ctx context.Context) (*StorageState, error)

	Close(ctx context.Context) error
}

// PageHandle is the driver-side view of a single tab.
type PageHandle interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// DriverSink receives asynchronous notifications from the driver. It is
// implemented by Context; the methods are unexported because dispatch
// bookkeeping is owned by this package.
type DriverSink interface {
	pageOpened(h PageHandle)
	RequestPaused(req *InterceptedRequest)
}

// InterceptedRequest describes one paused network request, together with the
// resolver the winning route handler settles it through.
type InterceptedRequest struct {
	PageID   string
	URL      string
	Method   string
	Headers  map[string]string
	Resolver RouteResolver
}

// RouteResolver is the driver-side half of a Route.
type RouteResolver interface {
	Continue(ctx context.Context, overrides *ContinueOverrides) error
	Fulfill(ctx context.Context, response *Fulfillment) error
	Abort(ctx context.Context, reason string) error
}

// BindingCallback receives raw binding invocations from the driver.
type BindingCallback func(pageID string, payload string)

// Geolocation overrides the position reported to pages.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// StorageState is a serializable snapshot of the session's cookies and
// per-origin localStorage.
type StorageState struct {
	Cookies []*network.Cookie `json:"cookies"`
	Origins []OriginState     `json:"origins"`
}

// OriginState holds the localStorage entries of one origin.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// NameValue is a single localStorage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
