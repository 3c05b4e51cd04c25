package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func durationPtr(d time.Duration) *time.Duration { return &d }

func TestWaitForPageReturnsPopup(t *testing.T) {
	c, d := newTestContext(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.openPopup()
	}()

	p, err := c.WaitForPage(nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, c.Pages(), 1)
	assert.Same(t, c, p.Context())
}

func TestWaitForPagePredicateFilters(t *testing.T) {
	c, d := newTestContext(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.openPopup()
		d.openPopup()
	}()

	p, err := c.WaitForPage(&WaitForPageOptions{
		Predicate: func(p *Page) bool { return p.ID() == "page-2" },
	})
	require.NoError(t, err)
	assert.Equal(t, "page-2", p.ID())
}

func TestWaitForPageTimeout(t *testing.T) {
	c, _ := newTestContext(t)

	start := time.Now()
	_, err := c.WaitForPage(&WaitForPageOptions{Timeout: durationPtr(50 * time.Millisecond)})
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitForPageAbortedByClose(t *testing.T) {
	c, _ := newTestContext(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = c.Close()
	}()

	_, err := c.WaitForPage(&WaitForPageOptions{Timeout: durationPtr(5 * time.Second)})
	assert.ErrorIs(t, err, ErrWaitAborted)
}

func TestWaitForPageOnClosedContext(t *testing.T) {
	c, _ := newTestContext(t)
	require.NoError(t, c.Close())

	_, err := c.WaitForPage(nil)
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestConcurrentWaitersEachGetThePage(t *testing.T) {
	c, d := newTestContext(t)

	results := make(chan *Page, 2)
	for i := 0; i < 2; i++ {
		go func() {
			p, err := c.WaitForPage(nil)
			assert.NoError(t, err)
			results <- p
		}()
	}
	// Give both waiters time to register.
	time.Sleep(20 * time.Millisecond)
	d.openPopup()

	p1 := <-results
	p2 := <-results
	assert.Same(t, p1, p2)
}

func TestNewPageEmitsPageEvent(t *testing.T) {
	c, _ := newTestContext(t)

	var seen *Page
	c.OnPage(func(p *Page) error {
		seen = p
		return nil
	})

	p, err := c.NewPage()
	require.NoError(t, err)
	assert.Same(t, p, seen)
}

func TestPagesTracksOpenAndClosed(t *testing.T) {
	c, d := newTestContext(t)

	p1, err := c.NewPage()
	require.NoError(t, err)
	p2, err := c.NewPage()
	require.NoError(t, err)
	assert.Equal(t, []*Page{p1, p2}, c.Pages())

	require.NoError(t, p1.Close())
	assert.Equal(t, []*Page{p2}, c.Pages())
	assert.True(t, d.handles[0].isClosed())

	// Closing again is a no-op.
	require.NoError(t, p1.Close())

	require.NoError(t, c.Close())
	assert.Nil(t, c.Pages())
}

func TestPageNavigateAndContent(t *testing.T) {
	c, d := newTestContext(t)

	p, err := c.NewPage()
	require.NoError(t, err)
	require.NoError(t, p.Navigate("https://example.com/"))
	assert.Equal(t, []string{"https://example.com/"}, d.handles[0].navigated)

	d.handles[0].content = "<html></html>"
	html, err := p.Content()
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", html)
}

func TestCloseIsIdempotentAndDisposesDriverOnce(t *testing.T) {
	c, d := newTestContext(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, d.closeCalls)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	c, _ := newTestContext(t)
	require.NoError(t, c.Close())

	ops := map[string]func() error{
		"NewPage":             func() error { _, err := c.NewPage(); return err },
		"Route":               func() error { return c.Route(MatchGlob("**"), func(*Route) {}) },
		"Unroute":             func() error { return c.Unroute(MatchGlob("**")) },
		"Cookies":             func() error { _, err := c.Cookies(); return err },
		"AddCookies":          func() error { return c.AddCookies(nil) },
		"ClearCookies":        func() error { return c.ClearCookies() },
		"AddInitScript":       func() error { return c.AddInitScript("x") },
		"ExposeBinding":       func() error { return c.ExposeBinding("f", func(BindingCall) (any, error) { return nil, nil }, nil) },
		"GrantPermissions":    func() error { return c.GrantPermissions([]string{"geolocation"}, nil) },
		"ClearPermissions":    func() error { return c.ClearPermissions() },
		"SetGeolocation":      func() error { return c.SetGeolocation(nil) },
		"SetOffline":          func() error { return c.SetOffline(true) },
		"SetExtraHTTPHeaders": func() error { return c.SetExtraHTTPHeaders(nil) },
		"StorageState":        func() error { _, err := c.StorageState(nil); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(), ErrContextClosed)
		})
	}
}

func TestExposeFunction(t *testing.T) {
	c, d := newTestContext(t)
	p, err := c.NewPage()
	require.NoError(t, err)

	require.NoError(t, c.ExposeFunction("add", func(args []json.RawMessage) (any, error) {
		var a, b int
		require.NoError(t, json.Unmarshal(args[0], &a))
		require.NoError(t, json.Unmarshal(args[1], &b))
		return a + b, nil
	}))

	d.call(t, p.ID(), "add", `{"seq":1,"args":[2,3]}`)

	del := d.lastDelivery(t)
	assert.Equal(t, p.ID(), del.pageID)
	assert.Equal(t, "add", del.name)
	assert.EqualValues(t, 1, del.seq)
	assert.Equal(t, 5, del.result)
	assert.NoError(t, del.err)
}

func TestExposeBindingReceivesCallingPage(t *testing.T) {
	c, d := newTestContext(t)
	p, err := c.NewPage()
	require.NoError(t, err)

	var caller *Page
	require.NoError(t, c.ExposeBinding("whoami", func(call BindingCall) (any, error) {
		caller = call.Page
		return nil, nil
	}, nil))

	d.call(t, p.ID(), "whoami", `{"seq":1,"args":[]}`)
	assert.Same(t, p, caller)
}

func TestExposeBindingWithHandle(t *testing.T) {
	c, d := newTestContext(t)
	p, err := c.NewPage()
	require.NoError(t, err)

	require.NoError(t, c.ExposeBinding("inspect", func(call BindingCall) (any, error) {
		assert.Empty(t, call.Args)
		return string(call.Handle), nil
	}, &ExposeBindingOptions{Handle: true}))

	d.call(t, p.ID(), "inspect", `{"seq":1,"args":[{"k":"v"}]}`)
	del := d.lastDelivery(t)
	assert.NoError(t, del.err)
	assert.Equal(t, `{"k":"v"}`, del.result)

	// Handle bindings take exactly one argument.
	d.call(t, p.ID(), "inspect", `{"seq":2,"args":[1,2]}`)
	del = d.lastDelivery(t)
	assert.EqualValues(t, 2, del.seq)
	assert.Error(t, del.err)
}

func TestExposeBindingDuplicateNameFails(t *testing.T) {
	c, _ := newTestContext(t)

	fn := func(BindingCall) (any, error) { return nil, nil }
	require.NoError(t, c.ExposeBinding("dup", fn, nil))
	assert.Error(t, c.ExposeBinding("dup", fn, nil))
}

func TestCookiesDelegation(t *testing.T) {
	c, d := newTestContext(t)
	d.cookies = []*network.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}}

	cookies, err := c.Cookies("https://example.com/")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, [][]string{{"https://example.com/"}}, d.cookieURLs)

	require.NoError(t, c.AddCookies([]*network.CookieParam{{Name: "theme", Value: "dark", Domain: "example.com"}}))
	require.Len(t, d.addedCookies, 1)

	require.NoError(t, c.ClearCookies())
	assert.Equal(t, 1, d.clearedCookies)
}

func TestPermissionsDelegation(t *testing.T) {
	c, d := newTestContext(t)

	require.NoError(t, c.GrantPermissions([]string{"geolocation", "camera"}, &GrantPermissionsOptions{Origin: "https://example.com"}))
	require.Len(t, d.grants, 1)
	assert.Equal(t, []string{"geolocation", "camera"}, d.grants[0].permissions)
	assert.Equal(t, "https://example.com", d.grants[0].origin)

	require.NoError(t, c.ClearPermissions())
	assert.Equal(t, 1, d.permissionResets)
}

func TestEmulationDelegation(t *testing.T) {
	c, d := newTestContext(t)

	loc := &Geolocation{Latitude: 52.52, Longitude: 13.405, Accuracy: 10}
	require.NoError(t, c.SetGeolocation(loc))
	assert.Equal(t, loc, d.geolocation)

	require.NoError(t, c.SetOffline(true))
	assert.True(t, d.offline)

	require.NoError(t, c.SetExtraHTTPHeaders(map[string]string{"x-tenant": "qa"}))
	assert.Equal(t, "qa", d.headers["x-tenant"])

	require.NoError(t, c.AddInitScript("window.__flag = true"))
	assert.Equal(t, []string{"window.__flag = true"}, d.initScripts)
}

func TestStorageStateWritesSnapshot(t *testing.T) {
	c, d := newTestContext(t)
	d.storage = &StorageState{
		Cookies: []*network.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}},
		Origins: []OriginState{{
			Origin:       "https://example.com",
			LocalStorage: []NameValue{{Name: "k", Value: "v"}},
		}},
	}

	path := filepath.Join(t.TempDir(), "state.json")
	state, err := c.StorageState(&StorageStateOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, d.storage, state)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded StorageState
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Cookies, 1)
	assert.Equal(t, "sid", decoded.Cookies[0].Name)
	require.Len(t, decoded.Origins, 1)
	assert.Equal(t, []NameValue{{Name: "k", Value: "v"}}, decoded.Origins[0].LocalStorage)
}

func TestTimeoutSettings(t *testing.T) {
	ts := newTimeoutSettings()
	assert.Equal(t, DefaultTimeout, ts.timeout())
	assert.Equal(t, DefaultTimeout, ts.navigation())

	ts.setDefaultTimeout(10 * time.Second)
	assert.Equal(t, 10*time.Second, ts.timeout())
	// Navigation falls back to the default timeout until set explicitly.
	assert.Equal(t, 10*time.Second, ts.navigation())

	ts.setNavigationTimeout(time.Minute)
	assert.Equal(t, time.Minute, ts.navigation())
	assert.Equal(t, 10*time.Second, ts.timeout())
}
