package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOnPageHandlersRunInRegistrationOrder(t *testing.T) {
	c, _ := newTestContext(t)

	var calls []string
	var seen []*Page
	h1 := func(p *Page) error {
		calls = append(calls, "h1")
		seen = append(seen, p)
		return nil
	}
	h2 := func(p *Page) error {
		calls = append(calls, "h2")
		return nil
	}
	h3 := func(p *Page) error {
		calls = append(calls, "h3")
		seen = append(seen, p)
		return nil
	}

	c.OnPage(h1)
	c.OnPage(h2)
	c.OnPage(h3)
	c.OffPage(h2)

	p, err := c.NewPage()
	require.NoError(t, err)

	assert.Equal(t, []string{"h1", "h3"}, calls)
	for _, q := range seen {
		assert.Same(t, p, q)
	}
}

func TestOffPageUnknownHandlerIsNoOp(t *testing.T) {
	c, _ := newTestContext(t)

	called := 0
	c.OnPage(func(*Page) error {
		called++
		return nil
	})
	c.OffPage(func(*Page) error { return nil })

	_, err := c.NewPage()
	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestEmitAggregatesHandlerFailures(t *testing.T) {
	hub := newEventHub()

	order := []string{}
	h1 := func(any) error {
		order = append(order, "h1")
		return nil
	}
	h2 := func(any) error {
		order = append(order, "h2")
		return errors.New("h2 failed")
	}
	h3 := func(any) error {
		order = append(order, "h3")
		panic("h3 exploded")
	}
	hub.on("page", h1, h1)
	hub.on("page", h2, h2)
	hub.on("page", h3, h3)

	err := hub.emit("page", nil)

	// Failures never cut the round short.
	assert.Equal(t, []string{"h1", "h2", "h3"}, order)

	var agg *HandlerAggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, "page", agg.Event)
	require.Len(t, agg.Errs, 2)
	assert.Contains(t, agg.Errs[0].Error(), "h2 failed")
	assert.Contains(t, agg.Errs[1].Error(), "h3 exploded")
}

func TestEmitWithoutHandlersIsNil(t *testing.T) {
	hub := newEventHub()
	assert.NoError(t, hub.emit("page", nil))
}

func TestUnsubscribeRemovesExactlyOneRegistration(t *testing.T) {
	hub := newEventHub()

	calls := 0
	h := func(any) error {
		calls++
		return nil
	}
	// Two registrations of the same function share a code pointer; the
	// returned remover must still only drop its own entry.
	remove1 := hub.on("page", h, h)
	hub.on("page", h, h)
	remove1()

	require.NoError(t, hub.emit("page", nil))
	assert.Equal(t, 1, calls)
}

func TestCloseHandlersRunOnceAndFailuresSurface(t *testing.T) {
	c, _ := newTestContext(t)

	closes := 0
	c.OnClose(func(ctx *Context) error {
		closes++
		assert.Same(t, c, ctx)
		return errors.New("close hook failed")
	})

	err := c.Close()
	var agg *HandlerAggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, EventContextClose, agg.Event)

	// Second close is a no-op: no second round, no error.
	require.NoError(t, c.Close())
	assert.Equal(t, 1, closes)
}

func TestOffCloseRemovesHandler(t *testing.T) {
	c, _ := newTestContext(t)

	called := false
	h := func(*Context) error {
		called = true
		return nil
	}
	c.OnClose(h)
	c.OffClose(h)

	require.NoError(t, c.Close())
	assert.False(t, called)
}
