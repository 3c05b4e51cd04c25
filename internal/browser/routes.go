package browser

import (
	"sync"
)

// RouteHandler is invoked with the route control object for an intercepted
// request. The handler (or something on its behalf) must eventually resolve
// the route by continuing, fulfilling or aborting it.
type RouteHandler func(*Route)

// routeRegistration pairs an immutable matcher with its handler. The sequence
// number reflects registration order within one scope, oldest first.
type routeRegistration struct {
	seq     uint64
	matcher Matcher
	handler RouteHandler
	id      uintptr
}

// routeTable is the ordered registration list for one scope (context or
// page). Scopes are merged only at dispatch time, by a fixed priority rule:
// the page table is consulted first and the context table only when no page
// registration matched.
type routeTable struct {
	mu   sync.Mutex
	next uint64
	regs []routeRegistration
}

func newRouteTable() *routeTable {
	return &routeTable{}
}

func (t *routeTable) add(m Matcher, h RouteHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.regs = append(t.regs, routeRegistration{
		seq:     t.next,
		matcher: m,
		handler: h,
		id:      funcID(h),
	})
}

// remove drops registrations. With a handler it removes the unique
// (matcher, handler) pair; without one it removes every registration whose
// matcher is equivalent. Both forms are no-ops when nothing matches.
func (t *routeTable) remove(m Matcher, h RouteHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var hid uintptr
	if h != nil {
		hid = funcID(h)
	}
	kept := t.regs[:0]
	for _, reg := range t.regs {
		if reg.matcher.equals(m) && (h == nil || reg.id == hid) {
			continue
		}
		kept = append(kept, reg)
	}
	t.regs = kept
}

func (t *routeTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.regs)
}

// lastMatch evaluates registrations in registration order and returns the
// last one whose matcher selects u, mirroring layering: later registrations
// override earlier ones for the same URL. A matcher evaluation failure is
// returned immediately so the caller can fail just this request.
func (t *routeTable) lastMatch(u string) (routeRegistration, bool, error) {
	t.mu.Lock()
	regs := make([]routeRegistration, len(t.regs))
	copy(regs, t.regs)
	t.mu.Unlock()

	var winner routeRegistration
	found := false
	for _, reg := range regs {
		ok, err := reg.matcher.matches(u)
		if err != nil {
			return routeRegistration{}, false, err
		}
		if ok {
			winner = reg
			found = true
		}
	}
	return winner, found, nil
}
