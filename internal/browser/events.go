package browser

import (
	"fmt"
	"reflect"
	"sync"
)

// Context lifecycle events.
const (
	EventContextClose = "close"
	EventContextPage  = "page"
)

// PageHandler is invoked for every page that enters the context, whether it
// was opened explicitly or as a popup.
type PageHandler func(*Page) error

// CloseHandler is invoked exactly once, when the context is torn down.
type CloseHandler func(*Context) error

// handlerEntry pairs the identity of the originally registered callback with
// an adapter that knows how to invoke it for a given event payload. seq is
// unique per registration so internal single-shot waiters can remove their
// own entry even when several of them share the same function literal.
type handlerEntry struct {
	seq    uint64
	id     uintptr
	invoke func(data any) error
}

// eventHub keeps per-event handler lists in registration order and runs
// dispatch rounds over a snapshot of them. Removal is tolerant: asking to
// remove a handler that is not registered is a no-op, which keeps concurrent
// add/remove/dispatch sequences race-free for callers.
type eventHub struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string][]handlerEntry
}

func newEventHub() *eventHub {
	return &eventHub{handlers: make(map[string][]handlerEntry)}
}

// funcID returns the code pointer used for identity comparison on removal.
// Two references to the same function value compare equal; distinct
// functions do not.
func funcID(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// on appends a registration and returns a function that removes exactly this
// registration, regardless of handler identity.
func (h *eventHub) on(event string, fn any, invoke func(data any) error) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	seq := h.next
	h.handlers[event] = append(h.handlers[event], handlerEntry{seq: seq, id: funcID(fn), invoke: invoke})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		entries := h.handlers[event]
		for i, e := range entries {
			if e.seq == seq {
				h.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// off removes the first registration whose handler identity matches fn.
func (h *eventHub) off(event string, fn any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := funcID(fn)
	entries := h.handlers[event]
	for i, e := range entries {
		if e.id == id {
			h.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// emit delivers the event to every handler registered at the start of the
// round, in registration order. Handler failures (returned errors and
// recovered panics) are collected and reported after the round as a
// *HandlerAggregateError; they never abort sibling handlers.
func (h *eventHub) emit(event string, data any) error {
	h.mu.Lock()
	entries := make([]handlerEntry, len(h.handlers[event]))
	copy(entries, h.handlers[event])
	h.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := safeInvoke(e, data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &HandlerAggregateError{Event: event, Errs: errs}
	}
	return nil
}

func safeInvoke(e handlerEntry, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return e.invoke(data)
}
