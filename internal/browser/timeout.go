package browser

import (
	"sync"
	"time"
)

// DefaultTimeout applies to every operation and wait that has no more
// specific setting.
const DefaultTimeout = 30 * time.Second

// timeoutSettings holds the context's default and navigation timeouts.
// The navigation timeout falls back to the default timeout when unset.
type timeoutSettings struct {
	mu                sync.Mutex
	defaultTimeout    *time.Duration
	navigationTimeout *time.Duration
}

func newTimeoutSettings() *timeoutSettings {
	return &timeoutSettings{}
}

func (t *timeoutSettings) setDefaultTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultTimeout = &d
}

func (t *timeoutSettings) setNavigationTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.navigationTimeout = &d
}

func (t *timeoutSettings) timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	return DefaultTimeout
}

func (t *timeoutSettings) navigation() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.navigationTimeout != nil {
		return *t.navigationTimeout
	}
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	return DefaultTimeout
}
