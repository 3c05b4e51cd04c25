// Package sessions keeps the registry of live browsing contexts for the API
// surface: lookup by id, lifecycle, and graceful teardown.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/incognito/internal/browser"
)

var (
	// ErrNotFound is returned when no context with the given id is registered.
	ErrNotFound = errors.New("context not found")

	// ErrShuttingDown is returned by Create once Shutdown has begun.
	ErrShuttingDown = errors.New("session manager is shutting down")
)

// Factory creates browsing contexts. Implemented by browser.Manager.
type Factory interface {
	NewContext(ctx context.Context) (*browser.Context, error)
}

// Manager tracks contexts by id. A context deregisters itself when it closes,
// whichever side initiated the close.
type Manager struct {
	factory Factory
	logger  *zap.Logger

	mu       sync.RWMutex
	contexts map[uuid.UUID]*browser.Context
	shutdown bool
}

func NewManager(factory Factory, logger *zap.Logger) *Manager {
	return &Manager{
		factory:  factory,
		logger:   logger,
		contexts: make(map[uuid.UUID]*browser.Context),
	}
}

// Create opens a new browsing context and registers it.
func (m *Manager) Create(ctx context.Context) (*browser.Context, error) {
	m.mu.RLock()
	stopping := m.shutdown
	m.mu.RUnlock()
	if stopping {
		return nil, ErrShuttingDown
	}

	c, err := m.factory.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	id, err := uuid.Parse(c.ID())
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("context has malformed id %q: %w", c.ID(), err)
	}

	m.mu.Lock()
	m.contexts[id] = c
	m.mu.Unlock()

	c.OnClose(func(*browser.Context) error {
		m.mu.Lock()
		delete(m.contexts, id)
		m.mu.Unlock()
		return nil
	})

	m.logger.Info("context created", zap.String("context_id", c.ID()), zap.Int("open_contexts", m.Count()))
	return c, nil
}

// Get returns the context with the given id.
func (m *Manager) Get(id uuid.UUID) (*browser.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Close tears down the context with the given id and removes it from the
// registry.
func (m *Manager) Close(id uuid.UUID) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.Close()
}

// List returns the registered contexts in no particular order.
func (m *Manager) List() []*browser.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*browser.Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered contexts.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

// Shutdown closes every registered context and refuses new ones. Close
// failures are collected rather than cutting the sweep short.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	open := make([]*browser.Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		open = append(open, c)
	}
	m.mu.Unlock()

	m.logger.Info("closing contexts", zap.Int("count", len(open)))

	var errs []error
	for _, c := range open {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.Close(); err != nil {
			m.logger.Warn("context close failed during shutdown", zap.String("context_id", c.ID()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
