package observability

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource during shutdown.
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager runs registered shutdown hooks in reverse
// registration order, so dependents close before their dependencies.
type ShutdownManager struct {
	mu      sync.Mutex
	hooks   []namedHook
	timeout time.Duration
	logger  *Logger
}

type namedHook struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a shutdown manager with the given
// per-shutdown timeout.
func NewShutdownManager(timeout time.Duration, logger *Logger) *ShutdownManager {
	return &ShutdownManager{timeout: timeout, logger: logger}
}

// Register adds a named shutdown hook.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, fn: fn})
}

// Wait blocks until SIGINT, SIGTERM or context cancellation, then runs
// the hooks.
func (m *ShutdownManager) Wait(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		if m.logger != nil {
			m.logger.WithField("signal", sig.String()).Info("shutdown signal received")
		}
	case <-ctx.Done():
		if m.logger != nil {
			m.logger.Info("shutdown requested")
		}
	}
	m.Shutdown()
}

// Shutdown runs all hooks in reverse order within the manager timeout.
// Hook failures are logged and do not stop the remaining hooks.
func (m *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if err := hook.fn(ctx); err != nil {
			if m.logger != nil {
				m.logger.WithError(err).WithField("hook", hook.name).Error("shutdown hook failed")
			}
			continue
		}
		if m.logger != nil {
			m.logger.WithField("hook", hook.name).Debug("shutdown hook completed")
		}
	}
}
