// Package shutdown runs cleanup functions in reverse registration order
// when the process is interrupted or the command finishes.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/vrepper/internal/logging"
)

// Func is one cleanup step.
type Func func(context.Context) error

// Manager handles graceful shutdown
type Manager struct {
	funcs   []namedFunc
	mu      sync.Mutex
	timeout time.Duration
	log     *logging.Logger
	done    chan struct{}
	once    sync.Once
}

type namedFunc struct {
	name string
	fn   Func
}

// New creates a new shutdown manager
func New(timeout time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{
		timeout: timeout,
		log:     log.Component("shutdown"),
		done:    make(chan struct{}),
	}
}

// Register adds a shutdown function. Functions run in reverse order (LIFO).
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Done is closed once Shutdown has started.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM. The
// returned stop function releases the signal handler.
func (m *Manager) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
			if parent.Err() == nil {
				m.log.Info("signal received, initiating graceful shutdown")
			}
		case <-m.done:
		}
	}()
	return ctx, stop
}

// Shutdown executes all registered shutdown functions once. Later calls
// return nil immediately.
func (m *Manager) Shutdown() error {
	var first error
	m.once.Do(func() {
		close(m.done)

		m.mu.Lock()
		funcs := m.funcs
		m.funcs = nil
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			if err := f.fn(ctx); err != nil {
				m.log.Warn("shutdown step failed", logging.Fields{"step": f.name, "error": err})
				if first == nil {
					first = fmt.Errorf("shutdown %s: %w", f.name, err)
				}
				continue
			}
			m.log.Debug("shutdown step done", logging.Fields{"step": f.name})
		}
		m.log.Debug("graceful shutdown complete")
	})
	return first
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) Func {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
