// Package daemon supervises long running background loops.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DaemonFunc is the work a daemon does. Returning nil stops the daemon;
// returning an error restarts it after the restart delay.
type DaemonFunc func(ctx context.Context, name string) error

type DaemonManager struct {
	daemons      map[string]DaemonFunc
	restartDelay time.Duration
	logger       *slog.Logger
	wg           sync.WaitGroup
}

func NewDaemonManager(logger *slog.Logger) *DaemonManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonManager{
		daemons:      make(map[string]DaemonFunc),
		restartDelay: 2 * time.Second,
		logger:       logger.With("component", "daemon"),
	}
}

func (m *DaemonManager) Add(name string, fn DaemonFunc) {
	m.daemons[name] = fn
}

// Start runs all daemons and restarts them if they crash.
func (m *DaemonManager) Start(ctx context.Context) {
	for name, fn := range m.daemons {
		m.wg.Add(1)
		go m.runDaemon(ctx, name, fn)
	}
}

// Wait blocks until all daemons have stopped.
func (m *DaemonManager) Wait() {
	m.wg.Wait()
}

func (m *DaemonManager) runDaemon(ctx context.Context, name string, fn DaemonFunc) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			m.logger.Info("Daemon received shutdown signal", "daemon", name)
			return
		}
		err := m.safeRun(ctx, name, fn)
		if err == nil {
			m.logger.Info("Daemon exited cleanly", "daemon", name)
			return
		}
		m.logger.Error("Daemon crashed, restarting", "daemon", name, "error", err, "delay", m.restartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.restartDelay):
		}
	}
}

func (m *DaemonManager) safeRun(ctx context.Context, name string, fn DaemonFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn(ctx, name)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "panic: " + slog.AnyValue(e.value).String()
}
