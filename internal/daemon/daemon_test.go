package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"churchadmin/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestDaemonManager_RestartsCrashedDaemon(t *testing.T) {
	m := NewDaemonManager(logger.Discard())
	m.restartDelay = time.Millisecond

	var runs atomic.Int32
	m.Add("flaky", func(ctx context.Context, name string) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		default:
			return nil
		}
	})

	m.Start(t.Context())
	m.Wait()
	assert.Equal(t, int32(3), runs.Load())
}

func TestDaemonManager_StopsOnCancel(t *testing.T) {
	m := NewDaemonManager(logger.Discard())
	ctx, cancel := context.WithCancel(t.Context())

	started := make(chan struct{})
	m.Add("loop", func(ctx context.Context, name string) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	m.Start(ctx)
	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("daemon did not stop")
	}
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep(_ context.Context, _ time.Duration) int {
	s.calls.Add(1)
	return 1
}

func TestIdleSweepTask(t *testing.T) {
	sweeper := &countingSweeper{}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	task := IdleSweepTask(sweeper, 5*time.Millisecond, time.Hour, logger.Discard())
	done := make(chan error, 1)
	go func() { done <- task(ctx, "sweeper") }()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
