package pipeline

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/obsidiantrove/sleepyfactory/internal"
)

const (
	stopped = iota
	started
)

var (
	// ErrDoubleStarted is returned when Start is called on a loop
	// runner (Orchestrator, StageWorker, LeaseRecovery) that is
	// already running.
	ErrDoubleStarted = errors.New("pipeline: double start")

	// ErrDoubleStopped is returned when Stop is called on a loop
	// runner that is not currently running.
	ErrDoubleStopped = errors.New("pipeline: double stop")

	// ErrStopTimeout is returned when a loop runner fails to shut
	// down within the timeout passed to Stop. The runner may still be
	// terminating in the background; a worker that abandons a claimed
	// stage mid-shutdown simply leaves it RUNNING, which Lease
	// Recovery will eventually reclaim.
	ErrStopTimeout = errors.New("pipeline: stop timeout")
)

// lcBase gives the three loop runners (Orchestrator, StageWorker,
// LeaseRecovery) an identical start-once/stop-once lifecycle.
type lcBase struct {
	state atomic.Int32
}

func (lb *lcBase) tryStart() error {
	if !lb.state.CompareAndSwap(stopped, started) {
		return ErrDoubleStarted
	}
	return nil
}

func (lb *lcBase) tryStop(timeout time.Duration, df internal.DoneFunc) error {
	if !lb.state.CompareAndSwap(started, stopped) {
		return ErrDoubleStopped
	}
	done := df()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}
