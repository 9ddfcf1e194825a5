package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ProfBIT-develop/rqscheduler/observability"
)

// DaemonState is the lifecycle state of the scheduling daemon.
type DaemonState int32

const (
	// DaemonStopped means the daemon is not running.
	DaemonStopped DaemonState = iota

	// DaemonRunning means the reconciliation loop is active.
	DaemonRunning

	// DaemonStopRequested means a stop was requested and the loop will
	// exit at its next iteration boundary.
	DaemonStopRequested
)

func (s DaemonState) String() string {
	switch s {
	case DaemonStopped:
		return "stopped"
	case DaemonRunning:
		return "running"
	case DaemonStopRequested:
		return "stop_requested"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Daemon periodically drives the controller's reconciliation pass. One
// goroutine runs the loop; stop is cooperative and checked at the top of
// every iteration, so an in-flight pass always completes before exit.
type Daemon struct {
	controller *Controller
	interval   time.Duration
	logger     observability.Logger

	mutex   sync.Mutex
	state   DaemonState
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewDaemon creates a daemon that calls ScheduleAll every interval. A
// non-positive interval falls back to the default.
func NewDaemon(controller *Controller, interval time.Duration, logger observability.Logger) *Daemon {
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Daemon{
		controller: controller,
		interval:   interval,
		logger:     logger,
	}
}

// State returns the current lifecycle state.
func (d *Daemon) State() DaemonState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Start launches the reconciliation loop. It runs one pass immediately,
// then one per interval. Starting a daemon that is not stopped is an error.
func (d *Daemon) Start(ctx context.Context) error {
	d.mutex.Lock()
	if d.state != DaemonStopped {
		d.mutex.Unlock()
		return fmt.Errorf("scheduler daemon is %s, cannot start", d.state)
	}
	d.state = DaemonRunning
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.started = true
	stop, done := d.stop, d.done
	d.mutex.Unlock()

	d.logger.Info("scheduler daemon started",
		observability.NewField("interval", d.interval.String()))

	go d.run(ctx, stop, done)
	return nil
}

func (d *Daemon) run(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		d.mutex.Lock()
		d.state = DaemonStopped
		d.mutex.Unlock()
		close(done)
		d.logger.Info("scheduler daemon stopped")
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := d.controller.ScheduleAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("reconciliation pass failed", err)
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RequestStop asks the loop to exit without waiting for it. It is a no-op
// unless the daemon is running.
func (d *Daemon) RequestStop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state != DaemonRunning {
		return
	}
	d.state = DaemonStopRequested
	close(d.stop)
}

// Wait blocks until the loop goroutine has exited or the context expires.
func (d *Daemon) Wait(ctx context.Context) error {
	d.mutex.Lock()
	done := d.done
	started := d.started
	d.mutex.Unlock()

	if !started {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for scheduler daemon: %w", ctx.Err())
	}
}

// Stop requests a stop and waits for the loop to exit.
func (d *Daemon) Stop(ctx context.Context) error {
	d.RequestStop()
	return d.Wait(ctx)
}
