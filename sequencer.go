package daqsync

import (
	"errors"
)

// startOrder arms every consumer of the sample clock before the clock root,
// so no consumer misses the first edges.
var startOrder = []Role{SlaveDigital, SlaveAnalog, MasterDigital, MasterAnalog}

// shutdownOrder releases the slaves first and the clock root last.
var shutdownOrder = []Role{SlaveDigital, SlaveAnalog, MasterDigital, MasterAnalog}

// StartOrder returns the order in which tasks are started.
func StartOrder() []Role {
	return append([]Role(nil), startOrder...)
}

// ShutdownOrder returns the order in which tasks are stopped and cleared.
func ShutdownOrder() []Role {
	return append([]Role(nil), shutdownOrder...)
}

// Startup starts every task in StartOrder. If any task fails to start, the
// whole graph is shut down and the returned error matches ErrStartup.
func (g *TaskGraph) Startup() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range startOrder {
		t, ok := g.tasks[r]
		if !ok {
			continue
		}
		var err error
		if t.state != Configured || !t.clockConfigured {
			err = &TaskError{Kind: ErrStartup, Role: r, Op: "start",
				Err: errors.New("task is " + t.state.String() + " or its sample clock is unconfigured")}
		} else if err2 := t.handle.Start(); err2 != nil {
			t.setState(Errored)
			err = &TaskError{Kind: ErrStartup, Role: r, Op: "start", Err: err2}
		} else {
			t.setState(Started)
			UpdateLogger.Printf("started %s (%s)", r, t.Channels.PhysicalChannels())
			continue
		}
		ProblemLogger.Printf("startup failed: %v\n%s", err, g.dump())
		if err2 := g.shutdownLocked(); err2 != nil {
			return errors.Join(err, err2)
		}
		return err
	}
	return nil
}

// Shutdown stops and clears every task in ShutdownOrder, each task getting
// Stop then Clear before the next one is touched. Tasks already Cleared are
// skipped, so calling Shutdown again is a no-op. Errors from the driver are
// collected and returned together as an ErrHardwareFault; teardown continues
// past them.
func (g *TaskGraph) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shutdownLocked()
}

func (g *TaskGraph) shutdownLocked() error {
	var errs []error
	for _, r := range shutdownOrder {
		t, ok := g.tasks[r]
		if !ok {
			continue
		}
		if err := g.releaseTask(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// releaseTask brings one task to Cleared. An Errored task keeps its state
// but has its handle stopped and cleared once.
func (g *TaskGraph) releaseTask(t *DeviceTask) error {
	fault := func(op string, err error) error {
		return &TaskError{Kind: ErrHardwareFault, Role: t.Role, Op: op, Err: err}
	}
	switch t.state {
	case Cleared:
		return nil

	case Errored:
		if t.released {
			return nil
		}
		t.released = true
		err1 := t.handle.Stop()
		err2 := t.handle.Clear()
		if err := errors.Join(err1, err2); err != nil {
			return fault("release", err)
		}
		return nil

	case Started:
		if err := t.handle.Stop(); err != nil {
			t.setState(Errored)
			t.released = true
			if err2 := t.handle.Clear(); err2 != nil {
				err = errors.Join(err, err2)
			}
			return fault("stop", err)
		}
		t.setState(Stopped)
		fallthrough

	case Stopped:
		t.released = true
		if err := t.handle.Clear(); err != nil {
			t.setState(Errored)
			return fault("clear", err)
		}
		t.setState(Cleared)
		UpdateLogger.Printf("cleared %s", t.Role)

	case Configured:
		t.released = true
		if err := t.handle.Clear(); err != nil {
			t.setState(Errored)
			return fault("clear", err)
		}
		t.setState(Cleared)
	}
	return nil
}
