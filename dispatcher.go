package daqsync

import (
	"sync/atomic"
	"time"
)

// Status values returned by BufferDispatcher.Dispatch to the event loop.
const (
	StatusContinue = 0 // keep streaming
	StatusStop     = 1 // stop the graph
)

// BufferDispatcher turns one buffer-ready event into one AcquisitionFrame:
// it reads BufferSize samples per channel from every task, reshapes the
// reads into channel-major matrices and forwards the frame to the sink.
type BufferDispatcher struct {
	graph           *TaskGraph
	sink            Sink
	stopOnSinkError bool
	nextSequence    atomic.Uint64
}

// NewBufferDispatcher returns a dispatcher reading from g and writing to sink.
// When stopOnSinkError is set, a failed sink write stops the acquisition.
func NewBufferDispatcher(g *TaskGraph, sink Sink, stopOnSinkError bool) *BufferDispatcher {
	return &BufferDispatcher{graph: g, sink: sink, stopOnSinkError: stopOnSinkError}
}

// Frames returns the number of frames assembled so far.
func (d *BufferDispatcher) Frames() uint64 {
	return d.nextSequence.Load()
}

// Dispatch handles one BufferReady event announcing n samples per channel.
// It returns StatusContinue to keep streaming. It returns StatusStop when a
// read failed (the error matches ErrReadTimeout or ErrHardwareFault, and the
// failed task is Errored), when a task was found not Started, or when the
// sink failed and stopOnSinkError is set. A sink error with StatusContinue
// is reported for logging only.
func (d *BufferDispatcher) Dispatch(n int) (int, error) {
	began := time.Now()
	frame, err := d.assemble(n)
	if err != nil {
		return StatusStop, err
	}
	if frame == nil {
		return StatusStop, nil
	}
	if elapsed, period := time.Since(began), d.period(); elapsed > period {
		ProblemLogger.Printf("frame %d took %v to read, longer than the %v buffer period",
			frame.SequenceNumber, elapsed, period)
	}

	if err := d.sink.Write(frame); err != nil {
		err = sinkError(err)
		ProblemLogger.Printf("frame %d: %v", frame.SequenceNumber, err)
		if d.stopOnSinkError {
			return StatusStop, err
		}
		return StatusContinue, err
	}
	return StatusContinue, nil
}

func (d *BufferDispatcher) period() time.Duration {
	return time.Duration(float64(time.Second) * float64(d.graph.bufferSize) / d.graph.sampleRate)
}

// assemble performs the four reads in order, holding the graph lock so no
// task can be stopped or cleared mid-read. It returns a nil frame and nil
// error if a task is not Started, which means a stop is underway.
func (d *BufferDispatcher) assemble(n int) (*AcquisitionFrame, error) {
	g := d.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if n != g.bufferSize {
		ProblemLogger.Printf("buffer-ready event for %d samples, reading %d", n, g.bufferSize)
	}
	frame := &AcquisitionFrame{
		SequenceNumber: d.nextSequence.Load(),
		BufferSize:     g.bufferSize,
		Timestamp:      time.Now(),
	}
	for _, r := range AllRoles {
		t, ok := g.tasks[r]
		if !ok {
			continue
		}
		if t.state != Started {
			return nil, nil
		}
		if err := d.readTask(t, frame); err != nil {
			t.setState(Errored)
			return nil, err
		}
	}
	d.nextSequence.Add(1)
	return frame, nil
}

func (d *BufferDispatcher) readTask(t *DeviceTask, frame *AcquisitionFrame) error {
	nchan := t.ChannelCount()
	if t.Role.IsAnalog() {
		flat, err := t.readAnalog()
		if err != nil {
			return err
		}
		m, err := ReshapeAnalog(flat, nchan, t.BufferSize)
		if err != nil {
			return &TaskError{Kind: ErrHardwareFault, Role: t.Role, Op: "reshape", Err: err}
		}
		if t.Role == MasterAnalog {
			frame.MasterAnalog = m
		} else {
			frame.SlaveAnalog = m
		}
		return nil
	}

	flat, err := t.readDigital()
	if err != nil {
		return err
	}
	m, err := ReshapeDigital(flat, nchan, t.BufferSize)
	if err != nil {
		return &TaskError{Kind: ErrHardwareFault, Role: t.Role, Op: "reshape", Err: err}
	}
	if t.Role == MasterDigital {
		frame.MasterDigital = m
	} else {
		frame.SlaveDigital = m
	}
	return nil
}
