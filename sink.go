package daqsync

import (
	"errors"
	"fmt"
	"sync"
)

// Sink consumes assembled frames. Write is called from the dispatch
// goroutine only; Close is called once, after every task is Cleared and
// never while a Write is in progress.
type Sink interface {
	Write(frame *AcquisitionFrame) error
	Close() error
}

// sinkError marks err as an ErrSink.
func sinkError(err error) error {
	if err == nil || errors.Is(err, ErrSink) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSink, err)
}

// MemorySink keeps every frame it is given. It is safe for concurrent use.
type MemorySink struct {
	frames []*AcquisitionFrame
	closed int
	sync.Mutex
}

// Write stores the frame.
func (s *MemorySink) Write(frame *AcquisitionFrame) error {
	s.Lock()
	defer s.Unlock()
	if s.closed > 0 {
		return fmt.Errorf("%w: write to a closed MemorySink", ErrSink)
	}
	s.frames = append(s.frames, frame)
	return nil
}

// Close marks the sink closed. Later writes fail.
func (s *MemorySink) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed++
	return nil
}

// Frames returns the frames written so far.
func (s *MemorySink) Frames() []*AcquisitionFrame {
	s.Lock()
	defer s.Unlock()
	return append([]*AcquisitionFrame(nil), s.frames...)
}

// Closes returns how many times Close was called.
func (s *MemorySink) Closes() int {
	s.Lock()
	defer s.Unlock()
	return s.closed
}

// FuncSink adapts a function to the Sink interface. Close does nothing.
type FuncSink func(frame *AcquisitionFrame) error

// Write calls f(frame).
func (f FuncSink) Write(frame *AcquisitionFrame) error {
	return f(frame)
}

// Close is a no-op.
func (f FuncSink) Close() error {
	return nil
}

// MultiSink writes every frame to each of its sinks in turn.
type MultiSink []Sink

// Write gives the frame to every sink, even after one fails, and returns
// the joined errors.
func (m MultiSink) Write(frame *AcquisitionFrame) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and returns the joined errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
