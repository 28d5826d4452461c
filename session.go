package daqsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/usnistgov/daqsync/driver"
)

// SessionState is used to indicate the active/inactive/transition state of a session
type SessionState int

// Names for the possible values of SessionState
const (
	Inactive SessionState = iota // Session is not active
	Starting                     // Session is in transition to Active state
	Active                       // Session is actively acquiring data
	Stopping                     // Session is in transition to Inactive state
)

func (s SessionState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Starting:
		return "Starting"
	case Active:
		return "Active"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// eventQueueLength is the capacity of the hardware event channel.
const eventQueueLength = 64

// StatusPublisher receives tagged status messages, such as a ClientUpdater.
type StatusPublisher interface {
	Publish(tag string, state any)
}

// SessionStatus is a snapshot of a session, for status clients and RPC.
type SessionStatus struct {
	State      string
	SampleRate float64
	BufferSize int
	Channels   map[string]int
	Tasks      map[string]string
	Frames     uint64
	Started    time.Time
	Error      string
}

// Session runs one acquisition: it starts the graph, feeds hardware events
// to the dispatcher on a single goroutine, and tears everything down once,
// on Stop, on a Done event or on a failure.
type Session struct {
	graph      *TaskGraph
	dispatcher *BufferDispatcher
	sink       Sink
	status     StatusPublisher

	events    chan driver.Event
	abort     chan struct{}
	runDone   sync.WaitGroup
	finished  chan struct{}
	finish    sync.Once
	startDone chan struct{} // closed when Start has left the Starting state

	state     SessionState
	started   time.Time
	result    error
	stateLock sync.Mutex // guards state, started, result
}

// NewSession prepares a session acquiring from g into sink. status may be nil.
func NewSession(g *TaskGraph, sink Sink, stopOnSinkError bool, status StatusPublisher) *Session {
	return &Session{
		graph:      g,
		dispatcher: NewBufferDispatcher(g, sink, stopOnSinkError),
		sink:       sink,
		status:     status,
		finished:   make(chan struct{}),
		startDone:  make(chan struct{}),
	}
}

// Start will start the session.
// Steps are: 1) register for the clock root's BufferReady and Done events.
// 2) run the StartupSequencer. 3) launch the core loop, which dispatches one
// frame per BufferReady event until the session stops.
// A session runs only once; on a startup error the graph has already been
// shut down and the sink closed.
func (s *Session) Start() error {
	s.stateLock.Lock()
	if s.state != Inactive || s.abort != nil {
		s.stateLock.Unlock()
		return fmt.Errorf("session cannot start: it is %s or has already run", s.state)
	}
	s.state = Starting
	s.abort = make(chan struct{})
	s.events = make(chan driver.Event, eventQueueLength)
	s.stateLock.Unlock()

	err := s.graph.RegisterEvents(s.events)
	if err == nil {
		err = s.graph.Startup()
	}
	if err != nil {
		s.end(err)
		close(s.startDone)
		return err
	}

	s.runDone.Add(1) // We'll call runDone.Done when coreLoop returns.
	s.stateLock.Lock()
	s.state = Active
	s.started = time.Now()
	s.stateLock.Unlock()
	s.publishStatus()

	go s.coreLoop()
	close(s.startDone)
	return nil
}

// coreLoop dispatches frames until graceful stop, a Done event, or a failure.
// This will be a long-running goroutine, as long as the session is active.
func (s *Session) coreLoop() {
	defer s.runDone.Done()
	for {
		select {
		case <-s.abort:
			return

		case event := <-s.events:
			if n := len(s.events); n > eventQueueLength/2 {
				ProblemLogger.Printf("%d buffer-ready events are waiting: dispatch is falling behind", n)
			}
			switch event.Kind {
			case driver.BufferReady:
				status, err := s.dispatcher.Dispatch(event.Samples)
				if status == StatusContinue {
					continue
				}
				if err != nil {
					ProblemLogger.Printf("dispatch failed; stopping the session: %v", err)
				} else {
					UpdateLogger.Println("a task is no longer started; stopping the session")
				}
				s.end(err)
				return

			case driver.Done:
				var err error
				if event.Status != nil {
					err = &TaskError{Kind: ErrHardwareFault, Role: s.graph.clocks.Root, Op: "done", Err: event.Status}
					ProblemLogger.Printf("hardware reported Done with an error; stopping: %v", event.Status)
				} else {
					UpdateLogger.Println("acquisition completed")
				}
				s.end(err)
				return
			}
		}
	}
}

// Stop tells the session to deactivate. It waits for an in-flight dispatch
// to finish before any task is stopped or cleared.
func (s *Session) Stop() error {
	s.stateLock.Lock()
	switch s.state {
	case Inactive:
		s.stateLock.Unlock()
		if s.abort != nil {
			return nil // already ended by itself
		}
		return fmt.Errorf("session not active, cannot stop")

	case Starting:
		// Let the startup finish or fail, then stop whatever it left running.
		s.stateLock.Unlock()
		<-s.startDone
		return s.Stop()

	case Stopping:
		// Ignore Stop if the session is already Stopping, but wait for it.
		s.stateLock.Unlock()
		<-s.finished
		return nil
	}
	UpdateLogger.Println("Session.Stop() was called to stop an active session")
	s.state = Stopping
	closeIfOpen(s.abort)
	s.stateLock.Unlock()

	s.runDone.Wait()
	s.end(nil)
	return nil
}

// Wait blocks until the session has ended and returns its terminal error:
// nil after Stop or a normal finite completion.
func (s *Session) Wait() error {
	<-s.finished
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.result
}

// Done returns a channel that is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Frames returns the number of frames dispatched.
func (s *Session) Frames() uint64 {
	return s.dispatcher.Frames()
}

// end shuts the graph down, closes the sink and records the result, exactly
// once. It runs on the dispatching goroutine, or on the stopping goroutine
// after the dispatching goroutine has returned, so it never overlaps a read
// or a sink write.
func (s *Session) end(cause error) {
	s.finish.Do(func() {
		s.stateLock.Lock()
		s.state = Stopping
		s.stateLock.Unlock()

		result := cause
		if err := s.graph.Shutdown(); err != nil {
			ProblemLogger.Printf("shutdown: %v", err)
			result = errors.Join(result, err)
		}
		if cause != nil {
			if sl, ok := s.sink.(StateLabeler); ok {
				if err := sl.SetStateLabel(time.Now(), "ERROR"); err != nil {
					ProblemLogger.Printf("labelling error state: %v", err)
				}
			}
		}
		if err := s.sink.Close(); err != nil {
			err = sinkError(err)
			ProblemLogger.Printf("closing sink: %v", err)
			if result == nil && s.dispatcher.stopOnSinkError {
				result = err
			}
		}

		s.stateLock.Lock()
		s.state = Inactive
		s.result = result
		s.stateLock.Unlock()
		if result != nil && s.status != nil {
			s.status.Publish("ERROR", map[string]string{"Kind": fmt.Sprint(KindOf(result)), "Error": result.Error()})
		}
		s.publishStatus()
		close(s.finished)
	})
}

// Status returns a snapshot of the session.
func (s *Session) Status() SessionStatus {
	s.stateLock.Lock()
	st := SessionStatus{
		State:      s.state.String(),
		SampleRate: s.graph.SampleRate(),
		BufferSize: s.graph.BufferSize(),
		Channels:   make(map[string]int),
		Tasks:      make(map[string]string),
		Started:    s.started,
		Frames:     s.dispatcher.Frames(),
	}
	if s.result != nil {
		st.Error = s.result.Error()
	}
	s.stateLock.Unlock()
	for r, state := range s.graph.States() {
		st.Tasks[r.String()] = state.String()
		st.Channels[r.String()] = s.graph.ChannelCount(r)
	}
	return st
}

func (s *Session) publishStatus() {
	if s.status != nil {
		s.status.Publish("STATUS", s.Status())
	}
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
		ProblemLogger.Println("warning: tried to close a channel twice")
	default:
		close(c)
	}
}
