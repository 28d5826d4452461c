package daqsync

import (
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/usnistgov/daqsync/driver"
)

// TaskGraph is the set of DeviceTasks of one acquisition, at most one per
// role, sharing one sample clock. Its lock serializes every change of task
// state and every hardware call made by the sequencers and the dispatcher.
type TaskGraph struct {
	tasks      map[Role]*DeviceTask
	clocks     ClockDistributor
	sampleRate float64
	bufferSize int
	mu         sync.Mutex
}

// NewTaskGraph checks that the tasks form a valid acquisition graph, assigns
// their clock modes and configures their sample clocks. Every task must
// share one sample rate and buffer size, and a MasterAnalog task is
// required. On error, the tasks' driver handles are released.
func NewTaskGraph(tasks ...*DeviceTask) (*TaskGraph, error) {
	g := &TaskGraph{
		tasks:  make(map[Role]*DeviceTask),
		clocks: ClockDistributor{Root: MasterAnalog},
	}
	if err := g.build(tasks); err != nil {
		releaseTasks(tasks)
		return nil, err
	}
	return g, nil
}

func (g *TaskGraph) build(tasks []*DeviceTask) error {
	if len(tasks) == 0 {
		return configErrorf("acquisition graph has no tasks")
	}
	var first *DeviceTask
	for _, t := range tasks {
		if t == nil {
			return configErrorf("nil DeviceTask")
		}
		if _, dup := g.tasks[t.Role]; dup {
			return configErrorf("two tasks with role %s", t.Role)
		}
		if t.state != Configured {
			return configErrorf("%s: task is %s, want Configured", t.Role, t.state)
		}
		g.tasks[t.Role] = t
		if first == nil {
			first = t
			continue
		}
		if t.SampleRate != first.SampleRate {
			return configErrorf("%s sample rate %v differs from %s sample rate %v",
				t.Role, t.SampleRate, first.Role, first.SampleRate)
		}
		if t.BufferSize != first.BufferSize {
			return configErrorf("%s buffer size %d differs from %s buffer size %d",
				t.Role, t.BufferSize, first.Role, first.BufferSize)
		}
		if t.FiniteSamples != first.FiniteSamples {
			return configErrorf("%s finite sample count %d differs from %s count %d",
				t.Role, t.FiniteSamples, first.Role, first.FiniteSamples)
		}
	}
	if _, ok := g.tasks[MasterAnalog]; !ok {
		return configErrorf("acquisition graph has no %s task", MasterAnalog)
	}
	g.sampleRate = first.SampleRate
	g.bufferSize = first.BufferSize

	if err := g.clocks.Assign(g.tasks); err != nil {
		return err
	}
	if err := g.clocks.Validate(g.tasks); err != nil {
		return err
	}
	return g.clocks.Configure(g.tasks)
}

// releaseTasks clears the driver handle of tasks that never joined a graph.
func releaseTasks(tasks []*DeviceTask) {
	for _, t := range tasks {
		if t == nil || t.released {
			continue
		}
		if err := t.handle.Clear(); err != nil {
			ProblemLogger.Printf("releasing %s: %v", t.Role, err)
		}
		t.released = true
		t.stateMu.Lock()
		t.state = Cleared
		t.stateMu.Unlock()
	}
}

// Roles returns the roles present in the graph, in read order.
func (g *TaskGraph) Roles() []Role {
	var roles []Role
	for _, r := range AllRoles {
		if _, ok := g.tasks[r]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// Task returns the task with the given role, if present.
func (g *TaskGraph) Task(r Role) (*DeviceTask, bool) {
	t, ok := g.tasks[r]
	return t, ok
}

// State returns the lifecycle state of the task with the given role. It
// does not take the graph lock, so it answers even during a blocking read.
func (g *TaskGraph) State(r Role) (TaskState, bool) {
	t, ok := g.tasks[r]
	if !ok {
		return Cleared, false
	}
	return t.State(), true
}

// States returns the lifecycle state of every task, without taking the graph lock.
func (g *TaskGraph) States() map[Role]TaskState {
	states := make(map[Role]TaskState, len(g.tasks))
	for r, t := range g.tasks {
		states[r] = t.State()
	}
	return states
}

// SampleRate returns the sample rate shared by all tasks.
func (g *TaskGraph) SampleRate() float64 {
	return g.sampleRate
}

// BufferSize returns the number of samples per channel read per buffer.
func (g *TaskGraph) BufferSize() int {
	return g.bufferSize
}

// FiniteSamples returns the samples per channel of a finite acquisition, or 0.
func (g *TaskGraph) FiniteSamples() int {
	return g.tasks[MasterAnalog].FiniteSamples
}

// ChannelCount returns the number of channels of the given role, 0 if absent.
func (g *TaskGraph) ChannelCount(r Role) int {
	if t, ok := g.tasks[r]; ok {
		return t.ChannelCount()
	}
	return 0
}

// RegisterEvents asks the clock root to deliver a BufferReady event every
// BufferSize samples, and its Done event, on events.
func (g *TaskGraph) RegisterEvents(events chan<- driver.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	root := g.tasks[g.clocks.Root]
	if err := root.handle.RegisterEvents(g.bufferSize, events); err != nil {
		return &TaskError{Kind: ErrConfiguration, Role: root.Role, Op: "register events", Err: err}
	}
	return nil
}

// dump returns a readable description of the tasks, for the problem log.
func (g *TaskGraph) dump() string {
	type summary struct {
		ID       string
		State    string
		Clock    string
		Channels string
	}
	out := make(map[string]summary)
	for r, t := range g.tasks {
		out[r.String()] = summary{t.ID, t.state.String(), t.Clock.String(), t.Channels.PhysicalChannels()}
	}
	return spew.Sdump(out)
}
