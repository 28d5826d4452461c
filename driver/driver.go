// Package driver describes the hardware collaborator used by daqsync: the
// vendor task object that configures channels and sample clocks, starts and
// stops acquisition, performs blocking buffer reads and raises buffer-ready
// and done events.
//
// The orchestration layer never implements this contract for real hardware.
// Vendor bindings register themselves with Register, and the package ships
// NoHardware, a drop-in simulated driver used for testing and for running the
// acquisition program on a machine without DAQ cards.
package driver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrTimeout is returned (possibly wrapped) by a read that did not collect
// the requested number of samples before its timeout.
var ErrTimeout = errors.New("driver: read timed out")

// TerminalConfig selects the analog input terminal configuration.
type TerminalConfig int

// Names for the possible values of TerminalConfig
const (
	Differential TerminalConfig = iota
	RSE                         // referenced single-ended
	NRSE                        // non-referenced single-ended
	DefaultTerminal
)

func (tc TerminalConfig) String() string {
	switch tc {
	case Differential:
		return "differential"
	case RSE:
		return "rse"
	case NRSE:
		return "nrse"
	case DefaultTerminal:
		return "default"
	}
	return fmt.Sprintf("TerminalConfig(%d)", int(tc))
}

// ParseTerminalConfig converts a configuration string into a TerminalConfig.
func ParseTerminalConfig(s string) (TerminalConfig, error) {
	for _, tc := range []TerminalConfig{Differential, RSE, NRSE, DefaultTerminal} {
		if tc.String() == s {
			return tc, nil
		}
	}
	return Differential, fmt.Errorf("unknown terminal configuration %q", s)
}

// Edge is the sample clock edge on which samples are taken.
type Edge int

// Names for the possible values of Edge
const (
	Rising Edge = iota
	Falling
)

// SampleMode says whether a task samples forever or stops after a fixed count.
type SampleMode int

// Names for the possible values of SampleMode
const (
	ContinuousSamples SampleMode = iota
	FiniteSamples
)

// Layout is the grouping of samples in a flat read buffer.
type Layout int

// Names for the possible values of Layout
const (
	GroupByChannel    Layout = iota // all of channel 0, then all of channel 1...
	GroupByScanNumber               // interleaved, one value per channel per sample
)

// InternalClock is the ConfigureSampleClock source meaning "generate the
// sample clock on this task's own device".
const InternalClock = ""

// EventKind distinguishes the events raised by the hardware.
type EventKind int

// Names for the possible values of EventKind
const (
	BufferReady EventKind = iota // N samples per channel have been acquired into the buffer
	Done                         // the task stopped on its own (error or finite completion)
)

// Event is one hardware notification. For BufferReady, Samples is the number
// of samples per channel now available. For Done, Status is nil on a normal
// (finite) completion and the driver's error otherwise.
type Event struct {
	Kind    EventKind
	Samples int
	Status  error
}

// TaskHandle is the capability object for one vendor acquisition task.
type TaskHandle interface {
	ConfigureAnalogChannels(spec string, mode TerminalConfig, vmin, vmax float64) error
	ConfigureDigitalChannels(spec string) error
	ConfigureSampleClock(source string, rate float64, edge Edge, mode SampleMode, bufferSize int) error

	// SampleClockTerminal names the signal other tasks use to reference the
	// sample clock of this task, e.g. "/Dev1/ai/SampleClock".
	SampleClockTerminal() string

	// RegisterEvents asks the driver to send a BufferReady event every n
	// samples per channel, and a Done event if the task stops by itself.
	RegisterEvents(n int, events chan<- Event) error

	Start() error
	Stop() error
	Clear() error

	// ReadAnalog fills buf with up to len(buf) samples, returning how many
	// were read. It blocks for at most timeout.
	ReadAnalog(timeout time.Duration, layout Layout, buf []float64) (int, error)
	ReadDigital(timeout time.Duration, layout Layout, buf []uint32) (int, error)
}

// Driver creates task handles.
type Driver interface {
	NewTask(name string) (TaskHandle, error)
}

// Factory builds a Driver by name; see Register.
type Factory func() (Driver, error)

var (
	registryLock sync.Mutex
	registry     = make(map[string]Factory)
)

// Register makes a driver available under the given name. Vendor bindings
// call it from an init function. Registering the same name twice panics.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if factory == nil {
		panic("driver: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("driver: Register called twice for driver " + name)
	}
	registry[name] = factory
}

// Open returns a new Driver from the factory registered under name.
func Open(name string) (Driver, error) {
	registryLock.Lock()
	factory, ok := registry[name]
	registryLock.Unlock()
	if !ok {
		return nil, fmt.Errorf("driver %q is not registered (have %v)", name, Drivers())
	}
	return factory()
}

// Drivers returns a sorted list of the registered driver names.
func Drivers() []string {
	registryLock.Lock()
	defer registryLock.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
