package daqsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/usnistgov/daqsync/driver"
)

// Role is the job of one DeviceTask in the acquisition graph.
type Role int

// Names for the possible values of Role
const (
	MasterAnalog Role = iota
	MasterDigital
	SlaveAnalog
	SlaveDigital
)

// AllRoles lists every role, in read order.
var AllRoles = []Role{MasterAnalog, SlaveAnalog, MasterDigital, SlaveDigital}

func (r Role) String() string {
	switch r {
	case MasterAnalog:
		return "MasterAnalog"
	case MasterDigital:
		return "MasterDigital"
	case SlaveAnalog:
		return "SlaveAnalog"
	case SlaveDigital:
		return "SlaveDigital"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// IsAnalog is true for the analog input roles.
func (r Role) IsAnalog() bool {
	return r == MasterAnalog || r == SlaveAnalog
}

// IsMaster is true for the roles on the clock-generating device.
func (r Role) IsMaster() bool {
	return r == MasterAnalog || r == MasterDigital
}

// TaskState is the lifecycle state of one DeviceTask.
type TaskState int

// Names for the possible values of TaskState
const (
	Configured TaskState = iota // channels and clock configured, not sampling
	Started                     // sampling (or listening for its clock)
	Stopped                     // no longer sampling, hardware still held
	Cleared                     // hardware released; the task is inert
	Errored                     // a read or driver call failed
)

func (s TaskState) String() string {
	switch s {
	case Configured:
		return "Configured"
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	case Cleared:
		return "Cleared"
	case Errored:
		return "Errored"
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// validTransition says whether a task may move from one state to another.
// Configured -> Cleared releases a task that was never started.
func validTransition(from, to TaskState) bool {
	switch {
	case to == Errored:
		return from != Cleared && from != Errored
	case from == Configured:
		return to == Started || to == Cleared
	case from == Started:
		return to == Stopped
	case from == Stopped:
		return to == Cleared
	}
	return false
}

// ClockKind says where a task's sample clock comes from.
type ClockKind int

// Names for the possible values of ClockKind
const (
	ClockUnassigned ClockKind = iota
	ClockGenerates
	ClockReferences
)

// ClockMode is the clock assignment of a task: it either generates the
// shared sample clock or references the clock of the task with role Ref.
type ClockMode struct {
	Kind ClockKind
	Ref  Role
}

// Generates is the clock mode of the clock root.
func Generates() ClockMode {
	return ClockMode{Kind: ClockGenerates}
}

// ReferencesClockOf is the clock mode of a task sampling on another's clock.
func ReferencesClockOf(r Role) ClockMode {
	return ClockMode{Kind: ClockReferences, Ref: r}
}

func (c ClockMode) String() string {
	switch c.Kind {
	case ClockGenerates:
		return "Generates"
	case ClockReferences:
		return fmt.Sprintf("ReferencesClockOf(%s)", c.Ref)
	}
	return "Unassigned"
}

// TaskConfig holds everything needed to create one DeviceTask.
type TaskConfig struct {
	ID            string
	Role          Role
	Channels      ChannelSpec
	Terminal      driver.TerminalConfig
	SampleRate    float64
	BufferSize    int           // samples per channel per buffer-ready event
	Timeout       time.Duration // bound on each blocking read
	FiniteSamples int           // 0 means continuous sampling
	Clock         ClockMode     // leave unassigned to follow the ClockDistributor policy
}

// DeviceTask is one configured acquisition unit. Its configuration fields
// are fixed at creation. State changes happen under the lock of the TaskGraph
// holding it; stateMu also guards state so that State never waits on a
// hardware call made under the graph lock.
type DeviceTask struct {
	ID            string
	Role          Role
	Channels      ChannelSpec
	SampleRate    float64
	BufferSize    int
	Timeout       time.Duration
	FiniteSamples int
	Clock         ClockMode

	state           TaskState
	stateMu         sync.Mutex
	clockConfigured bool
	released        bool // the driver handle has been cleared
	handle          driver.TaskHandle
}

// NewDeviceTask validates tc, creates the task's driver handle and
// configures its channels. It does not configure the sample clock or start
// sampling.
func NewDeviceTask(drv driver.Driver, tc TaskConfig) (*DeviceTask, error) {
	if tc.SampleRate <= 0 {
		return nil, configErrorf("%s: sample rate %v must be positive", tc.Role, tc.SampleRate)
	}
	if tc.BufferSize < 1 {
		return nil, configErrorf("%s: buffer size %d must be at least 1", tc.Role, tc.BufferSize)
	}
	if tc.Timeout <= 0 {
		return nil, configErrorf("%s: timeout %v must be positive", tc.Role, tc.Timeout)
	}
	if tc.FiniteSamples < 0 {
		return nil, configErrorf("%s: finite sample count %d is negative", tc.Role, tc.FiniteSamples)
	}
	if tc.Channels.Count() == 0 {
		return nil, configErrorf("%s: no channels", tc.Role)
	}
	if tc.Channels.Digital == tc.Role.IsAnalog() {
		return nil, configErrorf("%s: channel type does not match the role", tc.Role)
	}
	if !tc.Channels.Digital && !(tc.Channels.Vmin < tc.Channels.Vmax) {
		return nil, configErrorf("%s: voltage range [%v, %v] is inverted or empty", tc.Role,
			tc.Channels.Vmin, tc.Channels.Vmax)
	}
	id := tc.ID
	if id == "" {
		id = tc.Role.String()
	}

	handle, err := drv.NewTask(id)
	if err != nil {
		return nil, &TaskError{Kind: ErrConfiguration, Role: tc.Role, Op: "create", Err: err}
	}
	spec := tc.Channels.PhysicalChannels()
	if tc.Channels.Digital {
		err = handle.ConfigureDigitalChannels(spec)
	} else {
		err = handle.ConfigureAnalogChannels(spec, tc.Terminal, tc.Channels.Vmin, tc.Channels.Vmax)
	}
	if err != nil {
		handle.Clear()
		return nil, &TaskError{Kind: ErrConfiguration, Role: tc.Role, Op: "configure channels", Err: err}
	}
	return &DeviceTask{
		ID:            id,
		Role:          tc.Role,
		Channels:      tc.Channels,
		SampleRate:    tc.SampleRate,
		BufferSize:    tc.BufferSize,
		Timeout:       tc.Timeout,
		FiniteSamples: tc.FiniteSamples,
		Clock:         tc.Clock,
		state:         Configured,
		handle:        handle,
	}, nil
}

// ChannelCount returns the number of channels (or digital lines) read per sample.
func (t *DeviceTask) ChannelCount() int {
	return t.Channels.Count()
}

// State returns the lifecycle state of the task.
func (t *DeviceTask) State() TaskState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// setState moves the task to the next state, if that transition is allowed.
func (t *DeviceTask) setState(next TaskState) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if !validTransition(t.state, next) {
		return fmt.Errorf("%s: invalid state transition %s -> %s", t.Role, t.state, next)
	}
	t.state = next
	return nil
}

// sampleMode returns the driver sample mode and the count to pass to
// ConfigureSampleClock: the buffer size when continuous, the total sample
// count when finite.
func (t *DeviceTask) sampleMode() (driver.SampleMode, int) {
	if t.FiniteSamples > 0 {
		return driver.FiniteSamples, t.FiniteSamples
	}
	return driver.ContinuousSamples, t.BufferSize
}

// readError classifies a failed or short read.
func (t *DeviceTask) readError(n, want int, err error) error {
	if err == nil || errors.Is(err, driver.ErrTimeout) {
		if err == nil {
			err = fmt.Errorf("read %d of %d samples", n, want)
		}
		return &TaskError{Kind: ErrReadTimeout, Role: t.Role, Op: "read", Err: err}
	}
	return &TaskError{Kind: ErrHardwareFault, Role: t.Role, Op: "read", Err: err}
}

// readAnalog performs one blocking channel-major read of BufferSize samples
// per channel. A short count is an error.
func (t *DeviceTask) readAnalog() ([]float64, error) {
	buf := make([]float64, t.ChannelCount()*t.BufferSize)
	n, err := t.handle.ReadAnalog(t.Timeout, driver.GroupByChannel, buf)
	if err != nil || n < len(buf) {
		return nil, t.readError(n, len(buf), err)
	}
	return buf, nil
}

// readDigital is readAnalog for digital lines.
func (t *DeviceTask) readDigital() ([]uint32, error) {
	buf := make([]uint32, t.ChannelCount()*t.BufferSize)
	n, err := t.handle.ReadDigital(t.Timeout, driver.GroupByChannel, buf)
	if err != nil || n < len(buf) {
		return nil, t.readError(n, len(buf), err)
	}
	return buf, nil
}
