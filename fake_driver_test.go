package daqsync

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/usnistgov/daqsync/driver"
)

// scriptedDriver is a driver.Driver whose tasks record every call in one
// shared log and fail or block on request.
type scriptedDriver struct {
	mu        sync.Mutex
	ops       []string
	tasks     map[string]*scriptedTask
	events    chan<- driver.Event
	startErr  map[string]error
	startHold map[string]chan struct{}
	stopErr   map[string]error
	readErr   map[string]error
	readBlock map[string]chan struct{}
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{
		tasks:     make(map[string]*scriptedTask),
		startErr:  make(map[string]error),
		startHold: make(map[string]chan struct{}),
		stopErr:   make(map[string]error),
		readErr:   make(map[string]error),
		readBlock: make(map[string]chan struct{}),
	}
}

func (d *scriptedDriver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, fmt.Sprintf(format, args...))
}

// log returns the recorded calls.
func (d *scriptedDriver) log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// logMatching returns the recorded calls whose operation is one of ops.
func (d *scriptedDriver) logMatching(ops ...string) []string {
	var out []string
	for _, op := range d.log() {
		_, name, _ := strings.Cut(op, ".")
		name, _, _ = strings.Cut(name, "(")
		if slices.Contains(ops, name) {
			out = append(out, op)
		}
	}
	return out
}

// fire delivers an event as the clock root would.
func (d *scriptedDriver) fire(e driver.Event) {
	d.mu.Lock()
	events := d.events
	d.mu.Unlock()
	events <- e
}

func (d *scriptedDriver) NewTask(name string) (driver.TaskHandle, error) {
	d.record("%s.NewTask", name)
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &scriptedTask{d: d, name: name}
	d.tasks[name] = t
	return t, nil
}

type scriptedTask struct {
	d       *scriptedDriver
	name    string
	cleared bool
}

func (t *scriptedTask) call(op string) error {
	t.d.mu.Lock()
	cleared := t.cleared
	t.d.mu.Unlock()
	if cleared {
		t.d.record("%s.%s-after-Clear", t.name, op)
		return errors.New("use of a cleared task")
	}
	t.d.record("%s.%s", t.name, op)
	return nil
}

func (t *scriptedTask) ConfigureAnalogChannels(spec string, mode driver.TerminalConfig, vmin, vmax float64) error {
	return t.call("ConfigureAnalogChannels")
}

func (t *scriptedTask) ConfigureDigitalChannels(spec string) error {
	return t.call("ConfigureDigitalChannels")
}

func (t *scriptedTask) ConfigureSampleClock(source string, rate float64, edge driver.Edge, mode driver.SampleMode, bufferSize int) error {
	return t.call(fmt.Sprintf("ConfigureSampleClock(%s)", source))
}

func (t *scriptedTask) SampleClockTerminal() string {
	return "/" + t.name + "/SampleClock"
}

func (t *scriptedTask) RegisterEvents(n int, events chan<- driver.Event) error {
	t.d.mu.Lock()
	t.d.events = events
	t.d.mu.Unlock()
	return t.call("RegisterEvents")
}

// Start blocks if asked to, then returns the scripted error, if any.
func (t *scriptedTask) Start() error {
	t.d.mu.Lock()
	hold := t.d.startHold[t.name]
	t.d.mu.Unlock()
	if hold != nil {
		t.d.record("%s.Start-blocked", t.name)
		<-hold
	}
	if err := t.call("Start"); err != nil {
		return err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.d.startErr[t.name]
}

func (t *scriptedTask) Stop() error {
	if err := t.call("Stop"); err != nil {
		return err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.d.stopErr[t.name]
}

func (t *scriptedTask) Clear() error {
	if err := t.call("Clear"); err != nil {
		return err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.cleared = true
	return nil
}

// read blocks if asked to, then returns the scripted error, if any.
func (t *scriptedTask) read(op string) error {
	t.d.mu.Lock()
	block := t.d.readBlock[t.name]
	t.d.mu.Unlock()
	if block != nil {
		t.d.record("%s.%s-blocked", t.name, op)
		<-block
	}
	if err := t.call(op); err != nil {
		return err
	}
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.d.readErr[t.name]
}

// ReadAnalog fills buf with its own indices.
func (t *scriptedTask) ReadAnalog(timeout time.Duration, layout driver.Layout, buf []float64) (int, error) {
	if err := t.read("ReadAnalog"); err != nil {
		return 0, err
	}
	for i := range buf {
		buf[i] = float64(i)
	}
	return len(buf), nil
}

func (t *scriptedTask) ReadDigital(timeout time.Duration, layout driver.Layout, buf []uint32) (int, error) {
	if err := t.read("ReadDigital"); err != nil {
		return 0, err
	}
	for i := range buf {
		buf[i] = uint32(i % 2)
	}
	return len(buf), nil
}

// testTaskConfig returns a small task of the given role: analog tasks have
// 2 (master) or 3 (slave) channels, digital tasks 4 or 5 lines.
func testTaskConfig(role Role) TaskConfig {
	device := "Dev1"
	if !role.IsMaster() {
		device = "Dev2"
	}
	var spec ChannelSpec
	var err error
	switch role {
	case MasterAnalog:
		spec, err = NewAnalogSpec(device, "0:1", -1, 1)
	case SlaveAnalog:
		spec, err = NewAnalogSpec(device, "0:2", -1, 1)
	case MasterDigital:
		spec, err = NewDigitalSpec(device, "0:3")
	case SlaveDigital:
		spec, err = NewDigitalSpec(device, "0:4")
	}
	if err != nil {
		panic(err)
	}
	return TaskConfig{
		Role:       role,
		Channels:   spec,
		SampleRate: 1000,
		BufferSize: 10,
		Timeout:    time.Second,
	}
}

// newScriptedTasks creates one task per role on d.
func newScriptedTasks(t *testing.T, d *scriptedDriver, configs ...TaskConfig) []*DeviceTask {
	t.Helper()
	var tasks []*DeviceTask
	for _, tc := range configs {
		task, err := NewDeviceTask(d, tc)
		if err != nil {
			t.Fatalf("NewDeviceTask(%s): %v", tc.Role, err)
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// newScriptedGraph builds a graph of the given roles on a new scriptedDriver.
func newScriptedGraph(t *testing.T, roles ...Role) (*TaskGraph, *scriptedDriver) {
	t.Helper()
	d := newScriptedDriver()
	var configs []TaskConfig
	for _, r := range roles {
		configs = append(configs, testTaskConfig(r))
	}
	g, err := NewTaskGraph(newScriptedTasks(t, d, configs...)...)
	if err != nil {
		t.Fatalf("NewTaskGraph: %v", err)
	}
	return g, d
}
