package driver

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

func init() {
	Register("nohardware", func() (Driver, error) { return NewNoHardware(), nil })
}

// NoHardware is a drop in replacement for a vendor driver (implements Driver)
// that requires no hardware, for testing. Tasks that generate their clock tick
// in real time at the configured rate; tasks that reference another task's
// clock terminal only see samples once that clock is running.
type NoHardware struct {
	tasks  map[string]*noHardwareTask
	clocks map[string]*sharedClock // keyed by sample clock terminal
	faults map[string]error        // next read on the named task returns this
	sync.Mutex
}

// NewNoHardware generates and returns a new simulated driver.
func NewNoHardware() *NoHardware {
	return &NoHardware{
		tasks:  make(map[string]*noHardwareTask),
		clocks: make(map[string]*sharedClock),
		faults: make(map[string]error),
	}
}

// NewTask creates a simulated task. Task names must be unique.
func (hw *NoHardware) NewTask(name string) (TaskHandle, error) {
	hw.Lock()
	defer hw.Unlock()
	if _, ok := hw.tasks[name]; ok {
		return nil, fmt.Errorf("NoHardware.NewTask: task %q already exists", name)
	}
	task := &noHardwareTask{hw: hw, name: name}
	hw.tasks[name] = task
	return task, nil
}

// InjectFault makes the next read on the named task fail with err.
func (hw *NoHardware) InjectFault(name string, err error) {
	hw.Lock()
	defer hw.Unlock()
	hw.faults[name] = err
}

func (hw *NoHardware) takeFault(name string) error {
	hw.Lock()
	defer hw.Unlock()
	err := hw.faults[name]
	delete(hw.faults, name)
	return err
}

// Inspect returns a human-readable dump of the simulated tasks.
func (hw *NoHardware) Inspect() string {
	hw.Lock()
	defer hw.Unlock()
	return spew.Sdump(hw.tasks)
}

// sharedClock counts the sample clock edges emitted by a generating task.
// Every consumer of the clock waits on advanced, which is closed and replaced
// each time the edge count grows.
type sharedClock struct {
	edges    int64
	running  bool
	advanced chan struct{}
	sync.Mutex
}

func newSharedClock() *sharedClock {
	return &sharedClock{advanced: make(chan struct{})}
}

func (c *sharedClock) advance(n int) {
	c.Lock()
	c.edges += int64(n)
	close(c.advanced)
	c.advanced = make(chan struct{})
	c.Unlock()
}

func (c *sharedClock) setRunning(running bool) {
	c.Lock()
	c.running = running
	close(c.advanced)
	c.advanced = make(chan struct{})
	c.Unlock()
}

type noHardwareTask struct {
	hw         *NoHardware
	name       string
	device     string
	analog     bool
	nchan      int
	vmin, vmax float64

	rate       float64
	bufferSize int
	mode       SampleMode
	clock      *sharedClock // the clock this task samples on
	generates  bool
	terminal   string

	events   chan<- Event
	every    int
	started  bool
	cleared  bool
	first    int64 // clock edge count when this task started
	consumed int64 // samples per channel read so far
	abort    chan struct{}
	wg       sync.WaitGroup
	sync.Mutex
}

// parsePhysicalChannels counts the channels in a spec like
// "Dev1/ai0:7, Dev1/ai16:23" or "Dev2/port0/line0:7" and returns the device.
func parsePhysicalChannels(spec string) (device string, nchan int, err error) {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Split(strings.TrimPrefix(part, "/"), "/")
		if len(fields) < 2 {
			return "", 0, fmt.Errorf("physical channel %q has no device", part)
		}
		if device == "" {
			device = fields[0]
		} else if device != fields[0] {
			return "", 0, fmt.Errorf("physical channels span devices %s and %s", device, fields[0])
		}
		last := strings.TrimLeft(fields[len(fields)-1], "abcdefghijklmnopqrstuvwxyz")
		lo, hi, found := strings.Cut(last, ":")
		first, err1 := strconv.Atoi(lo)
		if err1 != nil {
			return "", 0, fmt.Errorf("physical channel %q: %v", part, err1)
		}
		final := first
		if found {
			if final, err1 = strconv.Atoi(hi); err1 != nil {
				return "", 0, fmt.Errorf("physical channel %q: %v", part, err1)
			}
		}
		if final < first {
			first, final = final, first
		}
		nchan += final - first + 1
	}
	return device, nchan, nil
}

func (t *noHardwareTask) ConfigureAnalogChannels(spec string, mode TerminalConfig, vmin, vmax float64) error {
	t.Lock()
	defer t.Unlock()
	if t.nchan > 0 {
		return fmt.Errorf("NoHardware task %s: channels already configured", t.name)
	}
	if vmin >= vmax {
		return fmt.Errorf("NoHardware task %s: vmin %v >= vmax %v", t.name, vmin, vmax)
	}
	device, n, err := parsePhysicalChannels(spec)
	if err != nil {
		return err
	}
	t.device, t.nchan, t.analog = device, n, true
	t.vmin, t.vmax = vmin, vmax
	t.terminal = fmt.Sprintf("/%s/ai/SampleClock", device)
	return nil
}

func (t *noHardwareTask) ConfigureDigitalChannels(spec string) error {
	t.Lock()
	defer t.Unlock()
	if t.nchan > 0 {
		return fmt.Errorf("NoHardware task %s: channels already configured", t.name)
	}
	device, n, err := parsePhysicalChannels(spec)
	if err != nil {
		return err
	}
	if n > 32 {
		return fmt.Errorf("NoHardware task %s: %d lines, at most 32 per port", t.name, n)
	}
	t.device, t.nchan, t.analog = device, n, false
	t.terminal = fmt.Sprintf("/%s/di/SampleClock", device)
	return nil
}

func (t *noHardwareTask) ConfigureSampleClock(source string, rate float64, edge Edge, mode SampleMode, bufferSize int) error {
	if rate <= 0 || bufferSize <= 0 {
		return fmt.Errorf("NoHardware task %s: rate %v and buffer size %d must be positive", t.name, rate, bufferSize)
	}
	t.hw.Lock()
	defer t.hw.Unlock()
	t.Lock()
	defer t.Unlock()
	if t.nchan == 0 {
		return fmt.Errorf("NoHardware task %s: configure channels before the sample clock", t.name)
	}
	if source == InternalClock {
		t.clock = newSharedClock()
		t.generates = true
		t.hw.clocks[t.terminal] = t.clock
	} else {
		clock, ok := t.hw.clocks[source]
		if !ok {
			return fmt.Errorf("NoHardware task %s: clock terminal %q is not routable", t.name, source)
		}
		t.clock = clock
		t.generates = false
		// A task sampling on a routed clock exports it on its own terminal too.
		if _, taken := t.hw.clocks[t.terminal]; !taken {
			t.hw.clocks[t.terminal] = clock
		}
	}
	t.rate = rate
	t.mode = mode
	t.bufferSize = bufferSize
	return nil
}

func (t *noHardwareTask) SampleClockTerminal() string {
	t.Lock()
	defer t.Unlock()
	return t.terminal
}

func (t *noHardwareTask) RegisterEvents(n int, events chan<- Event) error {
	t.Lock()
	defer t.Unlock()
	if n <= 0 {
		return fmt.Errorf("NoHardware task %s: event interval %d must be positive", t.name, n)
	}
	t.every = n
	t.events = events
	return nil
}

func (t *noHardwareTask) Start() error {
	t.Lock()
	defer t.Unlock()
	switch {
	case t.cleared:
		return fmt.Errorf("NoHardware task %s: cleared", t.name)
	case t.started:
		return fmt.Errorf("NoHardware task %s: already started", t.name)
	case t.clock == nil:
		return fmt.Errorf("NoHardware task %s: sample clock not configured", t.name)
	}
	t.clock.Lock()
	t.first = t.clock.edges
	t.clock.Unlock()
	t.consumed = 0
	t.started = true
	t.abort = make(chan struct{})
	if t.generates {
		chunk := t.bufferSize
		if t.every > 0 {
			chunk = t.every
		}
		var total int64
		if t.mode == FiniteSamples {
			// In finite mode the configured buffer size is the total sample count.
			total = int64(t.bufferSize)
		}
		t.clock.setRunning(true)
		t.wg.Add(1)
		go t.generate(t.abort, chunk, total, t.events)
	}
	return nil
}

// generate emits sample clock edges in real time, chunk samples at a time,
// raising a BufferReady event per chunk. When total > 0 it stops after exactly
// total samples and raises Done.
func (t *noHardwareTask) generate(abort <-chan struct{}, chunk int, total int64, events chan<- Event) {
	defer t.wg.Done()
	period := time.Duration(float64(time.Second) * float64(chunk) / t.rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var emitted int64
	for {
		select {
		case <-abort:
			return
		case <-ticker.C:
		}
		n := chunk
		if total > 0 && emitted+int64(n) > total {
			n = int(total - emitted)
		}
		t.clock.advance(n)
		emitted += int64(n)
		// A short final buffer completes the acquisition without a BufferReady.
		if events != nil && n == chunk {
			select {
			case events <- Event{Kind: BufferReady, Samples: n}:
			case <-abort:
				return
			}
		}
		if total > 0 && emitted >= total {
			t.clock.setRunning(false)
			if events != nil {
				select {
				case events <- Event{Kind: Done}:
				case <-abort:
				}
			}
			return
		}
	}
}

func (t *noHardwareTask) Stop() error {
	t.Lock()
	if t.cleared {
		t.Unlock()
		return fmt.Errorf("NoHardware task %s: cleared", t.name)
	}
	if !t.started {
		t.Unlock()
		return nil
	}
	t.started = false
	close(t.abort)
	generates := t.generates
	t.Unlock()
	t.wg.Wait()
	if generates {
		t.clock.setRunning(false)
	}
	return nil
}

func (t *noHardwareTask) Clear() error {
	if err := t.Stop(); err != nil {
		return err
	}
	t.hw.Lock()
	defer t.hw.Unlock()
	t.Lock()
	defer t.Unlock()
	t.cleared = true
	if t.clock != nil && t.hw.clocks[t.terminal] == t.clock {
		delete(t.hw.clocks, t.terminal)
	}
	delete(t.hw.tasks, t.name)
	return nil
}

// waitForSamples blocks until n samples per channel are available, the
// timeout expires, or the task is stopped. It returns how many are available.
func (t *noHardwareTask) waitForSamples(n int, timeout time.Duration) (int64, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		t.Lock()
		if t.cleared {
			t.Unlock()
			return 0, fmt.Errorf("NoHardware task %s: read on a cleared task", t.name)
		}
		if !t.started {
			t.Unlock()
			return 0, fmt.Errorf("NoHardware task %s: read on a task that is not started", t.name)
		}
		abort := t.abort
		t.clock.Lock()
		available := t.clock.edges - t.first - t.consumed
		advanced := t.clock.advanced
		t.clock.Unlock()
		t.Unlock()
		if available >= int64(n) {
			return available, nil
		}
		select {
		case <-advanced:
		case <-abort:
			return available, fmt.Errorf("NoHardware task %s: stopped during read", t.name)
		case <-deadline.C:
			return available, fmt.Errorf("NoHardware task %s: %w after %v", t.name, ErrTimeout, timeout)
		}
	}
}

func (t *noHardwareTask) checkRead(analog bool, layout Layout, buflen int) (int, error) {
	if err := t.hw.takeFault(t.name); err != nil {
		return 0, err
	}
	t.Lock()
	defer t.Unlock()
	if t.analog != analog {
		return 0, fmt.Errorf("NoHardware task %s: wrong sample type for this task", t.name)
	}
	if layout != GroupByChannel && layout != GroupByScanNumber {
		return 0, fmt.Errorf("NoHardware task %s: unknown layout %d", t.name, layout)
	}
	if t.nchan == 0 || buflen%t.nchan != 0 {
		return 0, fmt.Errorf("NoHardware task %s: buffer length %d is not a multiple of %d channels",
			t.name, buflen, t.nchan)
	}
	return buflen / t.nchan, nil
}

// index returns the position of (channel, sample) in a flat buffer.
func index(layout Layout, nchan, nsamp, channel, sample int) int {
	if layout == GroupByChannel {
		return channel*nsamp + sample
	}
	return sample*nchan + channel
}

func (t *noHardwareTask) ReadAnalog(timeout time.Duration, layout Layout, buf []float64) (int, error) {
	nsamp, err := t.checkRead(true, layout, len(buf))
	if err != nil {
		return 0, err
	}
	available, err := t.waitForSamples(nsamp, timeout)
	if available < int64(nsamp) {
		nsamp = int(available)
	}
	t.Lock()
	defer t.Unlock()
	mid := 0.5 * (t.vmax + t.vmin)
	amplitude := 0.45 * (t.vmax - t.vmin)
	for j := 0; j < nsamp; j++ {
		k := float64(t.first + t.consumed + int64(j))
		for c := 0; c < t.nchan; c++ {
			phase := 2 * math.Pi * float64(c+1) * k / t.rate
			buf[index(layout, t.nchan, len(buf)/t.nchan, c, j)] = mid + amplitude*math.Sin(phase)
		}
	}
	t.consumed += int64(nsamp)
	return nsamp * t.nchan, err
}

func (t *noHardwareTask) ReadDigital(timeout time.Duration, layout Layout, buf []uint32) (int, error) {
	nsamp, err := t.checkRead(false, layout, len(buf))
	if err != nil {
		return 0, err
	}
	available, err := t.waitForSamples(nsamp, timeout)
	if available < int64(nsamp) {
		nsamp = int(available)
	}
	t.Lock()
	defer t.Unlock()
	for j := 0; j < nsamp; j++ {
		k := uint64(t.first + t.consumed + int64(j))
		for c := 0; c < t.nchan; c++ {
			buf[index(layout, t.nchan, len(buf)/t.nchan, c, j)] = uint32((k >> uint(c)) & 1)
		}
	}
	t.consumed += int64(nsamp)
	return nsamp * t.nchan, err
}
