package daqsync

import (
	"fmt"
	"strconv"
	"strings"
)

// maxDigitalLines is the width of one digital port.
const maxDigitalLines = 32

// maxAnalogChannels bounds analog input channel numbers on one device.
const maxAnalogChannels = 256

// ChannelRange is an inclusive range of channel (or line) indices. First may
// exceed Last, in which case the channels are taken in descending order.
type ChannelRange struct {
	First int
	Last  int
}

// Count returns the number of channels in the range.
func (r ChannelRange) Count() int {
	if r.Last >= r.First {
		return r.Last - r.First + 1
	}
	return r.First - r.Last + 1
}

// indices returns the channel numbers of the range, in order.
func (r ChannelRange) indices() []int {
	step := 1
	if r.Last < r.First {
		step = -1
	}
	out := make([]int, 0, r.Count())
	for i := r.First; ; i += step {
		out = append(out, i)
		if i == r.Last {
			break
		}
	}
	return out
}

func (r ChannelRange) String() string {
	if r.First == r.Last {
		return strconv.Itoa(r.First)
	}
	return fmt.Sprintf("%d:%d", r.First, r.Last)
}

// ParseRanges parses a comma-separated list of channel ranges such as
// "0:7,16:23" or "0, 3, 5:6". Channels may not repeat, and must be below
// maxAnalogChannels.
func ParseRanges(spec string) ([]ChannelRange, error) {
	return parseRanges(spec, maxAnalogChannels)
}

// parseRanges is ParseRanges with channel numbers limited to [0, limit).
func parseRanges(spec string, limit int) ([]ChannelRange, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, configErrorf("empty channel range")
	}
	var ranges []ChannelRange
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, ":")
		first, err := parseIndex(lo)
		if err != nil {
			return nil, configErrorf("channel range %q: %v", part, err)
		}
		last := first
		if isRange {
			if last, err = parseIndex(hi); err != nil {
				return nil, configErrorf("channel range %q: %v", part, err)
			}
		}
		if first >= limit || last >= limit {
			return nil, configErrorf("channel range %q exceeds the %d channels of a device", part, limit)
		}
		r := ChannelRange{First: first, Last: last}
		for _, c := range r.indices() {
			if seen[c] {
				return nil, configErrorf("channel %d appears twice in %q", c, spec)
			}
			seen[c] = true
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseIndex(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing channel number")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative channel number %d", n)
	}
	return n, nil
}

// ChannelSpec is the ordered set of physical channels of one DeviceTask:
// analog input channels with a voltage range, or lines of one digital port.
type ChannelSpec struct {
	Device  string
	Digital bool
	Port    int // digital only
	Ranges  []ChannelRange
	Vmin    float64 // analog only
	Vmax    float64
}

// NewAnalogSpec builds the analog channel set for ranges like "0:7,16:23" on
// the named device, sampled in [vmin, vmax] volts.
func NewAnalogSpec(device, ranges string, vmin, vmax float64) (ChannelSpec, error) {
	var cs ChannelSpec
	if device == "" {
		return cs, configErrorf("analog channels %q have no device", ranges)
	}
	if !(vmin < vmax) {
		return cs, configErrorf("voltage range [%v, %v] is inverted or empty", vmin, vmax)
	}
	r, err := ParseRanges(ranges)
	if err != nil {
		return cs, err
	}
	return ChannelSpec{Device: device, Ranges: r, Vmin: vmin, Vmax: vmax}, nil
}

// NewDigitalSpec builds the digital line set for a spec like "0:31" (port 0)
// or "port1/0:7" on the named device.
func NewDigitalSpec(device, lines string) (ChannelSpec, error) {
	var cs ChannelSpec
	if device == "" {
		return cs, configErrorf("digital lines %q have no device", lines)
	}
	port := 0
	if rest, ok := strings.CutPrefix(strings.TrimSpace(lines), "port"); ok {
		p, spec, found := strings.Cut(rest, "/")
		if !found {
			return cs, configErrorf("digital lines %q: want portN/ranges", lines)
		}
		n, err := parseIndex(p)
		if err != nil {
			return cs, configErrorf("digital lines %q: port: %v", lines, err)
		}
		port, lines = n, spec
	}
	r, err := parseRanges(lines, maxDigitalLines)
	if err != nil {
		return cs, err
	}
	return ChannelSpec{Device: device, Digital: true, Port: port, Ranges: r}, nil
}

// Count returns the number of channels (or lines).
func (cs ChannelSpec) Count() int {
	n := 0
	for _, r := range cs.Ranges {
		n += r.Count()
	}
	return n
}

func (cs ChannelSpec) prefix() string {
	if cs.Digital {
		return fmt.Sprintf("%s/port%d/line", cs.Device, cs.Port)
	}
	return cs.Device + "/ai"
}

// PhysicalChannels returns the driver's name for the channel set, e.g.
// "Dev1/ai0:7, Dev1/ai16:23" or "Dev1/port0/line0:31".
func (cs ChannelSpec) PhysicalChannels() string {
	parts := make([]string, len(cs.Ranges))
	for i, r := range cs.Ranges {
		parts[i] = cs.prefix() + r.String()
	}
	return strings.Join(parts, ", ")
}

// Names returns one physical channel name per channel, in read order.
func (cs ChannelSpec) Names() []string {
	names := make([]string, 0, cs.Count())
	for _, r := range cs.Ranges {
		for _, c := range r.indices() {
			names = append(names, fmt.Sprintf("%s%d", cs.prefix(), c))
		}
	}
	return names
}
