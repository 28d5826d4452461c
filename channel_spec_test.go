package daqsync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRanges(t *testing.T) {
	tests := []struct {
		spec  string
		count int
	}{
		{"0:7,16:23", 16},
		{"0:7,16:23,32:39,48:55,64:71", 40},
		{"0:31", 32},
		{"5", 1},
		{"0, 3, 5:6", 4},
		{"7:0", 8},
	}
	for _, tt := range tests {
		ranges, err := ParseRanges(tt.spec)
		if err != nil {
			t.Errorf("ParseRanges(%q) error: %v", tt.spec, err)
			continue
		}
		spec := ChannelSpec{Device: "Dev1", Ranges: ranges}
		assert.Equal(t, tt.count, spec.Count(), "channel count of %q", tt.spec)
	}

	for _, bad := range []string{"", " ", "0:", ":3", "a:b", "-1:3", "0:3,2:5", "1,1", "0:3,,5"} {
		_, err := ParseRanges(bad)
		assert.Error(t, err, "ParseRanges(%q) should fail", bad)
		assert.True(t, errors.Is(err, ErrConfiguration), "ParseRanges(%q) error kind", bad)
	}
}

func TestAnalogSpec(t *testing.T) {
	cs, err := NewAnalogSpec("Dev1", "0:7,16:23", -1, 1)
	assert.NoError(t, err)
	assert.Equal(t, 16, cs.Count())
	assert.Equal(t, "Dev1/ai0:7, Dev1/ai16:23", cs.PhysicalChannels())
	names := cs.Names()
	assert.Len(t, names, 16)
	assert.Equal(t, "Dev1/ai0", names[0])
	assert.Equal(t, "Dev1/ai16", names[8])

	cs, err = NewAnalogSpec("Dev1", "3:1", -10, 10)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Dev1/ai3", "Dev1/ai2", "Dev1/ai1"}, cs.Names())

	_, err = NewAnalogSpec("Dev1", "0:7", 1, -1)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewAnalogSpec("", "0:7", -1, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAnalogSpecBounds(t *testing.T) {
	cs, err := NewAnalogSpec("Dev1", "0:255", -1, 1)
	assert.NoError(t, err)
	assert.Equal(t, 256, cs.Count())

	// A typo must fail fast, not expand into millions of channels.
	began := time.Now()
	for _, bad := range []string{"0:50000000", "256", "50000000:0", "0:7,16:2300"} {
		_, err := NewAnalogSpec("Dev1", bad, -1, 1)
		assert.ErrorIs(t, err, ErrConfiguration, "NewAnalogSpec(%q)", bad)
	}
	assert.Less(t, time.Since(began), time.Second)
}

func TestDigitalSpec(t *testing.T) {
	cs, err := NewDigitalSpec("Dev1", "0:31")
	assert.NoError(t, err)
	assert.Equal(t, 32, cs.Count())
	assert.Equal(t, "Dev1/port0/line0:31", cs.PhysicalChannels())

	cs, err = NewDigitalSpec("Dev2", "port1/0:7")
	assert.NoError(t, err)
	assert.Equal(t, 8, cs.Count())
	assert.Equal(t, 1, cs.Port)
	assert.Equal(t, "Dev2/port1/line0:7", cs.PhysicalChannels())
	assert.Equal(t, "Dev2/port1/line7", cs.Names()[7])

	for _, bad := range []string{"0:32", "port1", "portx/0:3", ""} {
		_, err := NewDigitalSpec("Dev1", bad)
		assert.ErrorIs(t, err, ErrConfiguration, "NewDigitalSpec(%q)", bad)
	}
}
