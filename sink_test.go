package daqsync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type labelSink struct {
	MemorySink
	labels []string
}

func (s *labelSink) SetStateLabel(timestamp time.Time, label string) error {
	s.labels = append(s.labels, label)
	return nil
}

func TestMultiSink(t *testing.T) {
	a, b := new(MemorySink), new(labelSink)
	var calls int
	bad := FuncSink(func(*AcquisitionFrame) error {
		calls++
		return errors.New("unreachable host")
	})
	m := MultiSink{a, bad, b}
	frame := &AcquisitionFrame{SequenceNumber: 3}

	err := m.Write(frame)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, a.Frames(), 1, "a failing member does not starve the others")
	assert.Len(t, b.Frames(), 1)

	assert.NoError(t, m.SetStateLabel(time.Now(), "ERROR"))
	assert.Equal(t, []string{"ERROR"}, b.labels)

	assert.NoError(t, m.Close())
	assert.Equal(t, 1, a.Closes())
	assert.Equal(t, 1, b.Closes())
	assert.ErrorIs(t, a.Write(frame), ErrSink)
}
