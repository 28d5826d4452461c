package daqsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReshapeAnalog(t *testing.T) {
	// 16 channels of 100 samples, read channel-major.
	flat := make([]float64, 1600)
	for i := range flat {
		flat[i] = float64(i)
	}
	m, err := ReshapeAnalog(flat, 16, 100)
	if err != nil {
		t.Fatal(err)
	}
	r, c := m.Dims()
	assert.Equal(t, 16, r)
	assert.Equal(t, 100, c)
	assert.Equal(t, 0.0, m.At(0, 0))
	assert.Equal(t, 99.0, m.At(0, 99))
	assert.Equal(t, 100.0, m.At(1, 0))
	assert.Equal(t, 1599.0, m.At(15, 99))
	assert.Equal(t, flat, FlattenAnalog(m))

	_, err = ReshapeAnalog(flat, 16, 99)
	assert.Error(t, err)
	_, err = ReshapeAnalog(nil, 0, 100)
	assert.Error(t, err)
}

func TestReshapeShapes(t *testing.T) {
	for _, nchan := range []int{1, 8, 16, 40} {
		for _, nsamp := range []int{1, 100, 1000} {
			flat := make([]float64, nchan*nsamp)
			lines := make([]uint32, nchan*nsamp)
			for i := range flat {
				flat[i] = float64(i) * 0.5
				lines[i] = uint32(i % 3)
			}
			m, err := ReshapeAnalog(flat, nchan, nsamp)
			if err != nil {
				t.Fatalf("ReshapeAnalog(%d, %d): %v", nchan, nsamp, err)
			}
			assert.Equal(t, flat, FlattenAnalog(m), "%d x %d", nchan, nsamp)
			assert.Equal(t, flat[(nchan-1)*nsamp], m.At(nchan-1, 0))

			d, err := ReshapeDigital(lines, nchan, nsamp)
			if err != nil {
				t.Fatalf("ReshapeDigital(%d, %d): %v", nchan, nsamp, err)
			}
			rows, cols := d.Dims()
			assert.Equal(t, nchan, rows)
			assert.Equal(t, nsamp, cols)
			assert.Equal(t, lines, FlattenDigital(d))
			assert.Equal(t, lines[nsamp*(nchan-1):], d.Row(nchan-1))
		}
	}
}

func TestDigitalMatrixAt(t *testing.T) {
	d, err := ReshapeDigital([]uint32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.NoError(t, err)
	assert.Equal(t, uint32(6), d.At(1, 2))
	assert.Equal(t, uint32(4), d.At(1, 0))
	assert.Panics(t, func() { d.At(2, 0) })

	frame := &AcquisitionFrame{MasterDigital: d}
	assert.Equal(t, d, frame.Digital(MasterDigital))
	assert.Nil(t, frame.Digital(SlaveDigital))
	assert.Nil(t, frame.Digital(MasterAnalog))
	assert.Nil(t, frame.Analog(MasterAnalog))
}
