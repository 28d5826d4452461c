package daqsync

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// DigitalMatrix is a channel-major matrix of digital line samples: row i
// holds the Cols samples of line i.
type DigitalMatrix struct {
	Rows int
	Cols int
	Data []uint32
}

// Dims returns the number of rows (lines) and columns (samples).
func (m *DigitalMatrix) Dims() (int, int) {
	return m.Rows, m.Cols
}

// At returns sample j of line i.
func (m *DigitalMatrix) At(i, j int) uint32 {
	if i < 0 || i >= m.Rows || j < 0 || j >= m.Cols {
		panic(fmt.Sprintf("DigitalMatrix.At(%d, %d) outside %dx%d", i, j, m.Rows, m.Cols))
	}
	return m.Data[i*m.Cols+j]
}

// Row returns a view of the samples of line i.
func (m *DigitalMatrix) Row(i int) []uint32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// AcquisitionFrame holds one buffer of samples from every task, each as a
// [channels, BufferSize] matrix. Matrices of roles absent from the graph
// are nil.
type AcquisitionFrame struct {
	SequenceNumber uint64
	BufferSize     int
	Timestamp      time.Time // when the dispatch of this buffer began

	MasterAnalog  *mat.Dense
	SlaveAnalog   *mat.Dense
	MasterDigital *DigitalMatrix
	SlaveDigital  *DigitalMatrix
}

// Analog returns the analog matrix of role r (nil for digital roles).
func (f *AcquisitionFrame) Analog(r Role) *mat.Dense {
	switch r {
	case MasterAnalog:
		return f.MasterAnalog
	case SlaveAnalog:
		return f.SlaveAnalog
	}
	return nil
}

// Digital returns the digital matrix of role r (nil for analog roles).
func (f *AcquisitionFrame) Digital(r Role) *DigitalMatrix {
	switch r {
	case MasterDigital:
		return f.MasterDigital
	case SlaveDigital:
		return f.SlaveDigital
	}
	return nil
}

func checkShape(n, nchan, nsamp int) error {
	if nchan < 1 || nsamp < 1 {
		return fmt.Errorf("cannot reshape into %d x %d", nchan, nsamp)
	}
	if n != nchan*nsamp {
		return fmt.Errorf("cannot reshape %d samples into %d x %d", n, nchan, nsamp)
	}
	return nil
}

// ReshapeAnalog views a channel-major flat buffer as a [nchan, nsamp]
// matrix. The matrix shares flat's storage.
func ReshapeAnalog(flat []float64, nchan, nsamp int) (*mat.Dense, error) {
	if err := checkShape(len(flat), nchan, nsamp); err != nil {
		return nil, err
	}
	return mat.NewDense(nchan, nsamp, flat), nil
}

// ReshapeDigital views a channel-major flat buffer as a [nchan, nsamp]
// matrix. The matrix shares flat's storage.
func ReshapeDigital(flat []uint32, nchan, nsamp int) (*DigitalMatrix, error) {
	if err := checkShape(len(flat), nchan, nsamp); err != nil {
		return nil, err
	}
	return &DigitalMatrix{Rows: nchan, Cols: nsamp, Data: flat}, nil
}

// FlattenAnalog returns the matrix values in channel-major order.
func FlattenAnalog(m mat.Matrix) []float64 {
	r, c := m.Dims()
	flat := make([]float64, r*c)
	for i := 0; i < r; i++ {
		mat.Row(flat[i*c:(i+1)*c], i, m)
	}
	return flat
}

// FlattenDigital returns a copy of the matrix values in channel-major order.
func FlattenDigital(m *DigitalMatrix) []uint32 {
	return append([]uint32(nil), m.Data[:m.Rows*m.Cols]...)
}
