package npyappend_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/usnistgov/daqsync/npyappend"
)

func TestDescr(t *testing.T) {
	assert.Equal(t, "<f8", npyappend.Descr[float64]())
	assert.Equal(t, "<f4", npyappend.Descr[float32]())
	assert.Equal(t, "<u4", npyappend.Descr[uint32]())
	assert.Equal(t, "<i2", npyappend.Descr[int16]())
	assert.Equal(t, "|u1", npyappend.Descr[uint8]())
}

func TestAppenderFloat64(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test_float64.npy")
	appender, err := npyappend.NewAppender[float64](filename, 2, 3)
	if err != nil {
		t.Fatalf("Failed to create Appender: %v", err)
	}
	var all []float64
	for i := 0; i < 4; i++ {
		record := make([]float64, 6)
		for j := range record {
			record[j] = float64(10*i+j) + 0.5
		}
		all = append(all, record...)
		if err := appender.Append(record); err != nil {
			t.Fatalf("Failed to append data: %v", err)
		}
	}
	assert.Error(t, appender.Append(make([]float64, 5)), "record of the wrong size")
	assert.Equal(t, 4, appender.Count())
	if err := appender.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	info, err := os.Stat(filename)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), (info.Size()-4*6*8)%64, "header is not 64-byte aligned")

	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := npyio.NewReader(f)
	if err != nil {
		t.Fatalf("npyio.NewReader error: %v", err)
	}
	assert.Equal(t, "<f8", r.Header.Descr.Type)
	assert.Equal(t, []int{4, 2, 3}, r.Header.Descr.Shape)
	assert.False(t, r.Header.Descr.Fortran)
	var data []float64
	if err := r.Read(&data); err != nil {
		t.Fatalf("npyio Read error: %v", err)
	}
	assert.Equal(t, all, data)
}

func TestAppenderUint32Refresh(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test_uint32.npy")
	appender, err := npyappend.NewAppender[uint32](filename, 8)
	if err != nil {
		t.Fatalf("Failed to create Appender: %v", err)
	}
	defer appender.Close()
	assert.Equal(t, filename, appender.Filename())
	for i := 0; i < 3; i++ {
		assert.NoError(t, appender.Append([]uint32{0, 1, 0, 1, 1, 1, 0, uint32(i)}))
	}
	if err := appender.RefreshHeader(); err != nil {
		t.Fatalf("RefreshHeader() error: %v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := npyio.NewReader(f)
	if err != nil {
		t.Fatalf("npyio.NewReader error: %v", err)
	}
	assert.Equal(t, "<u4", r.Header.Descr.Type)
	assert.Equal(t, []int{3, 8}, r.Header.Descr.Shape)
	var data []uint32
	assert.NoError(t, r.Read(&data))
	assert.Equal(t, uint32(2), data[23])
}

func TestBadShape(t *testing.T) {
	_, err := npyappend.NewAppender[float64](filepath.Join(t.TempDir(), "bad.npy"), 3, 0)
	assert.Error(t, err)
}
