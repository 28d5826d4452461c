package daqsync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
)

func TestMakeDirectory(t *testing.T) {
	base := t.TempDir()
	pattern1, err := makeDirectory(base)
	assert.NoError(t, err)
	pattern2, err := makeDirectory(base)
	assert.NoError(t, err)
	assert.NotEqual(t, pattern1, pattern2, "each run gets its own directory")
	today := time.Now().Format("20060102")
	assert.True(t, strings.HasPrefix(pattern1, filepath.Join(base, today, "0000")))
	assert.True(t, strings.HasSuffix(pattern2, today+"_run0001_%s.%s"))

	_, err = makeDirectory("")
	assert.Error(t, err)
}

func readNpy[T float64 | uint32](t *testing.T, filename string) ([]int, []T) {
	t.Helper()
	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, err := npyio.NewReader(f)
	if err != nil {
		t.Fatalf("npyio.NewReader(%s): %v", filename, err)
	}
	var data []T
	if err := r.Read(&data); err != nil {
		t.Fatalf("reading %s: %v", filename, err)
	}
	return r.Header.Descr.Shape, data
}

func TestExportSink(t *testing.T) {
	g, _ := newScriptedGraph(t, MasterAnalog, MasterDigital)
	assert.NoError(t, g.Startup())
	defer g.Shutdown()

	sink := new(MemorySink)
	disp := NewBufferDispatcher(g, sink, false)
	for i := 0; i < 2; i++ {
		_, err := disp.Dispatch(10)
		assert.NoError(t, err)
	}

	es, err := NewExportSink(t.TempDir(), g)
	if err != nil {
		t.Fatalf("NewExportSink: %v", err)
	}
	for _, f := range sink.Frames() {
		assert.NoError(t, es.Write(f))
	}
	assert.NoError(t, es.SetStateLabel(time.Now(), "CALIBRATION"))
	assert.NoError(t, es.Close())
	assert.NoError(t, es.Close(), "second Close is a no-op")
	assert.ErrorIs(t, es.Write(sink.Frames()[0]), ErrSink)

	shape, analog := readNpy[float64](t, es.Filename(MasterAnalog))
	assert.Equal(t, []int{2, 2, 10}, shape)
	assert.Len(t, analog, 40)
	assert.Equal(t, 13.0, analog[13])
	assert.Equal(t, 13.0, analog[20+13], "the second frame follows the first")

	shape, digital := readNpy[uint32](t, es.Filename(MasterDigital))
	assert.Equal(t, []int{2, 4, 10}, shape)
	assert.Equal(t, uint32(1), digital[1])

	_, err = os.Stat(es.Filename(SlaveAnalog))
	assert.True(t, os.IsNotExist(err), "no file for an absent role")

	labels, err := os.ReadFile(es.StateFilename)
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(labels)), "\n")
	if assert.Len(t, lines, 4) {
		assert.Equal(t, "# unix time in nanoseconds, state label", lines[0])
		assert.True(t, strings.HasSuffix(lines[1], ", START"))
		assert.True(t, strings.HasSuffix(lines[2], ", CALIBRATION"))
		assert.True(t, strings.HasSuffix(lines[3], ", STOP"))
	}
}

func TestExportSinkKeepsFilesAligned(t *testing.T) {
	g, _ := newScriptedGraph(t, MasterAnalog, SlaveAnalog)
	defer g.Shutdown()
	es, err := NewExportSink(t.TempDir(), g)
	if err != nil {
		t.Fatal(err)
	}
	defer es.Close()
	ma, _ := ReshapeAnalog(make([]float64, 20), 2, 10)

	// SlaveAnalog comes after MasterAnalog, yet nothing may be written.
	err = es.Write(&AcquisitionFrame{BufferSize: 10, MasterAnalog: ma})
	assert.ErrorIs(t, err, ErrSink)
	wrong, _ := ReshapeAnalog(make([]float64, 20), 2, 10)
	err = es.Write(&AcquisitionFrame{BufferSize: 10, MasterAnalog: ma, SlaveAnalog: wrong})
	assert.ErrorIs(t, err, ErrSink, "SlaveAnalog has 3 channels, not 2")
	assert.Equal(t, 0, es.analog[MasterAnalog].Count())
	assert.Equal(t, 0, es.analog[SlaveAnalog].Count())

	sa, _ := ReshapeAnalog(make([]float64, 30), 3, 10)
	assert.NoError(t, es.Write(&AcquisitionFrame{BufferSize: 10, MasterAnalog: ma, SlaveAnalog: sa}))
	assert.Equal(t, 1, es.analog[MasterAnalog].Count())
	assert.Equal(t, 1, es.analog[SlaveAnalog].Count())
}
