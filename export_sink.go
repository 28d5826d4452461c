package daqsync

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/usnistgov/daqsync/asyncbufio"
	"github.com/usnistgov/daqsync/npyappend"
)

// makeDirectory creates directory of the form basepath/20060102/0000 where
// the 4-digit subdirectory counts separate acquisition runs.
// It also returns the formatting code for use in an Sprintf call
// basepath/20060102/0000/20060102_run0000_%s.%s and an error, if any.
func makeDirectory(basepath string) (string, error) {
	if len(basepath) == 0 {
		return "", fmt.Errorf("BasePath is the empty string")
	}
	today := time.Now().Format("20060102")
	todayDir := fmt.Sprintf("%s/%s", basepath, today)
	if err := os.MkdirAll(todayDir, 0755); err != nil {
		return "", err
	}
	for i := 0; i < 10000; i++ {
		thisDir := fmt.Sprintf("%s/%4.4d", todayDir, i)
		// Mkdir fails if thisDir exists, so two processes cannot share a run.
		err := os.Mkdir(thisDir, 0755)
		if err == nil {
			return fmt.Sprintf("%s/%s_run%4.4d_%%s.%%s", thisDir, today, i), nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("out of 4-digit ID numbers for today in %s", todayDir)
}

// StateLabeler is implemented by sinks that record experiment state labels.
type StateLabeler interface {
	SetStateLabel(timestamp time.Time, label string) error
}

// SetStateLabel forwards the label to every sink that records labels.
func (m MultiSink) SetStateLabel(timestamp time.Time, label string) error {
	var errs []error
	for _, s := range m {
		if sl, ok := s.(StateLabeler); ok {
			if err := sl.SetStateLabel(timestamp, label); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ExportSink writes every frame to one appendable .npy file per role, with
// shape (frames, channels, samples), in a new dated run directory. A text
// file alongside logs the state labels with their unix-nanosecond times.
type ExportSink struct {
	FilenamePattern string
	StateFilename   string
	analog          map[Role]*npyappend.Appender[float64]
	digital         map[Role]*npyappend.Appender[uint32]
	shapes          map[Role][2]int // channels, samples
	stateFile       *os.File
	stateWriter     *asyncbufio.Writer
	closed          bool
	sync.Mutex
}

// NewExportSink creates the run directory under basepath and one output file
// per task of g, then records the START label.
func NewExportSink(basepath string, g *TaskGraph) (*ExportSink, error) {
	pattern, err := makeDirectory(basepath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSink, err)
	}
	s := &ExportSink{
		FilenamePattern: pattern,
		StateFilename:   fmt.Sprintf(pattern, "state", "txt"),
		analog:          make(map[Role]*npyappend.Appender[float64]),
		digital:         make(map[Role]*npyappend.Appender[uint32]),
		shapes:          make(map[Role][2]int),
	}
	if err := s.open(g); err != nil {
		s.closeFiles()
		return nil, sinkError(err)
	}
	return s, nil
}

func (s *ExportSink) open(g *TaskGraph) error {
	for _, r := range g.Roles() {
		filename := s.Filename(r)
		nchan, nsamp := g.ChannelCount(r), g.BufferSize()
		s.shapes[r] = [2]int{nchan, nsamp}
		if r.IsAnalog() {
			a, err := npyappend.NewAppender[float64](filename, nchan, nsamp)
			if err != nil {
				return err
			}
			s.analog[r] = a
		} else {
			a, err := npyappend.NewAppender[uint32](filename, nchan, nsamp)
			if err != nil {
				return err
			}
			s.digital[r] = a
		}
	}
	var err error
	if s.stateFile, err = os.Create(s.StateFilename); err != nil {
		return err
	}
	s.stateWriter = asyncbufio.NewWriter(s.stateFile, 100, time.Second)
	if _, err := s.stateWriter.WriteString("# unix time in nanoseconds, state label\n"); err != nil {
		return err
	}
	return s.setStateLabel(time.Now(), "START")
}

// Filename returns the path of the .npy file holding role r.
func (s *ExportSink) Filename(r Role) string {
	return fmt.Sprintf(s.FilenamePattern, strings.ToLower(r.String()), "npy")
}

// Write appends the frame's matrices to their files. Every matrix is checked
// before any is written, so the files stay aligned frame for frame. If a file
// write fails after others succeeded, the state file records a PARTIAL label.
func (s *ExportSink) Write(frame *AcquisitionFrame) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return fmt.Errorf("%w: write to a closed ExportSink", ErrSink)
	}
	analog := make(map[Role][]float64, len(s.analog))
	digital := make(map[Role][]uint32, len(s.digital))
	for _, r := range AllRoles {
		shape, ok := s.shapes[r]
		if !ok {
			continue
		}
		var rows, cols int
		if r.IsAnalog() {
			m := frame.Analog(r)
			if m == nil {
				return fmt.Errorf("%w: frame %d has no %s data", ErrSink, frame.SequenceNumber, r)
			}
			rows, cols = m.Dims()
			analog[r] = FlattenAnalog(m)
		} else {
			d := frame.Digital(r)
			if d == nil {
				return fmt.Errorf("%w: frame %d has no %s data", ErrSink, frame.SequenceNumber, r)
			}
			rows, cols = d.Dims()
			digital[r] = d.Data[:d.Rows*d.Cols]
		}
		if rows != shape[0] || cols != shape[1] {
			return fmt.Errorf("%w: frame %d %s is %d x %d, want %d x %d", ErrSink,
				frame.SequenceNumber, r, rows, cols, shape[0], shape[1])
		}
	}

	written := 0
	for _, r := range AllRoles {
		var err error
		if data, ok := analog[r]; ok {
			err = s.analog[r].Append(data)
		} else if data, ok := digital[r]; ok {
			err = s.digital[r].Append(data)
		} else {
			continue
		}
		if err != nil {
			if written > 0 {
				label := fmt.Sprintf("PARTIAL frame %d", frame.SequenceNumber)
				if err2 := s.setStateLabel(time.Now(), label); err2 != nil {
					err = errors.Join(err, err2)
				}
			}
			return sinkError(err)
		}
		written++
	}
	return nil
}

// SetStateLabel records a state label, such as START, STOP or ERROR.
func (s *ExportSink) SetStateLabel(timestamp time.Time, label string) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return fmt.Errorf("%w: cannot set state label on a closed ExportSink", ErrSink)
	}
	return sinkError(s.setStateLabel(timestamp, label))
}

func (s *ExportSink) setStateLabel(timestamp time.Time, label string) error {
	_, err := s.stateWriter.WriteString(fmt.Sprintf("%v, %v\n", timestamp.UnixNano(), label))
	return err
}

// Close records the STOP label, finishes the .npy headers and closes every file.
func (s *ExportSink) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil
	}
	err := s.setStateLabel(time.Now(), "STOP")
	return sinkError(errors.Join(err, s.closeFiles()))
}

func (s *ExportSink) closeFiles() error {
	s.closed = true
	var errs []error
	for _, a := range s.analog {
		errs = append(errs, a.Close())
	}
	for _, a := range s.digital {
		errs = append(errs, a.Close())
	}
	if s.stateWriter != nil {
		errs = append(errs, s.stateWriter.Close())
	}
	if s.stateFile != nil {
		errs = append(errs, s.stateFile.Close())
	}
	return errors.Join(errs...)
}
