// Package npyappend writes NumPy .npy files one record at a time. Records
// are all the same shape; the file's leading dimension counts them, and the
// header is rewritten in place with the final count when the file closes.
package npyappend

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/usnistgov/daqsync/asyncbufio"
	"github.com/usnistgov/daqsync/getbytes"
)

const (
	magic         = "\x93NUMPY"
	headerAlign   = 64
	maxCountWidth = 20 // digits of the largest record count
)

// Appender appends records of a fixed shape to a .npy file.
type Appender[T getbytes.Number] struct {
	filename   string
	file       *os.File
	writer     *asyncbufio.Writer
	itemShape  []int
	itemLen    int
	headerSize int
	count      int
}

// NewAppender creates filename and prepares it to receive records of the
// given shape, e.g. (channels, samples). Data are written through an
// asynchronous buffered writer.
func NewAppender[T getbytes.Number](filename string, itemShape ...int) (*Appender[T], error) {
	itemLen := 1
	for _, n := range itemShape {
		if n < 1 {
			return nil, fmt.Errorf("npyappend: record shape %v has a non-positive dimension", itemShape)
		}
		itemLen *= n
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	a := &Appender[T]{
		filename:  filename,
		file:      file,
		itemShape: append([]int(nil), itemShape...),
		itemLen:   itemLen,
	}
	a.headerSize = len(a.header(strings.Repeat("9", maxCountWidth), 0))
	if _, err := file.Write([]byte(a.header("0", a.headerSize))); err != nil {
		file.Close()
		return nil, err
	}
	a.writer = asyncbufio.NewWriter(file, 1024, time.Second)
	return a, nil
}

// Descr returns the NumPy type descriptor of T, such as "<f8".
func Descr[T getbytes.Number]() string {
	var zero T
	var kind string
	switch any(zero).(type) {
	case float32, float64:
		kind = "f"
	case int8, int16, int32, int64:
		kind = "i"
	default:
		kind = "u"
	}
	size := len(getbytes.From(zero))
	if size == 1 {
		return fmt.Sprintf("|%s1", kind)
	}
	order := "<"
	if binary.NativeEndian.Uint16([]byte{1, 0}) != 1 {
		order = ">"
	}
	return fmt.Sprintf("%s%s%d", order, kind, size)
}

// header returns the .npy preamble for count records. With size > 0 the
// dictionary is padded so the whole preamble is exactly size bytes;
// otherwise it is padded to the next multiple of 64.
func (a *Appender[T]) header(count string, size int) string {
	dims := append([]string{count}, intStrings(a.itemShape)...)
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", Descr[T](), shape)
	pre := len(magic) + 2 + 2 // magic, version, header length
	if size <= 0 {
		size = (pre + len(dict) + 1 + headerAlign - 1) / headerAlign * headerAlign
	}
	padded := dict + strings.Repeat(" ", size-pre-len(dict)-1) + "\n"
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(padded)))
	return magic + "\x01\x00" + string(hlen[:]) + padded
}

func intStrings(x []int) []string {
	s := make([]string, len(x))
	for i, v := range x {
		s[i] = fmt.Sprint(v)
	}
	return s
}

// Append writes one record. The data must hold exactly one record's worth
// of values in row-major order and must not be modified afterwards.
func (a *Appender[T]) Append(data []T) error {
	if len(data) != a.itemLen {
		return fmt.Errorf("npyappend: record has %d values, want %d for shape %v",
			len(data), a.itemLen, a.itemShape)
	}
	if _, err := a.writer.Write(getbytes.FromSlice(data)); err != nil {
		return err
	}
	a.count++
	return nil
}

// Count returns the number of records appended.
func (a *Appender[T]) Count() int {
	return a.count
}

// Filename returns the path of the file being written.
func (a *Appender[T]) Filename() string {
	return a.filename
}

// RefreshHeader flushes pending records and rewrites the header so the file
// is a valid .npy file of the records written so far.
func (a *Appender[T]) RefreshHeader() error {
	if err := a.writer.Flush(); err != nil {
		return err
	}
	return a.writeHeader()
}

func (a *Appender[T]) writeHeader() error {
	_, err := a.file.WriteAt([]byte(a.header(fmt.Sprint(a.count), a.headerSize)), 0)
	return err
}

// Close flushes all records, writes the final header and closes the file.
func (a *Appender[T]) Close() error {
	err := a.writer.Close()
	if err2 := a.writeHeader(); err == nil {
		err = err2
	}
	if err2 := a.file.Close(); err == nil {
		err = err2
	}
	return err
}
