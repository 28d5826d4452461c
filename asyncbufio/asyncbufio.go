// Package asyncbufio provides a buffered writer whose writes to the
// underlying io.Writer happen on a separate goroutine, so that a caller on a
// latency-sensitive path only pays for a channel send.
package asyncbufio

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by writes to a closed Writer.
var ErrClosed = errors.New("asyncbufio: write to closed Writer")

// Writer provides asynchronous writing to an underlying io.Writer using a buffered channel.
// Write does not copy p: the caller must not modify p after writing it.
// Write, Flush and Close are meant for one goroutine; Close must not race a Write.
type Writer struct {
	writer        *bufio.Writer // Buffered writer: this does the writing
	datachannel   chan []byte   // Data waiting to be written
	flushNow      chan chan error
	flushInterval time.Duration
	done          chan struct{} // closed when writeLoop exits

	err    error // first error from the underlying writer, guarded by mu
	closed bool
	mu     sync.Mutex
}

// NewWriter creates a new Writer holding up to channelDepth pending writes
// and flushing at least every flushInterval.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan chan error),
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	go aw.writeLoop()
	return aw
}

// Write queues p for writing. It blocks only when channelDepth writes are
// already pending. An error from an earlier write to the underlying writer
// is returned here.
func (aw *Writer) Write(p []byte) (int, error) {
	aw.mu.Lock()
	closed, err := aw.closed, aw.err
	aw.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if err != nil {
		return 0, err
	}
	aw.datachannel <- p
	return len(p), nil
}

// WriteString queues s for writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Flush writes all pending data to the underlying writer, blocking until done.
func (aw *Writer) Flush() error {
	aw.mu.Lock()
	closed := aw.closed
	aw.mu.Unlock()
	if closed {
		return ErrClosed
	}
	reply := make(chan error)
	select {
	case aw.flushNow <- reply:
		return <-reply
	case <-aw.done:
		return ErrClosed
	}
}

// Err returns the first error from the underlying writer, if any.
func (aw *Writer) Err() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.err
}

// Close flushes all pending data and stops the write goroutine. It does not
// close the underlying writer. Closing twice returns ErrClosed.
func (aw *Writer) Close() error {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return ErrClosed
	}
	aw.closed = true
	aw.mu.Unlock()

	close(aw.datachannel)
	<-aw.done
	return aw.Err()
}

func (aw *Writer) setErr(err error) {
	if err == nil {
		return
	}
	aw.mu.Lock()
	if aw.err == nil {
		aw.err = err
	}
	aw.mu.Unlock()
}

// writeLoop moves data from the channel to the writer until the channel is closed.
func (aw *Writer) writeLoop() {
	defer close(aw.done)
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-aw.datachannel:
			if !ok {
				aw.setErr(aw.writer.Flush())
				return
			}
			_, err := aw.writer.Write(data)
			aw.setErr(err)

		case reply := <-aw.flushNow:
			aw.flush()
			reply <- aw.Err()

		case <-ticker.C:
			aw.flush()
		}
	}
}

// flush empties the data channel, then flushes the underlying writer.
func (aw *Writer) flush() {
	for {
		select {
		case data, ok := <-aw.datachannel:
			if !ok {
				aw.setErr(aw.writer.Flush())
				return
			}
			_, err := aw.writer.Write(data)
			aw.setErr(err)
		default:
			aw.setErr(aw.writer.Flush())
			return
		}
	}
}
