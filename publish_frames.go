package daqsync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lorenzosaino/go-sysctl"
	zmq "github.com/pebbe/zmq4"
	"github.com/usnistgov/daqsync/getbytes"
	"github.com/usnistgov/daqsync/internal/unboundedchan"
)

// Sample types named in a FrameHeader.
const (
	DtypeFloat64 uint8 = 1
	DtypeUint32  uint8 = 2
)

// frameHeaderVersion is the version of the FrameHeader layout.
const frameHeaderVersion uint8 = 1

// FrameHeader is the fixed little-endian header of each published matrix.
// The message parts are: topic (the role name), header, payload.
type FrameHeader struct {
	Version  uint8
	Dtype    uint8
	_        [2]byte
	Nchan    uint32
	Nsamp    uint32
	Sequence uint64
	UnixNano int64
}

// FramePublisher is a Sink that publishes every matrix of every frame on a
// ZMQ PUB socket. Frames are queued without limit, so Write never waits on
// the network.
type FramePublisher struct {
	socket *zmq.Socket
	queue  *unboundedchan.UnboundedChannel[*AcquisitionFrame]
	done   chan struct{}
	err    error // first send error, read after done is closed
}

// NewFramePublisher binds a PUB socket to the given TCP port on all
// interfaces. frameSize, the payload bytes of one frame (see FrameBytes), is
// checked against the kernel's socket buffer limit when positive.
func NewFramePublisher(port int, frameSize int) (*FramePublisher, error) {
	if frameSize > 0 {
		checkSendBuffer(frameSize)
	}
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	hostname := fmt.Sprintf("tcp://*:%d", port)
	if err := socket.Bind(hostname); err != nil {
		socket.Close()
		return nil, fmt.Errorf("could not bind frame publisher to %s: %w", hostname, err)
	}
	socket.SetLinger(100 * time.Millisecond)
	p := &FramePublisher{
		socket: socket,
		queue:  unboundedchan.NewUnboundedChannel[*AcquisitionFrame](),
		done:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Endpoint returns the address the socket is bound to, such as tcp://0.0.0.0:5500.
func (p *FramePublisher) Endpoint() string {
	endpoint, err := p.socket.GetLastEndpoint()
	if err != nil {
		return ""
	}
	return endpoint
}

// Write queues the frame for publication.
func (p *FramePublisher) Write(frame *AcquisitionFrame) error {
	p.queue.In() <- frame
	if n := p.queue.Len(); n > 0 && n%100 == 0 {
		ProblemLogger.Printf("frame publisher has %d frames queued", n)
	}
	return nil
}

// Close publishes the frames still queued, then closes the socket.
func (p *FramePublisher) Close() error {
	close(p.queue.In())
	<-p.done
	if err := p.socket.Close(); err != nil {
		return err
	}
	return p.err
}

func (p *FramePublisher) run() {
	defer close(p.done)
	for frame := range p.queue.Out() {
		if err := p.publish(frame); err != nil && p.err == nil {
			p.err = err
			ProblemLogger.Printf("frame publisher: %v", err)
		}
	}
}

func (p *FramePublisher) publish(frame *AcquisitionFrame) error {
	messages, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	for _, parts := range messages {
		if _, err := p.socket.SendMessage(parts[0], parts[1], parts[2]); err != nil {
			return err
		}
	}
	return nil
}

// EncodeFrame returns one 3-part message (role, header, payload) per matrix
// of the frame, in read order.
func EncodeFrame(frame *AcquisitionFrame) ([][][]byte, error) {
	var messages [][][]byte
	for _, r := range AllRoles {
		var hdr FrameHeader
		var payload []byte
		if m := frame.Analog(r); m != nil {
			hdr.Dtype = DtypeFloat64
			rows, cols := m.Dims()
			hdr.Nchan, hdr.Nsamp = uint32(rows), uint32(cols)
			raw := m.RawMatrix()
			if raw.Stride == cols {
				payload = getbytes.FromSlice(raw.Data[:rows*cols])
			} else {
				payload = getbytes.FromSlice(FlattenAnalog(m))
			}
		} else if d := frame.Digital(r); d != nil {
			hdr.Dtype = DtypeUint32
			hdr.Nchan, hdr.Nsamp = uint32(d.Rows), uint32(d.Cols)
			payload = getbytes.FromSlice(d.Data[:d.Rows*d.Cols])
		} else {
			continue
		}
		hdr.Version = frameHeaderVersion
		hdr.Sequence = frame.SequenceNumber
		hdr.UnixNano = frame.Timestamp.UnixNano()
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
			return nil, err
		}
		messages = append(messages, [][]byte{[]byte(r.String()), buf.Bytes(), payload})
	}
	return messages, nil
}

// DecodeFrameMessage splits a published message into its role, header and payload.
func DecodeFrameMessage(parts [][]byte) (string, FrameHeader, []byte, error) {
	var hdr FrameHeader
	if len(parts) != 3 {
		return "", hdr, nil, fmt.Errorf("frame message has %d parts, want 3", len(parts))
	}
	if err := binary.Read(bytes.NewReader(parts[1]), binary.LittleEndian, &hdr); err != nil {
		return "", hdr, nil, err
	}
	if hdr.Version != frameHeaderVersion {
		return "", hdr, nil, fmt.Errorf("frame header version %d, want %d", hdr.Version, frameHeaderVersion)
	}
	size := 8
	if hdr.Dtype == DtypeUint32 {
		size = 4
	}
	if want := int(hdr.Nchan) * int(hdr.Nsamp) * size; len(parts[2]) != want {
		return "", hdr, nil, fmt.Errorf("frame payload has %d bytes, want %d", len(parts[2]), want)
	}
	return string(parts[0]), hdr, parts[2], nil
}

// checkSendBuffer warns when the kernel's largest socket send buffer is
// smaller than one published frame. It is silent where sysctl is unavailable.
func checkSendBuffer(frameBytes int) {
	value, err := sysctl.Get("net.core.wmem_max")
	if err != nil {
		return
	}
	wmemMax, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return
	}
	if wmemMax < frameBytes {
		ProblemLogger.Printf("net.core.wmem_max=%d is smaller than one published frame (%d bytes); "+
			"subscribers may see dropped frames", wmemMax, frameBytes)
	}
}

// FrameBytes returns the size of the payload of one frame of graph g.
func FrameBytes(g *TaskGraph) int {
	n := 0
	for _, r := range g.Roles() {
		size := 4
		if r.IsAnalog() {
			size = 8
		}
		n += size * g.ChannelCount(r) * g.BufferSize()
	}
	return n
}
