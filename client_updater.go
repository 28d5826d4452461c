package daqsync

// Contain the ClientUpdater object, which publishes JSON-encoded messages
// giving the latest acquisition state.

import (
	"encoding/json"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
	"gonum.org/v1/gonum/stat"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state any
}

// ClientUpdater publishes tagged JSON messages (STATUS, SUMMARY, ERROR) on
// a ZMQ PUB socket for status clients.
type ClientUpdater struct {
	socket          *zmq.Socket
	messages        chan ClientUpdate
	done            chan struct{}
	summaryInterval time.Duration
	lastSummary     time.Time
}

// NewClientUpdater binds a PUB socket to the given port. Frame summaries go
// out at most once per summaryInterval.
func NewClientUpdater(port int, summaryInterval time.Duration) (*ClientUpdater, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	hostname := fmt.Sprintf("tcp://*:%d", port)
	if err := socket.Bind(hostname); err != nil {
		socket.Close()
		return nil, fmt.Errorf("could not bind client updater to %s: %w", hostname, err)
	}
	socket.SetLinger(100 * time.Millisecond)
	cu := &ClientUpdater{
		socket:          socket,
		messages:        make(chan ClientUpdate, 100),
		done:            make(chan struct{}),
		summaryInterval: summaryInterval,
	}
	go cu.run()
	return cu, nil
}

// Publish queues a message for the status port. It never blocks: when the
// queue is full the message is dropped and the drop logged.
func (cu *ClientUpdater) Publish(tag string, state any) {
	select {
	case cu.messages <- ClientUpdate{tag, state}:
	default:
		ProblemLogger.Printf("client update queue full; dropped a %s message", tag)
	}
}

// Close publishes what is queued and closes the socket.
func (cu *ClientUpdater) Close() error {
	close(cu.messages)
	<-cu.done
	return cu.socket.Close()
}

func (cu *ClientUpdater) run() {
	defer close(cu.done)
	for update := range cu.messages {
		message, err := json.Marshal(update.state)
		if err != nil {
			ProblemLogger.Printf("could not marshal a %s message: %v", update.tag, err)
			continue
		}
		if update.tag != "SUMMARY" {
			UpdateLogger.Printf("%-7s %s", update.tag, message)
		}
		if _, err := cu.socket.SendMessage(update.tag, message); err != nil {
			ProblemLogger.Printf("client updater: %v", err)
		}
	}
}

// Write makes ClientUpdater a Sink: it publishes a SUMMARY of the frame when
// summaryInterval has passed since the last one.
func (cu *ClientUpdater) Write(frame *AcquisitionFrame) error {
	if time.Since(cu.lastSummary) < cu.summaryInterval {
		return nil
	}
	cu.lastSummary = time.Now()
	cu.Publish("SUMMARY", SummarizeFrame(frame))
	return nil
}

// SummarySink returns a Sink publishing frame summaries whose Close leaves
// the updater open, so that final STATUS messages can still go out.
func (cu *ClientUpdater) SummarySink() Sink {
	return FuncSink(cu.Write)
}

// ChannelSummary gives the mean and standard deviation of one channel over
// one frame. For digital lines the mean is the fraction of samples high.
type ChannelSummary struct {
	Role    string
	Channel int
	Mean    float64
	Std     float64
}

// FrameSummary describes one frame for status clients.
type FrameSummary struct {
	Sequence   uint64
	BufferSize int
	UnixNano   int64
	Channels   []ChannelSummary
}

// SummarizeFrame computes per-channel statistics of every matrix in the frame.
func SummarizeFrame(frame *AcquisitionFrame) FrameSummary {
	s := FrameSummary{
		Sequence:   frame.SequenceNumber,
		BufferSize: frame.BufferSize,
		UnixNano:   frame.Timestamp.UnixNano(),
	}
	for _, r := range AllRoles {
		if m := frame.Analog(r); m != nil {
			rows, _ := m.Dims()
			for i := 0; i < rows; i++ {
				mean, std := meanStd(m.RawRowView(i))
				s.Channels = append(s.Channels, ChannelSummary{r.String(), i, mean, std})
			}
		} else if d := frame.Digital(r); d != nil {
			row := make([]float64, d.Cols)
			for i := 0; i < d.Rows; i++ {
				for j, v := range d.Row(i) {
					row[j] = float64(v)
				}
				mean, std := meanStd(row)
				s.Channels = append(s.Channels, ChannelSummary{r.String(), i, mean, std})
			}
		}
	}
	return s
}

// meanStd is stat.MeanStdDev, but with a zero deviation for fewer than 2
// samples, where the unbiased estimate is NaN and cannot be sent as JSON.
func meanStd(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}
