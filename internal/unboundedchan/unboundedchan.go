// Package unboundedchan provides a FIFO queue with channel ends and no
// capacity limit, so a producer on a timing-critical path never blocks on a
// slow consumer.
package unboundedchan

import "sync/atomic"

// UnboundedChannel represents an unbounded queue, but data are entered and removed via channels.
// Use pointers for large objects.
type UnboundedChannel[T any] struct {
	in      chan T
	out     chan T
	pending atomic.Int64
}

// NewUnboundedChannel creates an UnboundedChannel and starts its goroutine.
// Closing In() drains the queue to Out(), then closes Out().
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	defer close(uc.out)
	var queue []T
	var zero T
	in := uc.in
	for in != nil || len(queue) > 0 {
		// A nil channel blocks forever, which disables that select case.
		var out chan T
		var next T
		if len(queue) > 0 {
			out = uc.out
			next = queue[0]
		}
		select {
		case val, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, val)
			uc.pending.Add(1)
		case out <- next:
			queue[0] = zero
			queue = queue[1:]
			uc.pending.Add(-1)
		}
	}
}

// In returns the input channel for sending data
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel for receiving data
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Len returns the number of items queued and not yet received.
func (uc *UnboundedChannel[T]) Len() int {
	return int(uc.pending.Load())
}
