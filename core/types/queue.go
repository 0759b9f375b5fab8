package types

import (
	"context"
	"time"
)

// SignalQueue delivers signals to the Deliberation Agent in FIFO order.
// Enqueue never blocks: when the buffer is full the signal is dropped and the
// caller told so.
type SignalQueue struct {
	ch chan Signal
}

// NewSignalQueue builds a queue with the given buffer capacity.
func NewSignalQueue(capacity int) *SignalQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &SignalQueue{ch: make(chan Signal, capacity)}
}

// Enqueue offers a signal without blocking. Returns false when the buffer is
// full and the signal was dropped.
func (q *SignalQueue) Enqueue(s Signal) bool {
	select {
	case q.ch <- s:
		return true
	default:
		return false
	}
}

// Dequeue waits up to wait for the next signal, or until ctx is done.
func (q *SignalQueue) Dequeue(ctx context.Context, wait time.Duration) (Signal, bool) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case s := <-q.ch:
		return s, true
	case <-t.C:
		return Signal{}, false
	case <-ctx.Done():
		return Signal{}, false
	}
}

// Len reports how many signals are pending.
func (q *SignalQueue) Len() int {
	return len(q.ch)
}

// CommandQueue carries directives from Deliberation to Execution, FIFO.
type CommandQueue struct {
	ch chan Command
}

// NewCommandQueue builds a queue with the given buffer capacity.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &CommandQueue{ch: make(chan Command, capacity)}
}

// Enqueue offers a command without blocking. Returns false when the buffer
// is full.
func (q *CommandQueue) Enqueue(c Command) bool {
	select {
	case q.ch <- c:
		return true
	default:
		return false
	}
}

// Dequeue waits up to wait for the next command, or until ctx is done.
func (q *CommandQueue) Dequeue(ctx context.Context, wait time.Duration) (Command, bool) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case c := <-q.ch:
		return c, true
	case <-t.C:
		return Command{}, false
	case <-ctx.Done():
		return Command{}, false
	}
}

// Len reports how many commands are pending.
func (q *CommandQueue) Len() int {
	return len(q.ch)
}
