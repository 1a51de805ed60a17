// Package framequeue implements the bounded single-producer... actually
// multi-producer/single-consumer handoff between the transport's three
// acceptor goroutines and the presenter (spec.md §4.4). Enqueue never
// blocks: on a full queue the newest frame is dropped and a counter hook
// fires, matching the reference drop-newest policy.
package framequeue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/thundermirror/receiver/internal/wire"
)

// DefaultCapacity is about one second of frames at 60fps.
const DefaultCapacity = 60

// ErrClosed is returned by Enqueue once Close has been called; acceptors
// treat it as a graceful-shutdown signal rather than an error to log.
var ErrClosed = errors.New("framequeue: closed")

// OnDrop is invoked (if non-nil) whenever Enqueue drops a frame because the
// queue was full. It is called synchronously from the producer goroutine,
// so it must not block.
type OnDrop func(*wire.Frame)

// Queue is the bounded MPSC handoff described in spec.md §4.4. Three
// producers (the bidirectional, unidirectional, and datagram acceptors of
// one connection) call Enqueue concurrently; exactly one consumer (the
// presenter) calls DrainAll.
type Queue struct {
	mu     sync.Mutex
	ch     chan *wire.Frame
	onDrop OnDrop
	closed atomic.Bool
}

// New constructs a Queue with the given capacity (DefaultCapacity if <= 0)
// and an optional drop hook.
func New(capacity int, onDrop OnDrop) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *wire.Frame, capacity), onDrop: onDrop}
}

// Enqueue offers fr to the queue. It never blocks: if the queue is full
// the frame is dropped (drop-newest) and false is returned; if the queue
// is closed, ErrClosed is returned. Successful enqueue returns true, nil.
func (q *Queue) Enqueue(fr *wire.Frame) (bool, error) {
	// Fast-path check so steady-state sends avoid the lock once shut down.
	if q.closed.Load() {
		return false, ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return false, ErrClosed
	}
	select {
	case q.ch <- fr:
		return true, nil
	default:
		if q.onDrop != nil {
			q.onDrop(fr)
		}
		return false, nil
	}
}

// DrainAll non-blockingly pulls every frame currently ready, in arrival
// order, for the presenter's single consumer loop. It returns immediately
// (possibly with zero frames) rather than waiting for one to arrive.
func (q *Queue) DrainAll() []*wire.Frame {
	var out []*wire.Frame
	for {
		select {
		case fr, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, fr)
		default:
			return out
		}
	}
}

// Close closes the queue; subsequent Enqueue calls return ErrClosed and a
// DrainAll in progress observes channel closure. Idempotent. The
// channel is closed under the same lock Enqueue holds across its
// closed-check-and-send, so no in-flight Enqueue can race a close and
// panic on a send to a closed channel.
func (q *Queue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
}
