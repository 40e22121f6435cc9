package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity bounds per-job buffering when the caller does not override it.
const DefaultCapacity = 64

// ErrClosed signals a publish against, or a fully drained read from, a closed
// channel.
var ErrClosed = errors.New("progress channel closed")

// Channel is a bounded event queue for one job. Exactly one worker goroutine
// publishes; readers obtained via Subscribe consume independently. Publish
// blocks once a reader is capacity events behind, or, with no readers
// attached, once the holding buffer fills. Events are never dropped or
// reordered.
type Channel struct {
	capacity int

	mu      sync.Mutex
	readers map[*Reader]struct{}
	backlog []Event // events published while no reader was attached
	seq     uint64
	closed  bool

	space chan struct{} // wakes a blocked producer after the backlog drains
	done  chan struct{} // closed exactly once by Close
}

// NewChannel constructs a Channel. A capacity <= 0 selects DefaultCapacity.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		capacity: capacity,
		readers:  make(map[*Reader]struct{}),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Publish stamps the next sequence number on evt and appends it to the
// stream. It blocks for backpressure rather than dropping, and returns
// ErrClosed after Close or the ctx error if the caller gives up waiting.
func (c *Channel) Publish(ctx context.Context, evt Event) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if len(c.readers) > 0 {
			evt.Seq = c.seq
			c.seq++
			targets := make([]*Reader, 0, len(c.readers))
			for r := range c.readers {
				targets = append(targets, r)
			}
			c.mu.Unlock()
			return c.deliver(ctx, targets, evt)
		}
		if len(c.backlog) < c.capacity {
			evt.Seq = c.seq
			c.seq++
			c.backlog = append(c.backlog, evt)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		select {
		case <-c.space:
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("publish wait: %w", ctx.Err())
		}
	}
}

// deliver hands evt to every attached reader, blocking per reader when its
// buffer is full. A reader that detaches mid-wait is skipped immediately.
func (c *Channel) deliver(ctx context.Context, targets []*Reader, evt Event) error {
	for _, r := range targets {
		select {
		case r.ch <- evt:
		case <-r.detached:
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("publish deliver: %w", ctx.Err())
		}
	}
	return nil
}

// Close marks end-of-stream. It is idempotent; blocked producers and readers
// wake so they observe ErrClosed instead of hanging. Events already buffered
// for a reader remain drainable by that reader.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe attaches a new reader observing events from this point onward.
// Events still sitting in the holding buffer (published while no reader was
// attached) are handed to the new reader so they are not lost. Subscribing to
// a closed channel yields a reader that ends as soon as that handoff drains.
func (c *Channel) Subscribe() *Reader {
	r := &Reader{
		c:        c,
		ch:       make(chan Event, c.capacity),
		detached: make(chan struct{}),
	}
	c.mu.Lock()
	// The backlog never exceeds capacity, so these sends cannot block.
	for _, evt := range c.backlog {
		r.ch <- evt
	}
	freed := len(c.backlog) > 0
	c.backlog = nil
	if !c.closed {
		c.readers[r] = struct{}{}
	}
	c.mu.Unlock()
	if freed {
		select {
		case c.space <- struct{}{}:
		default:
		}
	}
	return r
}

// Reader is one subscriber's private view of a Channel.
type Reader struct {
	c        *Channel
	ch       chan Event
	detached chan struct{}
	once     sync.Once
}

// Next blocks until an event arrives, the stream ends, or ctx is canceled.
// After the channel closes it keeps returning buffered events until drained,
// then reports ErrClosed.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	// Drain buffered events before consulting the close signal so nothing
	// published ahead of Close is lost.
	select {
	case evt := <-r.ch:
		return evt, nil
	default:
	}
	select {
	case evt := <-r.ch:
		return evt, nil
	case <-ctx.Done():
		return Event{}, fmt.Errorf("next wait: %w", ctx.Err())
	case <-r.c.done:
		select {
		case evt := <-r.ch:
			return evt, nil
		default:
			return Event{}, ErrClosed
		}
	}
}

// Cancel detaches the reader so the producer stops accounting for it. Pending
// buffered events are discarded. Idempotent.
func (r *Reader) Cancel() {
	r.c.mu.Lock()
	delete(r.c.readers, r)
	r.c.mu.Unlock()
	r.once.Do(func() { close(r.detached) })
}
