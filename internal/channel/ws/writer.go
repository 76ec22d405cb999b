package ws

import (
	"context"
	"sync"

	"github.com/omochice/realtime-channel/internal/buffer"
	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/internal/transport"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

// outgoing is an encoded frame waiting for the writer, together with the
// record that goes back to the buffer if it is never written.
type outgoing struct {
	msg     buffer.BufferedMessage
	frame   []byte
	drained bool
}

// writer is the FIFO of frames for one connection. Frames are written by
// writeLoop without holding the channel lock.
type writer struct {
	conn transport.Conn
	kind protocol.FrameKind

	mu      sync.Mutex
	pending []outgoing
	stopped bool
	wake    chan struct{}
}

func newWriter(conn transport.Conn, kind protocol.FrameKind) *writer {
	return &writer{conn: conn, kind: kind, wake: make(chan struct{}, 1)}
}

// enqueue appends items and reports false once the writer has stopped.
func (w *writer) enqueue(items ...outgoing) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.pending = append(w.pending, items...)
	w.signal()
	return true
}

// stop ends the writer and returns the frames it had not started writing.
func (w *writer) stop() []outgoing {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	rest := w.pending
	w.pending = nil
	w.signal()
	return rest
}

// next blocks until a frame is pending or the writer is stopped.
func (w *writer) next() (outgoing, bool) {
	for {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return outgoing{}, false
		}
		if len(w.pending) > 0 {
			item := w.pending[0]
			w.pending = w.pending[1:]
			w.mu.Unlock()
			return item, true
		}
		w.mu.Unlock()
		<-w.wake
	}
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// writeLoop writes the frames of connection generation gen in order. On the
// first failure everything not yet written, the failed frame included, goes
// back to the buffer.
func (c *Channel) writeLoop(w *writer, gen uint64) {
	for {
		item, ok := w.next()
		if !ok {
			return
		}
		if err := w.conn.WriteMessage(w.kind, item.frame); err != nil {
			unsent := append([]outgoing{item}, w.stop()...)
			c.onWriteFailed(gen, err, unsent)
			return
		}
		c.opts.Metrics.Sent(c.id)
		if item.drained {
			c.opts.Metrics.Drained(c.id, 1)
		}
	}
}

func (c *Channel) onWriteFailed(gen uint64, err error, unsent []outgoing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requeueLocked(unsent)
	if gen != c.gen || c.disposed || c.state != channel.StatusConnected {
		return
	}
	c.lostLocked(err)
}

// stopWriterLocked stops the writer of the current connection and returns
// its unwritten frames to the buffer.
func (c *Channel) stopWriterLocked() {
	if c.writer == nil {
		return
	}
	rest := c.writer.stop()
	c.writer = nil
	c.requeueLocked(rest)
}

// requeueLocked puts items back at the head of the buffer, keeping their order.
func (c *Channel) requeueLocked(items []outgoing) {
	if len(items) == 0 {
		return
	}
	msgs := make([]buffer.BufferedMessage, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, item.msg)
	}
	if err := c.buffer.Requeue(context.Background(), msgs); err != nil {
		c.log.WithError(err).Errorf("failed to requeue %d unsent messages", len(msgs))
		return
	}
	c.log.WithField("count", len(msgs)).Debug("requeued unsent messages")
}
