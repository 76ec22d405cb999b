package ws

import (
	"context"
	"time"

	"github.com/omochice/realtime-channel/internal/buffer"
	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

// Send hands the message to the connection writer when connected and buffers
// it otherwise; it never waits for the network. A write that later fails puts
// the message back in the buffer and starts reconnection. Errors are limited
// to ErrDisposed, payloads the codec cannot encode and *buffer.StorageError.
func (c *Channel) Send(ctx context.Context, msgType string, payload map[string]any) error {
	env := protocol.NewEnvelope(msgType, payload)
	env.SenderID = c.opts.SenderID
	frame, err := c.opts.Codec.Encode(env)
	if err != nil {
		return err
	}
	msg := buffer.BufferedMessage{ID: env.ID, Type: msgType, Payload: payload, QueuedAt: time.Now().UTC()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return channel.ErrDisposed
	}
	if c.state == channel.StatusConnected && c.writer.enqueue(outgoing{msg: msg, frame: frame}) {
		return nil
	}
	if err := c.buffer.EnqueueMessage(ctx, msg); err != nil {
		return err
	}
	c.opts.Metrics.Buffered(c.id)
	c.log.WithField("type", msgType).Debug("offline, message buffered")
	return nil
}

// drainLocked moves every buffered message to the writer of the new
// connection, oldest first, ahead of anything sent afterwards. The buffered id
// is reused as envelope id so receivers can recognise retransmissions.
func (c *Channel) drainLocked() {
	pending, err := c.buffer.DequeueAll(context.Background())
	if err != nil {
		c.log.WithError(err).Error("failed to read buffered messages")
		return
	}
	if len(pending) == 0 {
		return
	}

	items := make([]outgoing, 0, len(pending))
	for _, msg := range pending {
		env := protocol.Envelope{
			ID:       msg.ID,
			Type:     msg.Type,
			Payload:  msg.Payload,
			SentAt:   protocol.FormatTime(time.Now()),
			SenderID: c.opts.SenderID,
		}
		frame, err := c.opts.Codec.Encode(env)
		if err != nil {
			c.log.WithError(err).WithField("id", msg.ID).Error("dropping buffered message that cannot be encoded")
			continue
		}
		items = append(items, outgoing{msg: msg, frame: frame, drained: true})
	}
	if !c.writer.enqueue(items...) {
		c.requeueLocked(items)
		return
	}
	c.log.WithField("count", len(items)).Info("draining buffered messages")
}
