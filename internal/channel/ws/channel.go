// Package ws implements a realtime channel over a WebSocket connection with
// automatic reconnection, keepalive and durable buffering of outgoing messages.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/omochice/realtime-channel/internal/buffer"
	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/internal/transport"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

// Channel is a WebSocket-backed channel.Channel.
//
// Every state transition happens with mu held: caller operations, dial results,
// transport errors, reconnect timers and keepalive failures all funnel through
// it. Network I/O never happens under mu; frames go through a per-connection
// writer. Callbacks from an older connection attempt carry a stale generation
// number and are ignored.
type Channel struct {
	id     string
	opts   Options
	buffer *buffer.Buffer
	log    *log.Entry

	status   *channel.Broadcaster[channel.StatusEvent]
	messages *channel.Broadcaster[protocol.RealtimeMessage]

	mu             sync.Mutex
	state          channel.Status
	conn           transport.Conn
	writer         *writer
	gen            uint64
	attempts       int
	intentional    bool
	disposed       bool
	cancelDial     context.CancelFunc
	reconnectTimer *time.Timer
	pingStop       chan struct{}
}

var _ channel.Channel = (*Channel)(nil)

// New creates a disconnected channel. The endpoint is validated here so a
// guaranteed-invalid target never enters the retry loop.
func New(id string, opts Options) (*Channel, error) {
	if id == "" {
		return nil, fmt.Errorf("ws channel: id is required")
	}
	if err := ValidateEndpoint(opts.Endpoint); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	entry := opts.Logger
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	entry = entry.WithField("channel", id)

	c := &Channel{
		id:       id,
		opts:     opts,
		log:      entry,
		state:    channel.StatusDisconnected,
		status:   channel.NewBehavior(channel.StatusEvent{Status: channel.StatusDisconnected, At: time.Now()}),
		messages: channel.NewBroadcaster[protocol.RealtimeMessage](),
	}
	c.buffer = buffer.New(opts.Store, id,
		buffer.WithMaxSize(opts.BufferMaxSize),
		buffer.WithLogger(entry),
		buffer.WithEvictHook(func(n int) { opts.Metrics.Evicted(id, n) }),
	)
	return c, nil
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Buffer exposes the outgoing buffer, e.g. to clear it after giving up.
func (c *Channel) Buffer() *buffer.Buffer { return c.buffer }

// Messages subscribes to inbound messages.
func (c *Channel) Messages() *channel.Subscription[protocol.RealtimeMessage] {
	return c.messages.Subscribe()
}

// Status subscribes to status transitions, starting with the current one.
func (c *Channel) Status() *channel.Subscription[channel.StatusEvent] {
	return c.status.Subscribe()
}

// CurrentStatus returns the latest status event.
func (c *Channel) CurrentStatus() channel.StatusEvent {
	return c.status.Current()
}

// IsConnected reports whether the status is connected.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == channel.StatusConnected
}

// Connect starts a connection attempt and returns immediately; progress is
// reported on the status stream. It is a no-op while connecting or connected.
// While a retry is pending it dials right away. After the channel gave up it
// starts a fresh cycle with the attempt counter reset.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return channel.ErrDisposed
	}
	switch c.state {
	case channel.StatusConnecting, channel.StatusConnected:
		return nil
	case channel.StatusReconnecting:
		c.stopReconnectTimerLocked()
	default:
		c.attempts = 0
	}
	c.intentional = false
	c.dialLocked()
	return nil
}

// Disconnect closes the connection and cancels any pending retry. The socket
// close runs in the background.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.intentional = true
	if c.state == channel.StatusDisconnected {
		return
	}
	c.setStatusLocked(channel.StatusEvent{Status: channel.StatusDisconnecting})
	c.teardownLocked()
	c.setStatusLocked(channel.StatusEvent{Status: channel.StatusDisconnected})
	c.log.Info("disconnected")
}

// Dispose terminates the channel: timers are cancelled, the socket is closed
// in the background and both streams are closed. The channel cannot be reused.
func (c *Channel) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.intentional = true
	c.teardownLocked()
	if c.state != channel.StatusDisconnected {
		c.setStatusLocked(channel.StatusEvent{Status: channel.StatusDisconnected})
	}
	c.mu.Unlock()

	c.status.Close()
	c.messages.Close()
	c.log.Debug("disposed")
}

// teardownLocked invalidates the current attempt and releases every timer and socket.
func (c *Channel) teardownLocked() {
	c.gen++
	c.stopReconnectTimerLocked()
	c.stopKeepaliveLocked()
	c.stopWriterLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		c.closeInBackground(c.conn)
		c.conn = nil
	}
}

func (c *Channel) setStatusLocked(ev channel.StatusEvent) {
	c.state = ev.Status
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.opts.Metrics.Status(c.id, ev.Status.String())
	c.status.Publish(ev)
}

func (c *Channel) dialLocked() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	c.cancelDial = cancel
	c.setStatusLocked(channel.StatusEvent{Status: channel.StatusConnecting, Attempt: c.attempts})
	c.log.WithField("attempt", c.attempts).Debugf("connecting to %s", c.opts.Endpoint)
	go c.dial(ctx, cancel, gen)
}

type dialResult struct {
	conn transport.Conn
	err  error
}

// dial runs one handshake. The dialer is raced against the connect timeout so
// a transport that ignores ctx cannot stall the state machine; a socket that
// completes after the deadline is closed in the background.
func (c *Channel) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	done := make(chan dialResult, 1)
	go func() {
		conn, err := c.opts.Dialer.Dial(ctx, c.opts.Endpoint, c.opts.Header)
		done <- dialResult{conn: conn, err: err}
	}()

	var res dialResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				c.closeInBackground(late.conn)
			}
		}()
		res.err = fmt.Errorf("connect timeout after %s: %w", c.opts.ConnectTimeout, ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.disposed || c.state != channel.StatusConnecting {
		if res.conn != nil {
			c.closeInBackground(res.conn)
		}
		return
	}
	c.cancelDial = nil

	if res.err == nil && res.conn == nil {
		res.err = fmt.Errorf("dialer returned no connection")
	}
	if res.err != nil {
		c.log.WithError(res.err).Warn("connection attempt failed")
		c.setStatusLocked(channel.StatusEvent{Status: channel.StatusError, Err: res.err})
		c.scheduleReconnectLocked(res.err)
		return
	}
	c.onConnectedLocked(res.conn, gen)
}

func (c *Channel) onConnectedLocked(conn transport.Conn, gen uint64) {
	c.conn = conn
	c.attempts = 0
	c.setStatusLocked(channel.StatusEvent{Status: channel.StatusConnected})
	c.log.Infof("connected to %s", conn.RemoteAddr())

	c.writer = newWriter(conn, c.opts.Codec.Kind())
	c.drainLocked()
	go c.writeLoop(c.writer, gen)
	c.startKeepaliveLocked(conn, gen)
	go c.readLoop(conn, gen)
}

// onTransportLost handles an error reported by the read loop or the keepalive
// of connection generation gen.
func (c *Channel) onTransportLost(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.disposed || c.state != channel.StatusConnected {
		return
	}
	c.lostLocked(err)
}

// lostLocked drops the live connection and decides between retrying and giving up.
func (c *Channel) lostLocked(err error) {
	c.log.WithError(err).Warn("connection lost")
	c.stopKeepaliveLocked()
	c.stopWriterLocked()
	if c.conn != nil {
		c.closeInBackground(c.conn)
		c.conn = nil
	}
	if c.intentional {
		c.setStatusLocked(channel.StatusEvent{Status: channel.StatusDisconnected})
		return
	}
	c.scheduleReconnectLocked(err)
}

// scheduleReconnectLocked counts a failure and either arms the backoff timer
// or settles in disconnected once MaxReconnectAttempts failures accumulated.
func (c *Channel) scheduleReconnectLocked(cause error) {
	c.attempts++
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.log.WithField("attempt", c.attempts).Warn("giving up reconnecting")
		c.setStatusLocked(channel.StatusEvent{
			Status:  channel.StatusDisconnected,
			Attempt: c.attempts,
			Err:     fmt.Errorf("%w: %v", channel.ErrReconnectExhausted, cause),
		})
		return
	}

	delay := backoffDelay(c.opts.BaseReconnectDelay, c.attempts)
	gen := c.gen
	c.opts.Metrics.Reconnect(c.id)
	c.setStatusLocked(channel.StatusEvent{Status: channel.StatusReconnecting, Attempt: c.attempts, Err: cause})
	c.log.WithField("attempt", c.attempts).Infof("reconnecting in %s", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() { c.fireReconnect(gen) })
}

func (c *Channel) fireReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.disposed || c.intentional || c.state != channel.StatusReconnecting {
		return
	}
	c.reconnectTimer = nil
	c.dialLocked()
}

func (c *Channel) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// closeInBackground closes conn without blocking the caller. Best-effort
// cleanup, not guaranteed to complete before the call returns: a close that
// takes longer than CloseTimeout is abandoned.
func (c *Channel) closeInBackground(conn transport.Conn) {
	timeout := c.opts.CloseTimeout
	go func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := conn.Close(); err != nil {
				c.log.WithError(err).Debug("socket close failed")
			}
		}()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			c.log.Warnf("socket close did not finish within %s, abandoning it", timeout)
		}
	}()
}
