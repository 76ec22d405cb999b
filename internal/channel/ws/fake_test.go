package ws_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/internal/transport"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

var errConnReset = errors.New("connection reset by peer")

// fakeConn is an in-memory transport.Conn.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr func(n int) error
	pingErr  error
	pings    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errConnReset
	}
}

func (c *fakeConn) WriteMessage(_ protocol.FrameKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		if err := c.writeErr(len(c.written)); err != nil {
			return err
		}
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:0" }

// drop simulates the peer going away.
func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setWriteErr(fn func(n int) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = fn
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// frames decodes every frame written so far.
func (c *fakeConn) frames(t *testing.T) []protocol.RealtimeMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.RealtimeMessage, 0, len(c.written))
	for _, data := range c.written {
		msg, err := protocol.JSONCodec{}.Decode(data)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// fakeDialer answers the n-th dial (starting at 1) with script(n).
type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	script func(ctx context.Context, n int) (transport.Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	return d.script(ctx, n)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// connDialer always succeeds with conn.
func connDialer(conn *fakeConn) *fakeDialer {
	return &fakeDialer{script: func(context.Context, int) (transport.Conn, error) { return conn, nil }}
}

// failingDialer always fails.
func failingDialer() *fakeDialer {
	return &fakeDialer{script: func(context.Context, int) (transport.Conn, error) {
		return nil, errors.New("connection refused")
	}}
}

// waitStatus consumes status events until one matches want.
func waitStatus(t *testing.T, sub *channel.Subscription[channel.StatusEvent], want channel.Status) channel.StatusEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "status stream closed while waiting for %s", want)
			if ev.Status == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for status %s", want)
			return channel.StatusEvent{}
		}
	}
}

// collectStatuses returns the statuses published until the first one matching stop.
func collectStatuses(t *testing.T, sub *channel.Subscription[channel.StatusEvent], stop func(channel.StatusEvent) bool) []channel.StatusEvent {
	t.Helper()
	var out []channel.StatusEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "status stream closed")
			out = append(out, ev)
			if stop(ev) {
				return out
			}
		case <-timeout:
			t.Fatalf("timeout collecting statuses, got %v", out)
			return out
		}
	}
}

func texts(msgs []protocol.RealtimeMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text, _ := m.Payload["text"].(string)
		out = append(out, text)
	}
	return out
}
