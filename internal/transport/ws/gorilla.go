// Package ws provides WebSocket implementations of transport.Dialer.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/realtime-channel/internal/transport"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

const (
	defaultWriteTimeout  = 10 * time.Second
	maxInboundMessageLen = 16 << 20 // 16 MiB
)

// Options tune the sockets produced by the dialers.
type Options struct {
	// WriteTimeout bounds every frame write. Zero uses 10s.
	WriteTimeout time.Duration
	// ReadTimeout closes a connection that received neither data nor pong for
	// this long. Zero disables the read deadline.
	ReadTimeout time.Duration
}

func (o Options) writeTimeout() time.Duration {
	if o.WriteTimeout <= 0 {
		return defaultWriteTimeout
	}
	return o.WriteTimeout
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Options
	Dialer *websocket.Dialer
}

// NewGorillaDialer creates a dialer using proxy settings from the environment.
func NewGorillaDialer(opts Options) *GorillaDialer {
	return &GorillaDialer{
		Options: opts,
		Dialer: &websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Dial implements transport.Dialer.
func (d *GorillaDialer) Dial(ctx context.Context, endpoint string, header http.Header) (transport.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return newGorillaConn(conn, d.Options), nil
}

type gorillaConn struct {
	conn    *websocket.Conn
	opts    Options
	writeMu sync.Mutex
}

func newGorillaConn(conn *websocket.Conn, opts Options) *gorillaConn {
	c := &gorillaConn{conn: conn, opts: opts}
	conn.SetReadLimit(maxInboundMessageLen)
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	return c
}

func (c *gorillaConn) extendReadDeadline() {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	for {
		c.extendReadDeadline()
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *gorillaConn) WriteMessage(kind protocol.FrameKind, data []byte) error {
	messageType := websocket.TextMessage
	if kind == protocol.FrameBinary {
		messageType = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout())); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Ping uses a control frame; WriteControl may run concurrently with WriteMessage.
func (c *gorillaConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.opts.writeTimeout()))
}

func (c *gorillaConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.writeTimeout()))
	return c.conn.Close()
}

func (c *gorillaConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
