package ws

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/realtime-channel/internal/transport"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

// GobwasDialer dials with gobwas/ws, working directly on the net.Conn.
type GobwasDialer struct {
	Options
}

// NewGobwasDialer creates a gobwas-based dialer.
func NewGobwasDialer(opts Options) *GobwasDialer {
	return &GobwasDialer{Options: opts}
}

// Dial implements transport.Dialer.
func (d *GobwasDialer) Dial(ctx context.Context, endpoint string, header http.Header) (transport.Conn, error) {
	dialer := ws.Dialer{}
	if len(header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(header)
	}
	conn, br, _, err := dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return newGobwasConn(conn, br, d.Options), nil
}

// lockedWriter serializes frame writes, including pong and close replies
// emitted by the control frame handler.
type lockedWriter struct {
	mu   *sync.Mutex
	conn net.Conn
	opts Options
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.writeTimeout()))
	return w.conn.Write(p)
}

type gobwasConn struct {
	conn    net.Conn
	opts    Options
	writeMu sync.Mutex
	reader  *wsutil.Reader
	control wsutil.FrameHandlerFunc
}

func newGobwasConn(conn net.Conn, br *bufio.Reader, opts Options) *gobwasConn {
	c := &gobwasConn{conn: conn, opts: opts}
	var src io.Reader = conn
	if br != nil {
		// Frames the server sent together with the handshake response are
		// already buffered; br keeps reading from conn once they are consumed.
		src = br
	}
	c.control = wsutil.ControlFrameHandler(lockedWriter{mu: &c.writeMu, conn: conn, opts: opts}, ws.StateClientSide)
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.control,
	}
	return c
}

func (c *gobwasConn) extendReadDeadline() {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

func (c *gobwasConn) ReadMessage() ([]byte, error) {
	c.extendReadDeadline()
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if hdr.OpCode == ws.OpPong {
				c.extendReadDeadline()
			}
			if err := c.control(hdr, c.reader); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(c.reader)
	}
}

func (c *gobwasConn) write(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout())); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return wsutil.WriteClientMessage(c.conn, op, data)
}

func (c *gobwasConn) WriteMessage(kind protocol.FrameKind, data []byte) error {
	op := ws.OpText
	if kind == protocol.FrameBinary {
		op = ws.OpBinary
	}
	if err := c.write(op, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *gobwasConn) Ping() error {
	return c.write(ws.OpPing, []byte("ping"))
}

func (c *gobwasConn) Close() error {
	_ = c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return c.conn.Close()
}

func (c *gobwasConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
