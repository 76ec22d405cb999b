// Package transport defines the connection capability a channel runs on.
package transport

import (
	"context"
	"net/http"

	"github.com/omochice/realtime-channel/pkg/protocol"
)

// Conn abstracts a bidirectional message connection.
// This interface isolates socket libraries from the channel state machine.
type Conn interface {
	// ReadMessage blocks for the next data frame. Control frames are handled
	// internally and never returned.
	ReadMessage() ([]byte, error)

	// WriteMessage sends a single data frame. Safe to call concurrently with Ping and Close.
	WriteMessage(kind protocol.FrameKind, data []byte) error

	// Ping sends a ping control frame.
	Ping() error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens connections. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string, header http.Header) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	return f(ctx, endpoint, header)
}
