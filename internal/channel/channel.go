// Package channel defines the transport-independent contract of a realtime
// channel: connection lifecycle, outgoing sends and the message/status streams.
package channel

import (
	"context"
	"errors"

	"github.com/omochice/realtime-channel/pkg/protocol"
)

var (
	// ErrDisposed is returned by operations on a disposed channel.
	ErrDisposed = errors.New("channel: disposed")
	// ErrReconnectExhausted is carried by the final disconnected status after
	// the channel gave up reconnecting.
	ErrReconnectExhausted = errors.New("channel: reconnect attempts exhausted")
	// ErrInvalidEndpoint reports an endpoint that can never be connected to.
	ErrInvalidEndpoint = errors.New("channel: invalid endpoint")
)

// Channel is implemented by every transport backend.
// Both the WebSocket implementation and test doubles satisfy this interface.
type Channel interface {
	ID() string

	// Connect starts connecting and returns without waiting for the handshake.
	// Calling it while connecting or connected has no effect.
	Connect() error

	// Disconnect tears the connection down and suppresses reconnection.
	Disconnect()

	// Send writes payload when connected and buffers it durably otherwise.
	// Being offline is never an error.
	Send(ctx context.Context, msgType string, payload map[string]any) error

	// Messages subscribes to inbound messages.
	Messages() *Subscription[protocol.RealtimeMessage]

	// Status subscribes to status transitions; the current status is delivered first.
	Status() *Subscription[StatusEvent]

	CurrentStatus() StatusEvent
	IsConnected() bool

	// Dispose stops the channel for good and closes both streams.
	Dispose()
}
