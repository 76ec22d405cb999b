package channel

import (
	"fmt"
	"time"
)

// Status is the connection state of a channel.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
	StatusReconnecting
	StatusError
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// StatusEvent is one transition published on the status stream.
type StatusEvent struct {
	Status Status
	// Attempt is the reconnect attempt number for StatusReconnecting.
	Attempt int
	// Err is the cause for StatusError, StatusReconnecting and a give-up StatusDisconnected.
	Err error
	At  time.Time
}

// GaveUp reports whether the event is the terminal disconnected state reached
// after reconnect attempts ran out.
func (e StatusEvent) GaveUp() bool {
	return e.Status == StatusDisconnected && e.Err != nil
}

// Describe renders the event for a status line.
func (e StatusEvent) Describe() string {
	switch {
	case e.Status == StatusConnecting:
		return "connecting…"
	case e.Status == StatusReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d)…", e.Attempt)
	case e.GaveUp():
		return "offline — will not retry automatically"
	case e.Status == StatusError && e.Err != nil:
		return fmt.Sprintf("error: %v", e.Err)
	default:
		return e.Status.String()
	}
}
