// Package protocol defines the wire envelope exchanged over a realtime channel
// and the codecs that turn it into transport frames.
package protocol

import (
	"errors"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedFrame is returned by codecs for frames that do not decode to an object.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// FrameKind tells the transport how to frame an encoded envelope.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
)

// String returns the string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "TEXT"
	case FrameBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the unit written to the transport for every send.
type Envelope struct {
	ID       string         `json:"id" msgpack:"id"`
	Type     string         `json:"type,omitempty" msgpack:"type,omitempty"`
	Payload  map[string]any `json:"payload" msgpack:"payload"`
	SentAt   string         `json:"sentAt,omitempty" msgpack:"sentAt,omitempty"`
	SenderID string         `json:"senderId,omitempty" msgpack:"senderId,omitempty"`
}

// RealtimeMessage is a received message. Two messages are the same message when their IDs match.
type RealtimeMessage struct {
	ID         string
	Type       string
	Payload    map[string]any
	ReceivedAt time.Time
	SenderID   string
}

// Equal reports whether m and other carry the same message id.
func (m RealtimeMessage) Equal(other RealtimeMessage) bool {
	return m.ID == other.ID
}

// NewID returns a process-unique id prefixed with the current unix time in milliseconds.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()
}

// NewEnvelope builds an outgoing envelope with a fresh id and the current time.
func NewEnvelope(msgType string, payload map[string]any) Envelope {
	return Envelope{
		ID:      NewID(),
		Type:    msgType,
		Payload: payload,
		SentAt:  FormatTime(time.Now()),
	}
}

// FormatTime renders t as an ISO-8601 timestamp in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// object converts the envelope to the generic object form shared by the binary codecs.
func (e Envelope) object() map[string]any {
	obj := map[string]any{
		"id":      e.ID,
		"payload": e.Payload,
	}
	if e.Payload == nil {
		obj["payload"] = map[string]any{}
	}
	if e.Type != "" {
		obj["type"] = e.Type
	}
	if e.SentAt != "" {
		obj["sentAt"] = e.SentAt
	}
	if e.SenderID != "" {
		obj["senderId"] = e.SenderID
	}
	return obj
}

// messageFromObject maps a decoded inbound object to a RealtimeMessage.
// Peers that do not wrap their data in "payload" get the whole object as payload.
func messageFromObject(obj map[string]any) RealtimeMessage {
	msg := RealtimeMessage{
		ReceivedAt: time.Now(),
	}
	if id, ok := obj["id"].(string); ok && id != "" {
		msg.ID = id
	} else {
		msg.ID = NewID()
	}
	if t, ok := obj["type"].(string); ok {
		msg.Type = t
	}
	if sender, ok := obj["senderId"].(string); ok {
		msg.SenderID = sender
	}
	if payload, ok := asObject(obj["payload"]); ok {
		msg.Payload = payload
	} else {
		msg.Payload = obj
	}
	return msg
}

// asObject accepts any string-keyed map produced by the decoders.
func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := iter.Key().Interface().(string)
		if !ok {
			return nil, false
		}
		out[key] = iter.Value().Interface()
	}
	return out, true
}
