package protocol

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec converts envelopes to frames and inbound frames to messages.
type Codec interface {
	Name() string
	Kind() FrameKind
	Encode(env Envelope) ([]byte, error)
	// Decode returns ErrMalformedFrame for frames that are not objects.
	Decode(data []byte) (RealtimeMessage, error)
}

// CodecByName resolves a codec from its configuration name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "protobuf", "proto":
		return ProtoCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown codec %q", name)
	}
}

// JSONCodec writes envelopes as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string    { return "json" }
func (JSONCodec) Kind() FrameKind { return FrameText }

// Encode encodes the envelope as a JSON object.
func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode decodes a JSON object frame.
func (JSONCodec) Decode(data []byte) (RealtimeMessage, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return RealtimeMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return RealtimeMessage{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	return messageFromObject(obj), nil
}
