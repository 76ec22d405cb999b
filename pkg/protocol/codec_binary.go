package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoCodec writes envelopes as protobuf-encoded google.protobuf.Struct binary frames.
// Payload numbers come back as float64, the same as with JSON.
type ProtoCodec struct{}

func (ProtoCodec) Name() string    { return "protobuf" }
func (ProtoCodec) Kind() FrameKind { return FrameBinary }

// Encode encodes the envelope into bytes using protobuf
func (ProtoCodec) Encode(env Envelope) ([]byte, error) {
	s, err := structpb.NewStruct(env.object())
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode decodes protobuf bytes into a message
func (ProtoCodec) Decode(data []byte) (RealtimeMessage, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return RealtimeMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return messageFromObject(s.AsMap()), nil
}

// MsgpackCodec writes envelopes as msgpack binary frames.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string    { return "msgpack" }
func (MsgpackCodec) Kind() FrameKind { return FrameBinary }

func (MsgpackCodec) Encode(env Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(env.object())
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (RealtimeMessage, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return RealtimeMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	obj, ok := asObject(v)
	if !ok {
		return RealtimeMessage{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	return messageFromObject(obj), nil
}
