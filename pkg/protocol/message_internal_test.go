package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvelope_object(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want map[string]any
	}{
		{
			name: "optional fields omitted",
			env:  Envelope{ID: "1"},
			want: map[string]any{"id": "1", "payload": map[string]any{}},
		},
		{
			name: "all fields",
			env: Envelope{
				ID:       "2",
				Type:     "chat",
				Payload:  map[string]any{"text": "hi"},
				SentAt:   "2024-01-01T00:00:00Z",
				SenderID: "bob",
			},
			want: map[string]any{
				"id":       "2",
				"type":     "chat",
				"payload":  map[string]any{"text": "hi"},
				"sentAt":   "2024-01-01T00:00:00Z",
				"senderId": "bob",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.env.object())
		})
	}
}

func TestAsObject(t *testing.T) {
	got, ok := asObject(map[string]string{"a": "b"})
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"a": "b"}, got)

	_, ok = asObject(map[int]string{1: "b"})
	assert.False(t, ok)

	_, ok = asObject("text")
	assert.False(t, ok)

	_, ok = asObject(nil)
	assert.False(t, ok)
}
