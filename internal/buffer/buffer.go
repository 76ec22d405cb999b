// Package buffer implements the durable, size-bounded FIFO of outgoing
// messages that could not be written while a channel was offline.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/omochice/realtime-channel/internal/storage"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

const (
	// DefaultMaxSize is the capacity used when none is configured.
	DefaultMaxSize = 100
	// KeyPrefix prefixes the channel id to form the storage key.
	KeyPrefix = "realtime_buffer_"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BufferedMessage is an outgoing payload waiting for a connection.
type BufferedMessage struct {
	ID       string         `json:"id"`
	Type     string         `json:"type,omitempty"`
	Payload  map[string]any `json:"payload"`
	QueuedAt time.Time      `json:"queuedAt"`
}

// StorageError reports a failed read or write of the durable store.
// Unlike transport failures it means queued messages may be lost.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("buffer: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxSize sets the capacity. Values below 1 keep the default.
func WithMaxSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// WithEvictHook registers fn to be called with the number of messages dropped by eviction.
func WithEvictHook(fn func(evicted int)) Option {
	return func(b *Buffer) { b.onEvict = fn }
}

// WithLogger sets the log entry used for anomalies.
func WithLogger(entry *log.Entry) Option {
	return func(b *Buffer) {
		if entry != nil {
			b.log = entry
		}
	}
}

// Buffer is a persistent FIFO scoped to one channel id. The store key is
// expected to be owned by a single Buffer at a time; the contents are cached
// after the first load and written through on every change.
type Buffer struct {
	store   storage.Store
	key     string
	maxSize int
	onEvict func(int)
	log     *log.Entry

	mu     sync.Mutex
	loaded bool
	items  []BufferedMessage
}

// New creates a buffer for channelID backed by store.
func New(store storage.Store, channelID string, opts ...Option) *Buffer {
	b := &Buffer{
		store:   store,
		key:     KeyPrefix + channelID,
		maxSize: DefaultMaxSize,
		log:     log.WithField("channel", channelID),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the storage key used by the buffer.
func (b *Buffer) Key() string { return b.key }

// MaxSize returns the configured capacity.
func (b *Buffer) MaxSize() int { return b.maxSize }

// Enqueue appends a new message, evicting the oldest entries beyond capacity.
func (b *Buffer) Enqueue(ctx context.Context, msgType string, payload map[string]any) (BufferedMessage, error) {
	msg := BufferedMessage{
		ID:       protocol.NewID(),
		Type:     msgType,
		Payload:  payload,
		QueuedAt: time.Now().UTC(),
	}
	if err := b.EnqueueMessage(ctx, msg); err != nil {
		return BufferedMessage{}, err
	}
	return msg, nil
}

// EnqueueMessage appends a prepared message. A missing id or timestamp is filled in.
func (b *Buffer) EnqueueMessage(ctx context.Context, msg BufferedMessage) error {
	if msg.ID == "" {
		msg.ID = protocol.NewID()
	}
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return err
	}
	next := append(cloneMessages(b.items), msg)
	return b.commitLocked(ctx, next)
}

// Requeue puts msgs back in front of any queued messages, keeping their order.
func (b *Buffer) Requeue(ctx context.Context, msgs []BufferedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return err
	}
	next := make([]BufferedMessage, 0, len(msgs)+len(b.items))
	next = append(next, msgs...)
	next = append(next, b.items...)
	return b.commitLocked(ctx, next)
}

// DequeueAll removes and returns every queued message, oldest first.
// The store is cleared before the messages are returned; on error nothing is removed.
func (b *Buffer) DequeueAll(ctx context.Context) ([]BufferedMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return nil, err
	}
	if len(b.items) == 0 {
		return nil, nil
	}
	if err := b.store.Remove(ctx, b.key); err != nil {
		return nil, &StorageError{Op: "remove", Key: b.key, Err: err}
	}
	out := b.items
	b.items = nil
	return out, nil
}

// Size returns the number of queued messages.
func (b *Buffer) Size(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return 0, err
	}
	return len(b.items), nil
}

// Clear discards every queued message.
func (b *Buffer) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.Remove(ctx, b.key); err != nil {
		return &StorageError{Op: "remove", Key: b.key, Err: err}
	}
	b.items = nil
	b.loaded = true
	return nil
}

func (b *Buffer) loadLocked(ctx context.Context) error {
	if b.loaded {
		return nil
	}
	raw, ok, err := b.store.Get(ctx, b.key)
	if err != nil {
		return &StorageError{Op: "get", Key: b.key, Err: err}
	}
	b.loaded = true
	b.items = nil
	if !ok || raw == "" {
		return nil
	}
	var items []BufferedMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		b.log.WithError(err).Warnf("discarding undecodable buffer contents under %s", b.key)
		return nil
	}
	b.items = items
	return nil
}

// commitLocked trims next to capacity, persists it and only then replaces the cache.
func (b *Buffer) commitLocked(ctx context.Context, next []BufferedMessage) error {
	evicted := 0
	if len(next) > b.maxSize {
		evicted = len(next) - b.maxSize
		next = next[evicted:]
	}
	data, err := json.Marshal(next)
	if err != nil {
		return &StorageError{Op: "encode", Key: b.key, Err: err}
	}
	if err := b.store.Set(ctx, b.key, string(data)); err != nil {
		return &StorageError{Op: "set", Key: b.key, Err: err}
	}
	b.items = next
	if evicted > 0 {
		b.log.WithField("evicted", evicted).Debug("buffer full, dropped oldest messages")
		if b.onEvict != nil {
			b.onEvict(evicted)
		}
	}
	return nil
}

func cloneMessages(in []BufferedMessage) []BufferedMessage {
	out := make([]BufferedMessage, len(in), len(in)+1)
	copy(out, in)
	return out
}
