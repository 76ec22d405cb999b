package buffer_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-channel/internal/buffer"
	"github.com/omochice/realtime-channel/internal/storage"
)

// failingStore fails every operation named in failOn.
type failingStore struct {
	*storage.MemoryStore
	failOn map[string]bool
}

var errStoreDown = errors.New("store down")

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failOn["get"] {
		return "", false, errStoreDown
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.failOn["set"] {
		return errStoreDown
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *failingStore) Remove(ctx context.Context, key string) error {
	if s.failOn["remove"] {
		return errStoreDown
	}
	return s.MemoryStore.Remove(ctx, key)
}

func payloadTexts(t *testing.T, msgs []buffer.BufferedMessage) []string {
	t.Helper()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text, _ := m.Payload["text"].(string)
		out = append(out, text)
	}
	return out
}

func TestBuffer_EnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	b := buffer.New(storage.NewMemoryStore(), "room-1")

	for _, text := range []string{"a", "b", "c"} {
		msg, err := b.Enqueue(ctx, "chat", map[string]any{"text": text})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.QueuedAt.IsZero())
	}

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	msgs, err := b.DequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, payloadTexts(t, msgs))
	for _, m := range msgs {
		assert.Equal(t, "chat", m.Type)
	}

	size, err = b.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size, "buffer must be empty after a full drain")
}

func TestBuffer_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	evicted := 0
	b := buffer.New(storage.NewMemoryStore(), "room-1",
		buffer.WithMaxSize(2),
		buffer.WithEvictHook(func(n int) { evicted += n }),
	)

	for _, text := range []string{"A", "B", "C"} {
		_, err := b.Enqueue(ctx, "", map[string]any{"text": text})
		require.NoError(t, err)
	}

	msgs, err := b.DequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, payloadTexts(t, msgs))
	assert.Equal(t, 1, evicted)
}

func TestBuffer_CapacityKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	b := buffer.New(storage.NewMemoryStore(), "room-1", buffer.WithMaxSize(5))

	var want []string
	for i := 0; i < 20; i++ {
		text := string(rune('a' + i))
		_, err := b.Enqueue(ctx, "", map[string]any{"text": text})
		require.NoError(t, err)
		want = append(want, text)
	}

	msgs, err := b.DequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want[15:], payloadTexts(t, msgs))
}

func TestBuffer_DefaultMaxSize(t *testing.T) {
	b := buffer.New(storage.NewMemoryStore(), "x", buffer.WithMaxSize(0))
	assert.Equal(t, buffer.DefaultMaxSize, b.MaxSize())
	assert.Equal(t, "realtime_buffer_x", b.Key())
}

func TestBuffer_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "buffer.db")

	store, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	first := buffer.New(store, "room-1")
	_, err = first.Enqueue(ctx, "chat", map[string]any{"text": "survives"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	second := buffer.New(reopened, "room-1")
	msgs, err := second.DequeueAll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "chat", msgs[0].Type)
	assert.Equal(t, "survives", msgs[0].Payload["text"])
}

func TestBuffer_ScopedPerChannel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	a := buffer.New(store, "a")
	b := buffer.New(store, "b")

	_, err := a.Enqueue(ctx, "", map[string]any{"text": "for a"})
	require.NoError(t, err)

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestBuffer_UndecodableBlobIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, buffer.KeyPrefix+"room", "{not json"))

	b := buffer.New(store, "room")
	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = b.Enqueue(ctx, "", map[string]any{"text": "fresh"})
	require.NoError(t, err)
	size, err = b.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestBuffer_Requeue(t *testing.T) {
	ctx := context.Background()
	b := buffer.New(storage.NewMemoryStore(), "room")

	for _, text := range []string{"a", "b", "c"} {
		_, err := b.Enqueue(ctx, "", map[string]any{"text": text})
		require.NoError(t, err)
	}
	msgs, err := b.DequeueAll(ctx)
	require.NoError(t, err)

	_, err = b.Enqueue(ctx, "", map[string]any{"text": "d"})
	require.NoError(t, err)
	require.NoError(t, b.Requeue(ctx, msgs[1:]))

	msgs, err = b.DequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, payloadTexts(t, msgs))
}

func TestBuffer_EnqueueMessageKeepsID(t *testing.T) {
	ctx := context.Background()
	b := buffer.New(storage.NewMemoryStore(), "room")

	require.NoError(t, b.EnqueueMessage(ctx, buffer.BufferedMessage{ID: "env-1", Payload: map[string]any{}}))
	msgs, err := b.DequeueAll(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "env-1", msgs[0].ID)
	assert.False(t, msgs[0].QueuedAt.IsZero())
}

func TestBuffer_Clear(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	b := buffer.New(store, "room")

	_, err := b.Enqueue(ctx, "", map[string]any{"text": "x"})
	require.NoError(t, err)
	require.NoError(t, b.Clear(ctx))

	size, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, store.Len())
}

func TestBuffer_StorageErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		failOn string
		op     func(b *buffer.Buffer) error
		wantOp string
	}{
		{
			name:   "enqueue write failure",
			failOn: "set",
			op: func(b *buffer.Buffer) error {
				_, err := b.Enqueue(ctx, "", map[string]any{"text": "x"})
				return err
			},
			wantOp: "set",
		},
		{
			name:   "load failure",
			failOn: "get",
			op: func(b *buffer.Buffer) error {
				_, err := b.Size(ctx)
				return err
			},
			wantOp: "get",
		},
		{
			name:   "clear failure",
			failOn: "remove",
			op:     func(b *buffer.Buffer) error { return b.Clear(ctx) },
			wantOp: "remove",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failingStore{MemoryStore: storage.NewMemoryStore(), failOn: map[string]bool{tt.failOn: true}}
			err := tt.op(buffer.New(store, "room"))

			var storageErr *buffer.StorageError
			require.ErrorAs(t, err, &storageErr)
			assert.Equal(t, tt.wantOp, storageErr.Op)
			assert.ErrorIs(t, err, errStoreDown)
		})
	}
}

func TestBuffer_DequeueFailureKeepsMessages(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), failOn: map[string]bool{}}
	b := buffer.New(store, "room")

	_, err := b.Enqueue(ctx, "", map[string]any{"text": "keep"})
	require.NoError(t, err)

	store.failOn["remove"] = true
	_, err = b.DequeueAll(ctx)
	require.Error(t, err)

	store.failOn["remove"] = false
	msgs, err := b.DequeueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, payloadTexts(t, msgs))
}
