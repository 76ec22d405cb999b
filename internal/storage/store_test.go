package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-channel/internal/storage"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()
	key := "realtime_buffer_test-" + t.Name()

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, `[{"id":"1"}]`))
	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"1"}]`, got)

	require.NoError(t, s.Set(ctx, key, `[]`))
	got, _, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[]`, got)

	require.NoError(t, s.Remove(ctx, key))
	_, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Remove(ctx, key), "removing a missing key is not an error")
}

func TestMemoryStore(t *testing.T) {
	s := storage.NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 0, s.Len())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "buffer.db")
	s, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "buffer.db")

	s, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Close())

	reopened, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestBoltStore_RequiresPath(t *testing.T) {
	_, err := storage.NewBoltStore("  ")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("RTCHANNEL_TEST_REDIS_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("skipping integration test: RTCHANNEL_TEST_REDIS_ADDR not set")
	}
	s, err := storage.NewRedisStore(context.Background(), storage.RedisStoreConfig{Addr: addr, Prefix: "rtchannel-test:"})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("RTCHANNEL_TEST_PG_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("skipping integration test: RTCHANNEL_TEST_PG_DSN not set")
	}
	s, err := storage.NewPostgresStore(context.Background(), storage.PostgresStoreConfig{DSN: dsn, Table: "realtime_kv_test"})
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestObjectStore(t *testing.T) {
	endpoint := os.Getenv("RTCHANNEL_TEST_S3_ENDPOINT")
	if testing.Short() || endpoint == "" {
		t.Skip("skipping integration test: RTCHANNEL_TEST_S3_ENDPOINT not set")
	}
	s, err := storage.NewObjectStore(context.Background(), storage.ObjectStoreConfig{
		Endpoint:  endpoint,
		Bucket:    "rtchannel-test",
		AccessKey: os.Getenv("RTCHANNEL_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("RTCHANNEL_TEST_S3_SECRET_KEY"),
		Prefix:    "buffers",
	})
	require.NoError(t, err)

	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := storage.Open(ctx, storage.Config{})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, s)
	assert.NoError(t, storage.Close(s))

	s, err = storage.Open(ctx, storage.Config{Driver: "bolt", Path: filepath.Join(t.TempDir(), "b.db")})
	require.NoError(t, err)
	assert.IsType(t, &storage.BoltStore{}, s)
	assert.NoError(t, storage.Close(s))

	_, err = storage.Open(ctx, storage.Config{Driver: "etcd"})
	assert.Error(t, err)

	_, err = storage.Open(ctx, storage.Config{Driver: "redis"})
	assert.Error(t, err, "redis without addr must fail fast")

	_, err = storage.Open(ctx, storage.Config{Driver: "postgres"})
	assert.Error(t, err, "postgres without dsn must fail fast")
}
