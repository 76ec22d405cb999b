// Package storage provides the durable key-value capability used to persist
// outgoing message buffers, with in-memory, bbolt, Redis, PostgreSQL and
// S3-compatible object storage backends.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Store is a string key-value store. Get reports whether the key exists;
// removing a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Config selects and configures a storage backend.
type Config struct {
	// Driver is one of memory, bolt, redis, postgres or s3.
	Driver string `yaml:"driver" json:"driver"`

	// Path is the bbolt database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Addr, Password and DB configure the Redis client.
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`

	// DSN, Schema and Table configure the PostgreSQL backend.
	DSN    string `yaml:"dsn,omitempty" json:"-"`
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Table  string `yaml:"table,omitempty" json:"table,omitempty"`

	// Endpoint, Bucket, credentials and Prefix configure the object store.
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	AccessKey string `yaml:"access-key,omitempty" json:"-"`
	SecretKey string `yaml:"secret-key,omitempty" json:"-"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// Open builds the backend named by cfg.Driver. Backends that hold resources
// also implement io.Closer.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt", "bbolt":
		return NewBoltStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, RedisStoreConfig{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, Prefix: cfg.Prefix})
	case "postgres", "pg":
		return NewPostgresStore(ctx, PostgresStoreConfig{DSN: cfg.DSN, Schema: cfg.Schema, Table: cfg.Table})
	case "s3", "object", "minio":
		return NewObjectStore(ctx, ObjectStoreConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
			Prefix:    cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

// Close releases the store if it holds resources.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MemoryStore keeps values in process memory. It does not survive restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
