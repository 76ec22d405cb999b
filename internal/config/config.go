// Package config loads the YAML configuration of the channel client and relay.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/omochice/realtime-channel/internal/channel/ws"
	"github.com/omochice/realtime-channel/internal/metrics"
	"github.com/omochice/realtime-channel/internal/storage"
	"github.com/omochice/realtime-channel/internal/transport"
	transportws "github.com/omochice/realtime-channel/internal/transport/ws"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RTCHANNEL_"

// Config is the root configuration document.
type Config struct {
	Channel ChannelConfig     `yaml:"channel"`
	Storage storage.Config    `yaml:"storage"`
	Logging LoggingConfig     `yaml:"logging"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Relay   RelayConfig       `yaml:"relay"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// ChannelConfig holds the connection and buffering settings of a channel.
type ChannelConfig struct {
	ID                   string        `yaml:"id"`
	Endpoint             string        `yaml:"endpoint"`
	SenderID             string        `yaml:"sender-id,omitempty"`
	Transport            string        `yaml:"transport"`
	Codec                string        `yaml:"codec"`
	BaseReconnectDelay   time.Duration `yaml:"base-reconnect-delay"`
	MaxReconnectAttempts int           `yaml:"max-reconnect-attempts"`
	PingInterval         time.Duration `yaml:"ping-interval"`
	ConnectTimeout       time.Duration `yaml:"connect-timeout"`
	CloseTimeout         time.Duration `yaml:"close-timeout"`
	WriteTimeout         time.Duration `yaml:"write-timeout"`
	BufferMaxSize        int           `yaml:"buffer-max-size"`
}

// LoggingConfig controls log level and destination.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File enables rotating file output when set.
	File      string `yaml:"file,omitempty"`
	MaxSizeMB int    `yaml:"max-size-mb,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint; an empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// RelayConfig configures cmd/server.
type RelayConfig struct {
	Addr string `yaml:"addr"`
	Echo bool   `yaml:"echo,omitempty"`
}

// DefaultBufferPath is the bbolt file holding outgoing buffers unless
// storage.path says otherwise.
const DefaultBufferPath = "rtchannel-buffer.db"

// Default returns the configuration used when no file is given. Buffers are
// kept in a bbolt file so queued messages survive a restart; set
// storage.driver to memory to opt out.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			ID:                   "default",
			Transport:            "gorilla",
			Codec:                "json",
			BaseReconnectDelay:   ws.DefaultBaseReconnectDelay,
			MaxReconnectAttempts: ws.DefaultMaxReconnectAttempts,
			PingInterval:         ws.DefaultPingInterval,
			ConnectTimeout:       ws.DefaultConnectTimeout,
			CloseTimeout:         ws.DefaultCloseTimeout,
			BufferMaxSize:        ws.DefaultBufferMaxSize,
		},
		Storage: storage.Config{Driver: "bolt", Path: DefaultBufferPath},
		Logging: LoggingConfig{Level: "info"},
		Relay:   RelayConfig{Addr: ":8080"},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error when optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from RTCHANNEL_* variables. Blank values are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	texts := map[string]*string{
		"CHANNEL_ID":     &c.Channel.ID,
		"ENDPOINT":       &c.Channel.Endpoint,
		"SENDER_ID":      &c.Channel.SenderID,
		"TRANSPORT":      &c.Channel.Transport,
		"CODEC":          &c.Channel.Codec,
		"STORAGE_DRIVER": &c.Storage.Driver,
		"STORAGE_PATH":   &c.Storage.Path,
		"REDIS_ADDR":     &c.Storage.Addr,
		"REDIS_PASSWORD": &c.Storage.Password,
		"PG_DSN":         &c.Storage.DSN,
		"PG_SCHEMA":      &c.Storage.Schema,
		"S3_ENDPOINT":    &c.Storage.Endpoint,
		"S3_BUCKET":      &c.Storage.Bucket,
		"S3_ACCESS_KEY":  &c.Storage.AccessKey,
		"S3_SECRET_KEY":  &c.Storage.SecretKey,
		"LOG_LEVEL":      &c.Logging.Level,
		"LOG_FILE":       &c.Logging.File,
		"METRICS_ADDR":   &c.Metrics.Addr,
		"RELAY_ADDR":     &c.Relay.Addr,
	}
	for key, dst := range texts {
		if value, ok := get(key); ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"BASE_RECONNECT_DELAY": &c.Channel.BaseReconnectDelay,
		"PING_INTERVAL":        &c.Channel.PingInterval,
		"CONNECT_TIMEOUT":      &c.Channel.ConnectTimeout,
	}
	for key, dst := range durations {
		if value, ok := get(key); ok {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"MAX_RECONNECT_ATTEMPTS": &c.Channel.MaxReconnectAttempts,
		"BUFFER_MAX_SIZE":        &c.Channel.BufferMaxSize,
	}
	for key, dst := range ints {
		if value, ok := get(key); ok {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate checks the channel settings eagerly so a bad endpoint fails at
// startup instead of inside the retry loop.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Channel.ID) == "" {
		return errors.New("channel.id is required")
	}
	if err := ws.ValidateEndpoint(c.Channel.Endpoint); err != nil {
		return err
	}
	if _, err := protocol.CodecByName(c.Channel.Codec); err != nil {
		return err
	}
	if _, err := c.dialer(); err != nil {
		return err
	}
	if c.Channel.MaxReconnectAttempts < 0 {
		return fmt.Errorf("channel.max-reconnect-attempts must not be negative")
	}
	if c.Channel.BufferMaxSize < 0 {
		return fmt.Errorf("channel.buffer-max-size must not be negative")
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (c *Config) dialer() (transport.Dialer, error) {
	opts := transportws.Options{
		WriteTimeout: c.Channel.WriteTimeout,
		ReadTimeout:  2 * c.Channel.PingInterval,
	}
	switch strings.ToLower(c.Channel.Transport) {
	case "", "gorilla":
		return transportws.NewGorillaDialer(opts), nil
	case "gobwas":
		return transportws.NewGobwasDialer(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Channel.Transport)
	}
}

// Header returns the configured handshake headers.
func (c *Config) Header() http.Header {
	if len(c.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// ChannelOptions builds the options of the WebSocket channel.
func (c *Config) ChannelOptions(store storage.Store, entry *log.Entry, m *metrics.Metrics) (ws.Options, error) {
	codec, err := protocol.CodecByName(c.Channel.Codec)
	if err != nil {
		return ws.Options{}, err
	}
	dialer, err := c.dialer()
	if err != nil {
		return ws.Options{}, err
	}
	return ws.Options{
		Endpoint:             c.Channel.Endpoint,
		Header:               c.Header(),
		BaseReconnectDelay:   c.Channel.BaseReconnectDelay,
		MaxReconnectAttempts: c.Channel.MaxReconnectAttempts,
		PingInterval:         c.Channel.PingInterval,
		ConnectTimeout:       c.Channel.ConnectTimeout,
		CloseTimeout:         c.Channel.CloseTimeout,
		BufferMaxSize:        c.Channel.BufferMaxSize,
		SenderID:             c.Channel.SenderID,
		Dialer:               dialer,
		Codec:                codec,
		Store:                store,
		Logger:               entry,
		Metrics:              m,
	}, nil
}
