package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/internal/metrics"
	"github.com/omochice/realtime-channel/internal/storage"
	"github.com/omochice/realtime-channel/internal/transport"
	transportws "github.com/omochice/realtime-channel/internal/transport/ws"
	"github.com/omochice/realtime-channel/pkg/protocol"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultBaseReconnectDelay   = 2 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultPingInterval         = 30 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultCloseTimeout         = 5 * time.Second
	DefaultBufferMaxSize        = 100

	maxBackoffExponent = 10
)

// Options configures a Channel. Zero values select the defaults.
type Options struct {
	// Endpoint is the ws:// or wss:// URL to connect to.
	Endpoint string
	// Header is sent with the handshake (auth tokens, metadata).
	Header http.Header

	BaseReconnectDelay   time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	ConnectTimeout       time.Duration
	BufferMaxSize        int

	// CloseTimeout bounds the background close of an abandoned socket.
	CloseTimeout time.Duration

	// SenderID is stamped on every outgoing envelope when set.
	SenderID string

	Dialer  transport.Dialer
	Codec   protocol.Codec
	Store   storage.Store
	Logger  *log.Entry
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.BaseReconnectDelay <= 0 {
		o.BaseReconnectDelay = DefaultBaseReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.BufferMaxSize <= 0 {
		o.BufferMaxSize = DefaultBufferMaxSize
	}
	if o.Dialer == nil {
		o.Dialer = transportws.NewGorillaDialer(transportws.Options{ReadTimeout: 2 * o.PingInterval})
	}
	if o.Codec == nil {
		o.Codec = protocol.JSONCodec{}
	}
	if o.Store == nil {
		o.Store = storage.NewMemoryStore()
	}
	return o
}

// ValidateEndpoint rejects endpoints no connection attempt could ever succeed against.
func ValidateEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is empty", channel.ErrInvalidEndpoint)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q in %s", channel.ErrInvalidEndpoint, u.Scheme, endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %s", channel.ErrInvalidEndpoint, endpoint)
	}
	return nil
}

// backoffDelay returns base * 2^min(attempt, 10).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	exp := attempt
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	if exp < 0 {
		exp = 0
	}
	return base * time.Duration(1<<uint(exp))
}
