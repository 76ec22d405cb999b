package ws

import (
	"time"

	"github.com/omochice/realtime-channel/internal/transport"
)

// readLoop decodes inbound frames and publishes them until the connection fails.
func (c *Channel) readLoop(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.onTransportLost(gen, err)
			return
		}

		msg, err := c.opts.Codec.Decode(data)
		if err != nil {
			c.opts.Metrics.Dropped(c.id)
			c.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		c.opts.Metrics.Received(c.id)
		c.messages.Publish(msg)
	}
}

// startKeepaliveLocked pings conn every PingInterval until stopped. A failed
// ping is handled exactly like a failed read.
func (c *Channel) startKeepaliveLocked(conn transport.Conn, gen uint64) {
	c.stopKeepaliveLocked()
	stop := make(chan struct{})
	c.pingStop = stop
	interval := c.opts.PingInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					c.onTransportLost(gen, err)
					return
				}
			}
		}
	}()
}

func (c *Channel) stopKeepaliveLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}
