// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventbus wraps a NATS connection as the aggregator's optional,
// best-effort fan-out of ingested telemetry and fired alerts to external
// subscribers. It is never a delivery guarantee: a publish failure is
// logged and otherwise ignored, since the CSV files and outbound email
// remain the system's actual durability and notification boundaries.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/kaloix/home-sensor/pkg/log"
)

// Config configures a connection to a NATS server.
type Config struct {
	URL      string
	Username string
	Password string
}

// Client wraps a *nats.Conn with the reconnect/error logging the teacher's
// own NATS wrapper installs.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
}

// Connect dials the configured NATS server. A Config with an empty URL is
// not an error -- it signals the event bus is disabled, and callers should
// treat a nil *Client as a no-op Publisher.
func Connect(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	var opts []nats.Option
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("eventbus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("eventbus: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("eventbus: %v", err)
		}),
	)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	log.Infof("eventbus: connected to %s", cfg.URL)
	return &Client{conn: conn}, nil
}

// Publish sends payload on subject. Safe to call on a nil *Client, which
// is what a disabled event bus resolves to -- always a no-op.
func (c *Client) Publish(subject string, payload []byte) error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes and closes the connection. Safe to call on a nil *Client.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.Close()
}
