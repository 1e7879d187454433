package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS transport
type NATSConfig struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:     nats.DefaultURL,
		Name:    "quizsync",
		Timeout: 5 * time.Second,
	}
}

// SubjectFor maps a destination such as /lobby/ABC to the subject lobby.ABC.
func SubjectFor(destination string) string {
	return strings.ReplaceAll(strings.Trim(destination, "/"), "/", ".")
}

// NATSDialer opens connections to a NATS server. The client library's own
// reconnect logic is disabled; a lost connection is reported through Done.
type NATSDialer struct {
	config NATSConfig
}

func NewNATSDialer(config NATSConfig) *NATSDialer {
	return &NATSDialer{config: config}
}

func (d *NATSDialer) Dial(ctx context.Context) (Conn, error) {
	c := &natsConn{
		id:   uuid.New().String()[:8],
		done: make(chan struct{}),
	}

	timeout := d.config.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout || timeout == 0 {
			timeout = until
		}
	}

	opts := []nats.Option{
		nats.Name(d.config.Name),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("NATS disconnected")
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			err := nc.LastError()
			if err == nil {
				err = ErrClosed
			}
			c.fail(err)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Str("connection_id", c.id).Msg("NATS error")
		}),
	}

	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}

	nc, err := nats.Connect(d.config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc

	log.Debug().
		Str("connection_id", c.id).
		Str("url", nc.ConnectedUrl()).
		Msg("NATS connection established")
	return c, nil
}

type natsConn struct {
	id string
	nc *nats.Conn

	mu  sync.Mutex
	err error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *natsConn) ID() string { return c.id }

func (c *natsConn) Done() <-chan struct{} { return c.done }

func (c *natsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *natsConn) Subscribe(destination string, handler Handler) (Subscription, error) {
	subject := SubjectFor(destination)
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		headers := make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}
		handler(Message{Destination: destination, Headers: headers, Body: m.Data})
	})
	if err != nil {
		return nil, c.wrap(fmt.Errorf("subscribe %s: %w", subject, err))
	}
	return natsSubscription{sub: sub}, nil
}

func (c *natsConn) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := nats.NewMsg(SubjectFor(msg.Destination))
	m.Data = msg.Body
	m.Header.Set("content-type", "application/json")
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if err := c.nc.PublishMsg(m); err != nil {
		return c.wrap(fmt.Errorf("publish %s: %w", m.Subject, err))
	}
	return nil
}

func (c *natsConn) Close() error {
	c.fail(ErrClosed)
	c.nc.Close()
	return nil
}

func (c *natsConn) wrap(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func (c *natsConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
