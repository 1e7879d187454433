// Package transport carries topic-based publish/subscribe messages between
// the client and the quiz server. It knows destinations and bytes, nothing
// about lobbies.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a connection that has been closed.
var ErrClosed = errors.New("transport closed")

// Message is a single inbound or outbound message.
type Message struct {
	Destination string
	Headers     map[string]string
	Body        []byte
}

// Handler receives messages for a subscription. Messages for one
// subscription are delivered in send order from a single goroutine; a
// handler must not block for long.
type Handler func(Message)

// Subscription is an active subscription on a connection.
type Subscription interface {
	Unsubscribe() error
}

// Conn is a live connection to the broker.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	Subscribe(destination string, handler Handler) (Subscription, error)
	Publish(ctx context.Context, msg Message) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	// Err reports why Done was closed. It is ErrClosed after Close.
	Err() error
	Close() error
}

// Dialer opens connections. Each call returns a fresh connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
