package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/quizsync/go/internal/transport"
)

// fakeConn is an in-memory transport.Conn. Tests deliver inbound messages
// with deliver and inspect outbound ones with published.
type fakeConn struct {
	id string

	mu         sync.Mutex
	handlers   map[string]transport.Handler
	published  []transport.Message
	events     []string // ordered log of subscribe/publish calls
	publishErr error
	err        error

	// onSubscribe runs inside Subscribe, before it returns.
	onSubscribe func(transport.Handler)

	subscribed chan string
	done       chan struct{}
	closeOnce  sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:         id,
		handlers:   make(map[string]transport.Handler),
		subscribed: make(chan string, 8),
		done:       make(chan struct{}),
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Subscribe(destination string, handler transport.Handler) (transport.Subscription, error) {
	c.mu.Lock()
	c.handlers[destination] = handler
	c.events = append(c.events, "subscribe "+destination)
	hook := c.onSubscribe
	c.mu.Unlock()
	if hook != nil {
		hook(handler)
	}
	c.subscribed <- destination
	return &fakeSub{conn: c, dest: destination}, nil
}

func (c *fakeConn) Publish(ctx context.Context, msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	c.events = append(c.events, "publish "+msg.Destination)
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.drop(transport.ErrClosed)
	return nil
}

// drop simulates the connection going away.
func (c *fakeConn) drop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver pushes body to the handler subscribed on destination.
func (c *fakeConn) deliver(t *testing.T, destination, body string) {
	t.Helper()
	c.mu.Lock()
	h := c.handlers[destination]
	c.mu.Unlock()
	if h == nil {
		t.Fatalf("no subscription on %s", destination)
	}
	h(transport.Message{Destination: destination, Body: []byte(body)})
}

func (c *fakeConn) publishedTo(destination string) []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []transport.Message
	for _, m := range c.published {
		if m.Destination == destination {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) handler(destination string) transport.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[destination]
}

func (c *fakeConn) eventLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *fakeConn) waitSubscribed(t *testing.T) string {
	t.Helper()
	select {
	case d := <-c.subscribed:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe")
		return ""
	}
}

type fakeSub struct {
	conn *fakeConn
	dest string
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.handlers, s.dest)
	s.conn.events = append(s.conn.events, "unsubscribe "+s.dest)
	return nil
}

// fakeDialer hands out queued results in order. Once the queue is empty
// Dial blocks until ctx is done.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   chan int
	count   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func newFakeDialer(results ...dialResult) *fakeDialer {
	return &fakeDialer{results: results, dials: make(chan int, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	d.count++
	n := d.count
	var res *dialResult
	if len(d.results) > 0 {
		res = &d.results[0]
		d.results = d.results[1:]
	}
	d.mu.Unlock()
	d.dials <- n

	if res == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *fakeDialer) waitDial(t *testing.T) int {
	t.Helper()
	select {
	case n := <-d.dials:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return 0
	}
}

var errRefused = errors.New("connection refused")
