package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig holds configuration for the STOMP over websocket transport
type WebSocketConfig struct {
	URL              string
	Host             string // STOMP virtual host, defaults to the URL host
	Login            string
	Passcode         string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultWebSocketConfig returns default websocket configuration for url
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}

// WebSocketDialer opens STOMP 1.2 sessions over a websocket.
type WebSocketDialer struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for config.URL.
func NewWebSocketDialer(config WebSocketConfig) *WebSocketDialer {
	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// Dial connects the websocket and completes the STOMP CONNECT handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.config.URL, d.config.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.config.URL, err)
	}
	if d.config.MaxMessageSize > 0 {
		ws.SetReadLimit(d.config.MaxMessageSize)
	}

	host := d.config.Host
	if host == "" {
		if u, err := url.Parse(d.config.URL); err == nil {
			host = u.Hostname()
		}
	}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1,1.0",
		frame.Host, host,
		frame.HeartBeat, "0,0",
	)
	if d.config.Login != "" {
		connect.Header.Add(frame.Login, d.config.Login)
		connect.Header.Add(frame.Passcode, d.config.Passcode)
	}
	payload, err := encodeFrame(connect)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("encode CONNECT: %w", err)
	}

	deadline := time.Now().Add(d.config.HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	ws.SetReadDeadline(deadline)
	connected, err := readHandshake(ws)
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetReadDeadline(time.Time{})

	c := &stompConn{
		id:     uuid.New().String()[:8],
		ws:     ws,
		config: d.config,
		subs:   make(map[string]Handler),
		done:   make(chan struct{}),
	}

	log.Debug().
		Str("connection_id", c.id).
		Str("url", d.config.URL).
		Str("stomp_version", connected.Header.Get(frame.Version)).
		Msg("STOMP session established")

	go c.readLoop()
	return c, nil
}

func readHandshake(ws *websocket.Conn) (*frame.Frame, error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read CONNECTED: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return nil, fmt.Errorf("parse CONNECTED: %w", err)
		}
		if len(frames) == 0 {
			continue // heart-beat
		}
		f := frames[0]
		switch f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return nil, fmt.Errorf("broker refused connection: %s", f.Header.Get(frame.Message))
		default:
			return nil, fmt.Errorf("unexpected %s frame during handshake", f.Command)
		}
	}
}

// stompConn is a STOMP session on one websocket.
type stompConn struct {
	id     string
	ws     *websocket.Conn
	config WebSocketConfig

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	subs    map[string]Handler
	nextSub int
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func (c *stompConn) ID() string { return c.id }

func (c *stompConn) Done() <-chan struct{} { return c.done }

func (c *stompConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *stompConn) Subscribe(destination string, handler Handler) (Subscription, error) {
	c.mu.Lock()
	c.nextSub++
	id := "sub-" + strconv.Itoa(c.nextSub)
	c.subs[id] = handler
	c.mu.Unlock()

	sub := frame.New(frame.SUBSCRIBE, frame.Id, id, frame.Destination, destination, frame.Ack, "auto")
	if err := c.write(context.Background(), sub); err != nil {
		c.removeSub(id)
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}

	log.Debug().
		Str("connection_id", c.id).
		Str("subscription", id).
		Str("destination", destination).
		Msg("subscribed")
	return &stompSubscription{conn: c, id: id}, nil
}

func (c *stompConn) Publish(ctx context.Context, msg Message) error {
	send := frame.New(frame.SEND,
		frame.Destination, msg.Destination,
		frame.ContentType, "application/json",
		frame.ContentLength, strconv.Itoa(len(msg.Body)),
	)
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		send.Header.Add(k, msg.Headers[k])
	}
	send.Body = msg.Body

	if err := c.write(ctx, send); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Destination, err)
	}
	return nil
}

func (c *stompConn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	// Best effort: the broker may already be gone.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.write(ctx, frame.New(frame.DISCONNECT)); err != nil {
		log.Debug().Err(err).Str("connection_id", c.id).Msg("failed to send DISCONNECT")
	}
	c.fail(ErrClosed)
	return nil
}

func (c *stompConn) write(ctx context.Context, f *frame.Frame) error {
	payload, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Command, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *stompConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			c.fail(err)
			return
		}

		frames, err := decodeFrames(data)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", c.id).Msg("dropping unreadable frame")
		}
		for _, f := range frames {
			if !c.dispatch(f) {
				return
			}
		}
	}
}

// dispatch handles one inbound frame and reports whether to keep reading.
func (c *stompConn) dispatch(f *frame.Frame) bool {
	switch f.Command {
	case frame.MESSAGE:
		subID := f.Header.Get(frame.Subscription)
		c.mu.Lock()
		handler := c.subs[subID]
		c.mu.Unlock()
		if handler == nil {
			log.Debug().Str("connection_id", c.id).Str("subscription", subID).Msg("message for unknown subscription")
			return true
		}
		handler(Message{Destination: f.Header.Get(frame.Destination), Headers: headerMap(f.Header), Body: f.Body})

	case frame.ERROR:
		c.fail(fmt.Errorf("broker error: %s", f.Header.Get(frame.Message)))
		return false

	case frame.RECEIPT, frame.CONNECTED:
		// nothing to do

	default:
		log.Debug().Str("connection_id", c.id).Str("command", f.Command).Msg("ignoring frame")
	}
	return true
}

func (c *stompConn) fail(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		c.mu.Lock()
		c.err = err
		c.subs = make(map[string]Handler)
		c.mu.Unlock()
		close(c.done)
		if cerr := c.ws.Close(); cerr != nil && !errors.Is(err, ErrClosed) {
			log.Debug().Err(cerr).Str("connection_id", c.id).Msg("websocket close")
		}
	})
}

func (c *stompConn) removeSub(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

type stompSubscription struct {
	conn *stompConn
	id   string
}

func (s *stompSubscription) Unsubscribe() error {
	if !s.conn.removeSub(s.id) {
		return nil
	}
	err := s.conn.write(context.Background(), frame.New(frame.UNSUBSCRIBE, frame.Id, s.id))
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
