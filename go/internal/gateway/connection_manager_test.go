package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/transport"
)

func TestReconnectConfigDelay(t *testing.T) {
	cfg := DefaultReconnectConfig()
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for attempt, w := range want {
		assert.Equal(t, w, cfg.Delay(attempt), "attempt %d", attempt)
	}

	fixed := ReconnectConfig{InitialDelay: time.Second, Multiplier: 1}
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, time.Second, fixed.Delay(attempt))
	}

	assert.Equal(t, time.Second, ReconnectConfig{}.Delay(0))
}

func TestConnectionManagerBackoffAndReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	conn := newFakeConn("c1")
	dialer := newFakeDialer(
		dialResult{err: errRefused},
		dialResult{err: errRefused},
		dialResult{conn: conn},
		dialResult{err: errRefused},
	)
	metrics := NewCounterMetrics()

	cm := NewConnectionManager(dialer, clock, DefaultReconnectConfig())
	cm.SetMetrics(metrics)
	connected := make(chan transport.Conn, 1)
	disconnected := make(chan error, 1)
	cm.OnConnected(func(c transport.Conn) { connected <- c })
	cm.OnDisconnected(func(err error) { disconnected <- err })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cm.Run(ctx) }()

	wait, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()

	// First failure waits 1s, second 2s.
	dialer.waitDial(t)
	require.NoError(t, clock.BlockUntilContext(wait, 1))
	clock.Advance(999 * time.Millisecond)
	select {
	case <-dialer.dials:
		t.Fatal("redialed before the backoff elapsed")
	default:
	}
	clock.Advance(time.Millisecond)
	dialer.waitDial(t)

	require.NoError(t, clock.BlockUntilContext(wait, 1))
	clock.Advance(2 * time.Second)
	dialer.waitDial(t)

	select {
	case c := <-connected:
		assert.Equal(t, "c1", c.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("not connected")
	}

	conn.drop(errors.New("eof"))
	select {
	case err := <-disconnected:
		var terr *models.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "receive", terr.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}

	// Backoff restarts at 1s after a successful connection.
	require.NoError(t, clock.BlockUntilContext(wait, 1))
	clock.Advance(time.Second)
	dialer.waitDial(t)
	require.NoError(t, clock.BlockUntilContext(wait, 1))

	stats := metrics.Stats()
	assert.Equal(t, int64(1), stats.Connects)
	assert.Equal(t, int64(3), stats.ConnectFailures)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestConnectionManagerClosesOnCancel(t *testing.T) {
	conn := newFakeConn("c1")
	cm := NewConnectionManager(newFakeDialer(dialResult{conn: conn}), clockwork.NewFakeClock(), DefaultReconnectConfig())
	connected := make(chan struct{}, 1)
	cm.OnConnected(func(transport.Conn) { connected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cm.Run(ctx) }()

	<-connected
	cancel()
	require.NoError(t, <-done)
	assert.True(t, conn.closed())
}
