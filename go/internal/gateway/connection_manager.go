package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/transport"
)

// ReconnectConfig holds the backoff policy for redialing
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // 1 gives a fixed delay
}

// DefaultReconnectConfig returns the default backoff: 1s doubling up to 30s
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (c ReconnectConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// ConnectionManager owns the transport connection: it dials, watches the
// live connection and redials with backoff until its context ends. It knows
// nothing about lobbies.
type ConnectionManager struct {
	dialer  transport.Dialer
	clock   clockwork.Clock
	config  ReconnectConfig
	metrics MetricsCollector

	onConnected    func(transport.Conn)
	onDisconnected func(error)
}

// NewConnectionManager creates a connection manager. A nil clock uses the
// real clock.
func NewConnectionManager(dialer transport.Dialer, clock clockwork.Clock, config ReconnectConfig) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		dialer:         dialer,
		clock:          clock,
		config:         config,
		metrics:        &NoOpMetricsCollector{},
		onConnected:    func(transport.Conn) {},
		onDisconnected: func(error) {},
	}
}

// OnConnected registers the callback run on the manager goroutine after
// every successful dial, reconnects included.
func (cm *ConnectionManager) OnConnected(fn func(transport.Conn)) {
	cm.onConnected = fn
}

// OnDisconnected registers the callback run when a live connection drops.
// The error is a *models.TransportError.
func (cm *ConnectionManager) OnDisconnected(fn func(error)) {
	cm.onDisconnected = fn
}

// SetMetrics sets the metrics collector.
func (cm *ConnectionManager) SetMetrics(m MetricsCollector) {
	if m != nil {
		cm.metrics = m
	}
}

// Run dials and keeps a connection alive until ctx is cancelled. It closes
// the live connection and abandons any pending wait on the way out.
func (cm *ConnectionManager) Run(ctx context.Context) error {
	log.Info().Msg("connection manager started")
	defer log.Info().Msg("connection manager stopped")

	attempt := 0
	for {
		start := cm.clock.Now()
		conn, err := cm.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return nil
		}

		if err != nil {
			cm.metrics.RecordConnectAttempt(false, cm.clock.Since(start))
			log.Warn().
				Err(&models.TransportError{Op: "dial", Err: err}).
				Int("attempt", attempt+1).
				Msg("connect failed")
		} else {
			cm.metrics.RecordConnectAttempt(true, cm.clock.Since(start))
			attempt = 0
			log.Info().Str("connection_id", conn.ID()).Msg("connected")

			cm.onConnected(conn)

			select {
			case <-conn.Done():
				terr := &models.TransportError{Op: "receive", Err: conn.Err()}
				log.Warn().Err(terr).Str("connection_id", conn.ID()).Msg("connection lost")
				cm.onDisconnected(terr)
			case <-ctx.Done():
				if cerr := conn.Close(); cerr != nil {
					log.Debug().Err(cerr).Str("connection_id", conn.ID()).Msg("close on shutdown")
				}
				return nil
			}
		}

		delay := cm.config.Delay(attempt)
		attempt++
		cm.metrics.RecordReconnectScheduled(attempt, delay)
		log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("reconnect scheduled")

		timer := cm.clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			return nil
		}
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
