package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/transport"
	"github.com/mcdev12/quizsync/go/internal/wire"
)

// SubscriptionChannel subscribes to a lobby topic and turns inbound
// messages into normalized snapshots. Malformed messages are dropped.
type SubscriptionChannel struct {
	lobbyCode       string
	onSnapshot      func(models.LobbySnapshot)
	onProtocolError func(error)

	sub transport.Subscription
}

// NewSubscriptionChannel creates a channel for lobbyCode. Callbacks run on
// the transport's delivery goroutine. onProtocolError may be nil.
func NewSubscriptionChannel(lobbyCode string, onSnapshot func(models.LobbySnapshot), onProtocolError func(error)) *SubscriptionChannel {
	if onProtocolError == nil {
		onProtocolError = func(error) {}
	}
	return &SubscriptionChannel{
		lobbyCode:       lobbyCode,
		onSnapshot:      onSnapshot,
		onProtocolError: onProtocolError,
	}
}

// Attach subscribes on conn and then requests a resync through publisher,
// so a reconnecting client never waits for the next organic push.
func (c *SubscriptionChannel) Attach(ctx context.Context, conn transport.Conn, publisher *ActionPublisher) error {
	c.Detach()

	sub, err := conn.Subscribe(transport.LobbyTopic(c.lobbyCode), c.handle)
	if err != nil {
		return &models.TransportError{Op: "subscribe", Err: err}
	}
	c.sub = sub

	if err := publisher.Resync(ctx, c.lobbyCode); err != nil {
		return fmt.Errorf("resync after subscribe: %w", err)
	}

	log.Info().
		Str("lobby_code", c.lobbyCode).
		Str("connection_id", conn.ID()).
		Msg("subscribed to lobby, resync requested")
	return nil
}

// Detach unsubscribes. It is safe to call when not attached.
func (c *SubscriptionChannel) Detach() {
	if c.sub == nil {
		return
	}
	if err := c.sub.Unsubscribe(); err != nil && !errors.Is(err, transport.ErrClosed) {
		log.Debug().Err(err).Str("lobby_code", c.lobbyCode).Msg("unsubscribe failed")
	}
	c.sub = nil
}

func (c *SubscriptionChannel) handle(msg transport.Message) {
	snapshot, err := wire.DecodeSnapshot(c.lobbyCode, msg.Body)
	if err != nil {
		log.Warn().
			Err(err).
			Str("lobby_code", c.lobbyCode).
			Int("bytes", len(msg.Body)).
			Msg("dropping malformed lobby message")
		c.onProtocolError(err)
		return
	}
	c.onSnapshot(snapshot)
}
