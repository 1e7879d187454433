package main

import (
	"fmt"

	"github.com/mcdev12/quizsync/go/clients"
	"github.com/mcdev12/quizsync/go/internal/gateway"
	"github.com/mcdev12/quizsync/go/internal/identity"
	"github.com/mcdev12/quizsync/go/internal/lobby"
	"github.com/mcdev12/quizsync/go/internal/roundtimer"
)

type Services struct {
	Identities *identity.IdentityStore
	Lobbies    *clients.LobbyClient
	Players    *clients.PlayerClient
	Questions  *clients.QuestionClient
	Metrics    *gateway.CounterMetrics
	Feed       *roundtimer.Feed
	Lobby      *lobby.App
}

func setupServices(config *Config, hooks gateway.Hooks) (*Services, error) {
	// Wire up dependency injection chain
	// Identity stores → REST clients → transport → lobby app

	var durable identity.Store
	if config.Identity.StateFile != "" {
		fs, err := identity.NewFileStore(config.Identity.StateFile)
		if err != nil {
			return nil, err
		}
		durable = fs
	}
	identities := identity.NewIdentityStore(identity.NewMemoryStore(), durable)

	lobbies := clients.NewLobbyClient(config.API.BaseURL)
	players := clients.NewPlayerClient(config.API.BaseURL)
	questions := clients.NewQuestionClient(config.API.BaseURL)
	if config.API.Timeout > 0 {
		lobbies.SetTimeout(config.API.Timeout)
		players.SetTimeout(config.API.Timeout)
		questions.SetTimeout(config.API.Timeout)
	}

	dialer, err := config.dialer()
	if err != nil {
		return nil, fmt.Errorf("failed to set up transport: %w", err)
	}

	metrics := gateway.NewCounterMetrics()
	feed := roundtimer.NewFeed()

	app := lobby.NewApp(identities, players, lobbies, dialer, gateway.SessionConfig{
		TickInterval: config.Timer.Tick,
		Reconnect:    config.reconnect(),
		Metrics:      metrics,
		Feed:         feed,
		Hooks:        hooks,
	})

	return &Services{
		Identities: identities,
		Lobbies:    lobbies,
		Players:    players,
		Questions:  questions,
		Metrics:    metrics,
		Feed:       feed,
		Lobby:      app,
	}, nil
}
