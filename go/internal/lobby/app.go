// Package lobby drives the lobby lifecycle around a gateway.Session: it
// resolves the local identity, seeds the session from the REST response and
// tears everything down again on leave.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/mcdev12/quizsync/go/internal/gateway"
	"github.com/mcdev12/quizsync/go/internal/identity"
	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/transport"
	"github.com/mcdev12/quizsync/go/internal/wire"
)

var (
	// ErrAlreadyInLobby is returned by Create and Join while a session is active.
	ErrAlreadyInLobby = errors.New("already in a lobby")
	// ErrNotInLobby is returned by Leave without an active session.
	ErrNotInLobby = errors.New("not in a lobby")
)

// LobbyAPI defines what the app needs from the lobby REST endpoints
type LobbyAPI interface {
	Create(ctx context.Context, playerID int64) (wire.LobbyInfo, error)
	Join(ctx context.Context, code string, playerID int64) (wire.LobbyInfo, error)
	Leave(ctx context.Context, code string, playerID int64) (wire.LobbyInfo, error)
}

// App handles the lobby lifecycle for one local player
type App struct {
	identities *identity.IdentityStore
	players    identity.PlayerCreator
	lobbies    LobbyAPI
	dialer     transport.Dialer
	template   gateway.SessionConfig

	mu      sync.Mutex
	session *gateway.Session
}

// NewApp creates a new lobby App. template is copied for every session;
// its LobbyCode and PlayerID are filled in per lobby.
func NewApp(identities *identity.IdentityStore, players identity.PlayerCreator, lobbies LobbyAPI, dialer transport.Dialer, template gateway.SessionConfig) *App {
	return &App{
		identities: identities,
		players:    players,
		lobbies:    lobbies,
		dialer:     dialer,
		template:   template,
	}
}

// Create creates a lobby hosted by the local player and returns a seeded
// session. The caller runs it.
func (a *App) Create(ctx context.Context, name string) (*gateway.Session, error) {
	return a.enter(ctx, name, func(id models.Identity) (wire.LobbyInfo, error) {
		info, err := a.lobbies.Create(ctx, id.PlayerID)
		if err != nil {
			return wire.LobbyInfo{}, fmt.Errorf("failed to create lobby: %w", err)
		}
		return info, nil
	})
}

// Join joins the lobby with the given code and returns a seeded session.
// The caller runs it.
func (a *App) Join(ctx context.Context, code, name string) (*gateway.Session, error) {
	code = models.NormalizeLobbyCode(code)
	if code == "" {
		return nil, errors.New("lobby code is required")
	}
	return a.enter(ctx, name, func(id models.Identity) (wire.LobbyInfo, error) {
		info, err := a.lobbies.Join(ctx, code, id.PlayerID)
		if err != nil {
			return wire.LobbyInfo{}, fmt.Errorf("failed to join lobby %s: %w", code, err)
		}
		if info.LobbyCode == "" {
			info.LobbyCode = code
		}
		return info, nil
	})
}

func (a *App) enter(ctx context.Context, name string, seed func(models.Identity) (wire.LobbyInfo, error)) (*gateway.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return nil, ErrAlreadyInLobby
	}

	id, err := a.identities.Ensure(ctx, name, a.players)
	if err != nil {
		return nil, err
	}

	info, err := seed(id)
	if err != nil {
		return nil, err
	}
	info.LobbyCode = models.NormalizeLobbyCode(info.LobbyCode)
	if info.LobbyCode == "" {
		return nil, &models.ProtocolError{Reason: "lobby response without lobbyCode"}
	}

	config := a.template
	config.LobbyCode = info.LobbyCode
	config.PlayerID = id.PlayerID
	session := gateway.NewSession(a.dialer, config)
	if err := session.Seed(info.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to seed lobby %s: %w", info.LobbyCode, err)
	}
	a.session = session

	log.Info().
		Str("lobby_code", session.LobbyCode()).
		Int64("player_id", id.PlayerID).
		Int("players", len(info.Snapshot.Players)).
		Msg("entered lobby")
	return session, nil
}

// Session returns the active session, if any.
func (a *App) Session() (*gateway.Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session, a.session != nil
}

// CurrentView returns the active session's view.
func (a *App) CurrentView() (gateway.View, bool) {
	session, ok := a.Session()
	if !ok {
		return gateway.View{}, false
	}
	return session.View(), true
}

// Leave leaves the active lobby. The REST leave is only sent while the lobby
// is still WAITING; mid-game the player just disconnects. The session is
// stopped and the identity cleared even when the REST call fails.
func (a *App) Leave(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()
	if session == nil {
		return ErrNotInLobby
	}

	view := session.View()
	var err error
	if view.Snapshot.Phase == models.GamePhaseWaiting {
		if _, leaveErr := a.lobbies.Leave(ctx, view.LobbyCode, view.PlayerID); leaveErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to leave lobby %s: %w", view.LobbyCode, leaveErr))
		}
	}

	session.Leave()
	select {
	case <-session.Done():
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	err = multierr.Append(err, a.identities.Clear())

	log.Info().
		Str("lobby_code", view.LobbyCode).
		Int64("player_id", view.PlayerID).
		Err(err).
		Msg("left lobby")
	return err
}
