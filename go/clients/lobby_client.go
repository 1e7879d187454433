package clients

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mcdev12/quizsync/go/internal/wire"
)

// LobbyClient calls the lobby lifecycle endpoints. Every response is
// decoded through wire so the seed snapshot is normalized exactly like a
// pushed one.
type LobbyClient struct {
	*BaseClient
}

func NewLobbyClient(baseURL string) *LobbyClient {
	return &LobbyClient{BaseClient: NewBaseClient(baseURL)}
}

// Create opens a new lobby hosted by playerID.
func (c *LobbyClient) Create(ctx context.Context, playerID int64) (wire.LobbyInfo, error) {
	return c.lobby(ctx, "/lobby/create/"+strconv.FormatInt(playerID, 10), true)
}

// Join adds playerID to the lobby with code.
func (c *LobbyClient) Join(ctx context.Context, code string, playerID int64) (wire.LobbyInfo, error) {
	return c.lobby(ctx, "/lobby/join/"+url.PathEscape(code)+"/"+strconv.FormatInt(playerID, 10), true)
}

// Find fetches a lobby by its numeric id.
func (c *LobbyClient) Find(ctx context.Context, lobbyID int64) (wire.LobbyInfo, error) {
	return c.lobby(ctx, "/lobby/find/"+strconv.FormatInt(lobbyID, 10), false)
}

// Leave removes playerID from the lobby. The returned ID is nil when the
// lobby closed because it became empty.
func (c *LobbyClient) Leave(ctx context.Context, code string, playerID int64) (wire.LobbyInfo, error) {
	return c.lobby(ctx, "/lobby/leave/"+url.PathEscape(code)+"/"+strconv.FormatInt(playerID, 10), true)
}

// ResetReady clears every ready flag in the lobby.
func (c *LobbyClient) ResetReady(ctx context.Context, code string) error {
	if _, err := c.Post(ctx, "/lobby/"+url.PathEscape(code)+"/ready/reset", nil); err != nil {
		return fmt.Errorf("failed to reset ready: %w", err)
	}
	return nil
}

func (c *LobbyClient) lobby(ctx context.Context, endpoint string, post bool) (wire.LobbyInfo, error) {
	var (
		body []byte
		err  error
	)
	if post {
		body, err = c.Post(ctx, endpoint, nil)
	} else {
		body, err = c.Get(ctx, endpoint)
	}
	if err != nil {
		return wire.LobbyInfo{}, err
	}

	info, err := wire.DecodeLobby(body)
	if err != nil {
		return wire.LobbyInfo{}, fmt.Errorf("failed to decode lobby from %s: %w", endpoint, err)
	}
	return info, nil
}
