package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/wire"
)

// PlayerClient creates server-side players. It satisfies
// identity.PlayerCreator.
type PlayerClient struct {
	*BaseClient
}

func NewPlayerClient(baseURL string) *PlayerClient {
	return &PlayerClient{BaseClient: NewBaseClient(baseURL)}
}

// CreatePlayer registers a player named name.
func (c *PlayerClient) CreatePlayer(ctx context.Context, name string) (models.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.DefaultPlayerName
	}

	payload, err := json.Marshal(wire.CreatePlayerRequest{PlayerName: name})
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.Post(ctx, "/player/create", bytes.NewReader(payload))
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to create player: %w", err)
	}

	id, err := wire.DecodePlayerCreated(body)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to decode player: %w", err)
	}
	if id.PlayerName == "" {
		id.PlayerName = name
	}
	return id, nil
}
