package wire

import (
	"encoding/json"
	"strings"

	"github.com/mcdev12/quizsync/go/internal/models"
)

// LobbyInfo is a lobby as returned by the lobby REST endpoints. Snapshot
// seeds the reconciler before the transport connects.
type LobbyInfo struct {
	// ID is nil when the lobby was closed because the last player left.
	ID         *int64
	LobbyCode  string
	MaxPlayers int
	Locked     bool
	Snapshot   models.LobbySnapshot
}

// DecodeLobby decodes a lobby REST response. A missing gameState means a
// freshly created lobby and is treated as WAITING.
func DecodeLobby(data []byte) (LobbyInfo, error) {
	var w SnapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return LobbyInfo{}, &models.ProtocolError{Reason: "invalid json", Err: err}
	}
	if strings.TrimSpace(w.GameState) == "" {
		w.GameState = string(models.GamePhaseWaiting)
	}
	if len(w.Players) == 0 {
		w.Players = json.RawMessage("[]")
	}

	snap, err := w.Normalize(w.LobbyCode)
	if err != nil {
		return LobbyInfo{}, err
	}

	info := LobbyInfo{
		LobbyCode:  snap.LobbyCode,
		MaxPlayers: int(w.MaxPlayer.Or(models.LobbyCapacity)),
		Locked:     w.Lock.Value,
		Snapshot:   snap,
	}
	if w.ID.Set {
		id := w.ID.Value
		info.ID = &id
	}
	return info, nil
}

// PlayerCreated is the player-creation response.
type PlayerCreated struct {
	ID         FlexInt `json:"id"`
	PlayerName string  `json:"playerName"`
}

// DecodePlayerCreated decodes the player-creation response into an identity.
func DecodePlayerCreated(data []byte) (models.Identity, error) {
	var w PlayerCreated
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Identity{}, &models.ProtocolError{Reason: "invalid json", Err: err}
	}
	if !w.ID.Set || w.ID.Value <= 0 {
		return models.Identity{}, &models.ProtocolError{Reason: "missing player id"}
	}
	return models.Identity{PlayerID: w.ID.Value, PlayerName: w.PlayerName}, nil
}
