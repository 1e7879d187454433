package models

// DefaultPlayerName is used when no name can be resolved.
const DefaultPlayerName = "Player"

// Identity is the local participant for the lifetime of a session.
type Identity struct {
	PlayerID   int64  `json:"player_id" yaml:"player_id"`
	PlayerName string `json:"player_name" yaml:"player_name"`
}

// HasID reports whether the identity carries a server-issued player id.
func (i Identity) HasID() bool {
	return i.PlayerID > 0
}
