package wire

// Outbound action payloads. The server expects camelCase keys.

type ReadyPayload struct {
	PlayerID int64 `json:"playerId"`
	Ready    bool  `json:"ready"`
}

type StartPayload struct {
	PlayerID int64 `json:"playerId"`
}

type AnswerPayload struct {
	PlayerID   int64  `json:"playerId"`
	QuestionID int64  `json:"questionId"`
	Option     string `json:"option"`
}

// EmptyPayload marshals to {} for resync and resetReady.
type EmptyPayload struct{}

// CreatePlayerRequest is the body of POST /player/create.
type CreatePlayerRequest struct {
	PlayerName string `json:"playerName"`
}
