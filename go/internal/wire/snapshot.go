// Package wire is the single ingestion boundary between the server's JSON
// payloads and the canonical models. Everything above this package sees one
// normalized shape only.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/quizsync/go/internal/models"
)

// PlayerWire is a player as the server sends it. The host flag has been seen
// under both "isHost" and "host".
type PlayerWire struct {
	ID         FlexInt  `json:"id"`
	PlayerName *string  `json:"playerName"`
	IsHost     FlexBool `json:"isHost"`
	Host       FlexBool `json:"host"`
	Ready      FlexBool `json:"ready"`
	Score      FlexInt  `json:"score"`
	Answered   FlexBool `json:"answered"`
	Correct    FlexBool `json:"correct"`
}

// RoundWire is the round section of a snapshot.
type RoundWire struct {
	QuestionID    FlexInt `json:"questionId"`
	Index         FlexInt `json:"index"`
	Total         FlexInt `json:"total"`
	Phase         string  `json:"phase"`
	EndsAt        FlexInt `json:"endsAt"` // epoch millis
	AnsweredCount FlexInt `json:"answeredCount"`
}

// SnapshotWire is the payload pushed on /lobby/{code}. The REST lobby
// endpoints return the same shape plus the lobby metadata fields.
type SnapshotWire struct {
	ID        FlexInt         `json:"id"`
	LobbyCode string          `json:"lobbyCode"`
	MaxPlayer FlexInt         `json:"maxPlayer"`
	Lock      FlexBool        `json:"lock"`
	Players   json.RawMessage `json:"players"`
	GameState string          `json:"gameState"`
	Round     *RoundWire      `json:"round"`
}

// DecodeSnapshot decodes a pushed snapshot for lobbyCode. Any failure is a
// *models.ProtocolError; the caller keeps its previous state.
func DecodeSnapshot(lobbyCode string, data []byte) (models.LobbySnapshot, error) {
	var w SnapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return models.LobbySnapshot{}, &models.ProtocolError{Reason: "invalid json", Err: err}
	}
	if strings.TrimSpace(w.GameState) == "" {
		return models.LobbySnapshot{}, &models.ProtocolError{Reason: "missing gameState"}
	}
	return w.Normalize(lobbyCode)
}

// Normalize converts the wire payload into the canonical snapshot and
// validates it.
func (w SnapshotWire) Normalize(lobbyCode string) (models.LobbySnapshot, error) {
	if len(bytes.TrimSpace(w.Players)) == 0 {
		return models.LobbySnapshot{}, &models.ProtocolError{Reason: "missing players"}
	}
	var rawPlayers []PlayerWire
	if err := json.Unmarshal(w.Players, &rawPlayers); err != nil {
		return models.LobbySnapshot{}, &models.ProtocolError{Reason: "invalid players", Err: err}
	}

	code := models.NormalizeLobbyCode(lobbyCode)
	if code == "" {
		code = models.NormalizeLobbyCode(w.LobbyCode)
	}

	phase, err := normalizeGamePhase(w.GameState)
	if err != nil {
		return models.LobbySnapshot{}, &models.ProtocolError{Reason: "invalid gameState", Err: err}
	}

	snap := models.LobbySnapshot{
		LobbyCode: code,
		Players:   make([]models.PlayerState, 0, len(rawPlayers)),
		Phase:     phase,
	}
	for i, p := range rawPlayers {
		player, err := p.normalize()
		if err != nil {
			return models.LobbySnapshot{}, &models.ProtocolError{Reason: fmt.Sprintf("player %d", i), Err: err}
		}
		snap.Players = append(snap.Players, player)
	}

	// A round only exists while a game is running; stray rounds are dropped.
	if phase == models.GamePhaseInGame {
		if w.Round == nil {
			return models.LobbySnapshot{}, &models.ProtocolError{Reason: "IN_GAME snapshot without round"}
		}
		round, err := w.Round.normalize()
		if err != nil {
			return models.LobbySnapshot{}, &models.ProtocolError{Reason: "invalid round", Err: err}
		}
		snap.Round = &round
	}

	if err := snap.Validate(); err != nil {
		return models.LobbySnapshot{}, &models.ProtocolError{Reason: "invalid snapshot", Err: err}
	}
	return snap, nil
}

func (p PlayerWire) normalize() (models.PlayerState, error) {
	if !p.ID.Set {
		return models.PlayerState{}, fmt.Errorf("missing id")
	}
	if p.PlayerName == nil {
		return models.PlayerState{}, fmt.Errorf("missing playerName")
	}

	host := p.IsHost
	if !host.Set {
		host = p.Host
	}

	score := int(p.Score.Or(0))
	if score < 0 {
		score = 0
	}

	result := models.AnswerUnknown
	if p.Correct.Set {
		if p.Correct.Value {
			result = models.AnswerCorrect
		} else {
			result = models.AnswerIncorrect
		}
	}

	return models.PlayerState{
		ID:          p.ID.Value,
		DisplayName: *p.PlayerName,
		IsHost:      host.Value,
		Ready:       p.Ready.Value,
		Score:       score,
		HasAnswered: p.Answered.Value,
		LastAnswer:  result,
	}, nil
}

func (r RoundWire) normalize() (models.RoundState, error) {
	switch {
	case !r.QuestionID.Set:
		return models.RoundState{}, fmt.Errorf("missing questionId")
	case !r.Index.Set:
		return models.RoundState{}, fmt.Errorf("missing index")
	case !r.Total.Set:
		return models.RoundState{}, fmt.Errorf("missing total")
	case !r.EndsAt.Set:
		return models.RoundState{}, fmt.Errorf("missing endsAt")
	}

	phase, err := normalizeRoundPhase(r.Phase)
	if err != nil {
		return models.RoundState{}, err
	}

	answered := int(r.AnsweredCount.Or(0))
	if answered < 0 {
		answered = 0
	}

	return models.RoundState{
		QuestionID:    r.QuestionID.Value,
		Index:         int(r.Index.Value),
		Total:         int(r.Total.Value),
		Phase:         phase,
		Deadline:      time.UnixMilli(r.EndsAt.Value),
		AnsweredCount: answered,
	}, nil
}

func normalizeGamePhase(s string) (models.GamePhase, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WAITING":
		return models.GamePhaseWaiting, nil
	case "IN_GAME", "IN_PROGRESS":
		return models.GamePhaseInGame, nil
	case "FINISHED":
		return models.GamePhaseFinished, nil
	}
	return "", fmt.Errorf("unknown game state %q", s)
}

func normalizeRoundPhase(s string) (models.RoundPhase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "question":
		return models.RoundPhaseQuestion, nil
	case "answer", "answer_reveal", "reveal":
		return models.RoundPhaseAnswerReveal, nil
	}
	return "", fmt.Errorf("unknown round phase %q", s)
}
