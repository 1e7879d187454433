package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// LobbyCapacity is the fixed number of seats in a lobby.
const LobbyCapacity = 4

// GamePhase defines the lifecycle phase of a lobby.
type GamePhase string

const (
	GamePhaseWaiting  GamePhase = "WAITING"
	GamePhaseInGame   GamePhase = "IN_GAME"
	GamePhaseFinished GamePhase = "FINISHED"
)

// Valid reports whether p is one of the known phases.
func (p GamePhase) Valid() bool {
	switch p {
	case GamePhaseWaiting, GamePhaseInGame, GamePhaseFinished:
		return true
	}
	return false
}

// RoundPhase defines the sub-state of a round.
type RoundPhase string

const (
	RoundPhaseQuestion     RoundPhase = "QUESTION"
	RoundPhaseAnswerReveal RoundPhase = "ANSWER_REVEAL"
)

// AnswerResult is the tri-state outcome of a player's last answer.
type AnswerResult int

const (
	AnswerUnknown AnswerResult = iota
	AnswerCorrect
	AnswerIncorrect
)

func (a AnswerResult) String() string {
	switch a {
	case AnswerCorrect:
		return "correct"
	case AnswerIncorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

// PlayerState is one seat in a lobby as reported by the server.
type PlayerState struct {
	ID          int64        `json:"id"`
	DisplayName string       `json:"display_name"`
	IsHost      bool         `json:"is_host"`
	Ready       bool         `json:"ready"`
	Score       int          `json:"score"`
	HasAnswered bool         `json:"has_answered"`
	LastAnswer  AnswerResult `json:"last_answer"`
}

// RoundState describes the active round while a game is in progress.
type RoundState struct {
	QuestionID    int64      `json:"question_id"`
	Index         int        `json:"index"`
	Total         int        `json:"total"`
	Phase         RoundPhase `json:"phase"`
	Deadline      time.Time  `json:"deadline"`
	AnsweredCount int        `json:"answered_count"`
}

// IsLast reports whether this is the final round of the session.
func (r RoundState) IsLast() bool {
	return r.Index == r.Total-1
}

// SameBaseline reports whether two rounds share question, phase and deadline.
// A countdown started for one is still valid for the other.
func (r RoundState) SameBaseline(o RoundState) bool {
	return r.QuestionID == o.QuestionID && r.Phase == o.Phase && r.Deadline.Equal(o.Deadline)
}

// LobbySnapshot is the complete, authoritative state of a lobby.
type LobbySnapshot struct {
	LobbyCode string        `json:"lobby_code"`
	Players   []PlayerState `json:"players"`
	Phase     GamePhase     `json:"phase"`
	Round     *RoundState   `json:"round,omitempty"`
}

// InGame returns the active round if the lobby is in a game.
func (s LobbySnapshot) InGame() (RoundState, bool) {
	if s.Phase != GamePhaseInGame || s.Round == nil {
		return RoundState{}, false
	}
	return *s.Round, true
}

// Player looks up a player by id.
func (s LobbySnapshot) Player(id int64) (PlayerState, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerState{}, false
}

// Clone returns a deep copy so callers never share the player slice or round.
func (s LobbySnapshot) Clone() LobbySnapshot {
	out := LobbySnapshot{
		LobbyCode: s.LobbyCode,
		Phase:     s.Phase,
	}
	if s.Players != nil {
		out.Players = make([]PlayerState, len(s.Players))
		copy(out.Players, s.Players)
	}
	if s.Round != nil {
		r := *s.Round
		out.Round = &r
	}
	return out
}

// Validate checks the structural invariants of a snapshot.
func (s LobbySnapshot) Validate() error {
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown game phase %q", s.Phase)
	}
	if len(s.Players) > LobbyCapacity {
		return fmt.Errorf("%d players exceeds capacity %d", len(s.Players), LobbyCapacity)
	}
	seen := make(map[int64]struct{}, len(s.Players))
	for _, p := range s.Players {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate player id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	switch {
	case s.Phase == GamePhaseInGame && s.Round == nil:
		return fmt.Errorf("phase %s requires a round", s.Phase)
	case s.Phase != GamePhaseInGame && s.Round != nil:
		return fmt.Errorf("phase %s must not carry a round", s.Phase)
	}

	if r := s.Round; r != nil {
		if r.Total <= 0 || r.Index < 0 || r.Index >= r.Total {
			return fmt.Errorf("round index %d out of range for total %d", r.Index, r.Total)
		}
		if r.Phase != RoundPhaseQuestion && r.Phase != RoundPhaseAnswerReveal {
			return fmt.Errorf("unknown round phase %q", r.Phase)
		}
	}
	return nil
}

// NormalizeLobbyCode strips whitespace and upper-cases a lobby code.
func NormalizeLobbyCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
