package state

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizsync/go/internal/models"
)

// Transition is a navigation edge fired by the Navigator.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionGameStarted
	TransitionGameFinished
)

func (t Transition) String() string {
	switch t {
	case TransitionGameStarted:
		return "game_started"
	case TransitionGameFinished:
		return "game_finished"
	default:
		return "none"
	}
}

// Navigator fires game-start and game-finish side effects exactly once per
// edge. Both latches re-arm when the lobby returns to WAITING.
type Navigator struct {
	onStarted  func(models.LobbySnapshot)
	onFinished func(models.LobbySnapshot)

	started  bool
	finished bool
}

// NewNavigator creates a navigator. Either callback may be nil.
func NewNavigator(onStarted, onFinished func(models.LobbySnapshot)) *Navigator {
	return &Navigator{onStarted: onStarted, onFinished: onFinished}
}

// Observe inspects a reconciled snapshot and fires at most one side effect.
func (n *Navigator) Observe(snapshot models.LobbySnapshot) Transition {
	switch snapshot.Phase {
	case models.GamePhaseWaiting:
		if n.started || n.finished {
			log.Debug().Str("lobby_code", snapshot.LobbyCode).Msg("lobby back to waiting, navigation re-armed")
		}
		n.started, n.finished = false, false

	case models.GamePhaseInGame:
		if !n.started {
			n.started = true
			if n.onStarted != nil {
				n.onStarted(snapshot)
			}
			return TransitionGameStarted
		}

	case models.GamePhaseFinished:
		if !n.finished {
			n.finished = true
			if n.onFinished != nil {
				n.onFinished(snapshot)
			}
			return TransitionGameFinished
		}
	}
	return TransitionNone
}

// Reset clears both latches.
func (n *Navigator) Reset() {
	n.started, n.finished = false, false
}
