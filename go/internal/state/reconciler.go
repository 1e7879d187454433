// Package state holds the client's reconciled view of a lobby and the
// navigation latches derived from it. Nothing here performs I/O or locks;
// callers own the goroutine.
package state

import (
	"slices"

	"github.com/mcdev12/quizsync/go/internal/models"
)

// Change describes how an applied snapshot differs from the one it replaced.
type Change struct {
	// Duplicate is set when the snapshot equals the previous one exactly.
	Duplicate      bool
	First          bool
	PlayersChanged bool
	PhaseChanged   bool
	// RoundChanged is set when the round appears, disappears or its
	// baseline (question, phase, deadline) moves.
	RoundChanged  bool
	PreviousPhase models.GamePhase
}

// Reconciler keeps the latest authoritative snapshot. Every snapshot
// replaces the previous one wholesale.
type Reconciler struct {
	current   models.LobbySnapshot
	seeded    bool
	connected bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply replaces the current state with snapshot.
func (r *Reconciler) Apply(snapshot models.LobbySnapshot) Change {
	next := snapshot.Clone()
	prev := r.current

	change := Change{PreviousPhase: prev.Phase}
	if !r.seeded {
		change.First = true
		change.PlayersChanged = true
		change.PhaseChanged = true
		change.RoundChanged = next.Round != nil
	} else {
		change.PlayersChanged = !slices.Equal(prev.Players, next.Players)
		change.PhaseChanged = prev.Phase != next.Phase
		change.RoundChanged = !sameBaseline(prev.Round, next.Round)
		change.Duplicate = !change.PlayersChanged && !change.PhaseChanged &&
			prev.LobbyCode == next.LobbyCode && sameRound(prev.Round, next.Round)
	}

	r.current = next
	r.seeded = true
	return change
}

// Current returns a copy of the latest snapshot.
func (r *Reconciler) Current() models.LobbySnapshot {
	return r.current.Clone()
}

func (r *Reconciler) Players() []models.PlayerState {
	return slices.Clone(r.current.Players)
}

func (r *Reconciler) Phase() models.GamePhase {
	return r.current.Phase
}

// Round returns the active round, if any.
func (r *Reconciler) Round() (models.RoundState, bool) {
	return r.current.InGame()
}

// AmIHost reports whether the player with id holds the host flag.
func (r *Reconciler) AmIHost(id int64) bool {
	p, ok := r.current.Player(id)
	return ok && p.IsHost
}

// Me returns the local player's entry.
func (r *Reconciler) Me(id int64) (models.PlayerState, bool) {
	if id <= 0 {
		return models.PlayerState{}, false
	}
	return r.current.Player(id)
}

// SetConnected records transport liveness. The snapshot is kept as is.
func (r *Reconciler) SetConnected(connected bool) (changed bool) {
	changed = r.connected != connected
	r.connected = connected
	return changed
}

func (r *Reconciler) Connected() bool { return r.connected }

// Seeded reports whether any snapshot has been applied.
func (r *Reconciler) Seeded() bool { return r.seeded }

func sameBaseline(a, b *models.RoundState) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.SameBaseline(*b)
}

func sameRound(a, b *models.RoundState) bool {
	if !sameBaseline(a, b) {
		return false
	}
	if a == nil {
		return true
	}
	return a.Index == b.Index && a.Total == b.Total && a.AnsweredCount == b.AnsweredCount
}
