// Package roundtimer derives the visible countdown for a round from the
// server deadline. The server deadline is authoritative; the client only
// renders it.
package roundtimer

import (
	"time"

	"github.com/mcdev12/quizsync/go/internal/models"
)

const (
	// CriticalSeconds is the threshold at or below which a QUESTION
	// countdown is flagged critical.
	CriticalSeconds = 3

	// DefaultTick is the recompute interval for a smooth countdown.
	DefaultTick = 250 * time.Millisecond
)

// State is a point-in-time reading of the round countdown.
type State struct {
	Active     bool              `json:"active"`
	QuestionID int64             `json:"question_id,omitempty"`
	Index      int               `json:"index"`
	Total      int               `json:"total"`
	Phase      models.RoundPhase `json:"phase,omitempty"`
	Deadline   time.Time         `json:"deadline,omitzero"`
	Remaining  int               `json:"remaining_seconds"`
	Critical   bool              `json:"critical"`
	// Baseline is the remaining seconds when the current round baseline
	// was set. Useful for progress bars.
	Baseline int `json:"baseline_seconds"`
}

// Timer tracks the current round baseline. It is not safe for concurrent
// use; the owning goroutine resets and reads it.
type Timer struct {
	round    *models.RoundState
	baseline int
	critical int
}

// New creates a timer with the default critical threshold.
func New() *Timer {
	return &Timer{critical: CriticalSeconds}
}

// Reset installs round as the countdown source and reports whether the
// baseline moved. A nil round stops the countdown.
func (t *Timer) Reset(round *models.RoundState, now time.Time) bool {
	switch {
	case round == nil && t.round == nil:
		return false
	case round == nil:
		t.round = nil
		t.baseline = 0
		return true
	case t.round != nil && t.round.SameBaseline(*round):
		// Same question, phase and deadline: keep counting, refresh the rest.
		r := *round
		t.round = &r
		return false
	}

	r := *round
	t.round = &r
	t.baseline = Remaining(r.Deadline, now)
	return true
}

// Active reports whether a round is being counted down.
func (t *Timer) Active() bool { return t.round != nil }

// RemainingSeconds returns whole seconds left, rounded up and clamped at 0.
func (t *Timer) RemainingSeconds(now time.Time) int {
	if t.round == nil {
		return 0
	}
	return Remaining(t.round.Deadline, now)
}

// IsCritical reports whether a QUESTION countdown is in its last seconds.
func (t *Timer) IsCritical(now time.Time) bool {
	if t.round == nil || t.round.Phase != models.RoundPhaseQuestion {
		return false
	}
	return t.RemainingSeconds(now) <= t.critical
}

// State returns a reading at now.
func (t *Timer) State(now time.Time) State {
	if t.round == nil {
		return State{}
	}
	r := t.round
	return State{
		Active:     true,
		QuestionID: r.QuestionID,
		Index:      r.Index,
		Total:      r.Total,
		Phase:      r.Phase,
		Deadline:   r.Deadline,
		Remaining:  t.RemainingSeconds(now),
		Critical:   t.IsCritical(now),
		Baseline:   t.baseline,
	}
}

// Remaining computes max(0, ceil((deadline-now)/1s)).
func Remaining(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}
