package main

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizsync/go/clients"
	"github.com/mcdev12/quizsync/go/internal/gateway"
	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/roundtimer"
)

var errQuit = errors.New("quit")

// lobbyActions is the part of a session the console drives.
type lobbyActions interface {
	LobbyCode() string
	View() gateway.View
	ToggleReady(ctx context.Context) error
	SetReady(ctx context.Context, ready bool) error
	Start(ctx context.Context) error
	SubmitCurrentAnswer(ctx context.Context, option string) error
	ResetReady(ctx context.Context) error
	Resync(ctx context.Context) error
}

type questionSource interface {
	QuestionAndOptions(ctx context.Context, questionID int64) (clients.Question, error)
	CorrectAnswer(ctx context.Context, questionID int64) (string, error)
}

type readyResetter interface {
	ResetReady(ctx context.Context, code string) error
}

const helpText = `commands:
  ready [on|off]   toggle or set your ready flag
  start            start the game (host only)
  answer <option>  answer the current question
  reset            play again: return the lobby to WAITING
  resync           ask the server for a fresh snapshot
  state            show the lobby
  leave            leave the lobby and forget your player
  quit             disconnect, keep your player`

// console is the terminal front end. Hooks print from the session
// goroutine; round content is fetched on a separate goroutine so the
// session never waits on REST.
type console struct {
	out       io.Writer
	questions questionSource
	lobbies   readyResetter

	mu           sync.Mutex
	lastCritical int

	rounds chan models.RoundState
}

func newConsole(out io.Writer) *console {
	return &console{
		out:    out,
		rounds: make(chan models.RoundState, 8),
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) hooks() gateway.Hooks {
	return gateway.Hooks{
		OnSnapshot: func(v gateway.View) {
			c.printf("[%s] %s: %s", v.LobbyCode, v.Snapshot.Phase, formatPlayers(v.Snapshot, v.PlayerID))
		},
		OnConnectionChange: func(connected bool) {
			if connected {
				c.printf("connected")
			} else {
				c.printf("connection lost, reconnecting...")
			}
		},
		OnGameStarted: func(models.LobbySnapshot) {
			c.printf("game started")
		},
		OnGameFinished: func(s models.LobbySnapshot) {
			c.printf("game finished\n%s", formatStandings(s))
			c.printf("type 'reset' to play again")
		},
		OnRoundChange: func(r models.RoundState) {
			select {
			case c.rounds <- r:
			default:
				log.Warn().Int64("question_id", r.QuestionID).Msg("console busy, dropping round update")
			}
		},
		OnTimer: c.onTimer,
	}
}

// onTimer prints the last seconds of a question countdown, once per second.
func (c *console) onTimer(st roundtimer.State) {
	c.mu.Lock()
	if !st.Critical || st.Remaining == c.lastCritical {
		if !st.Critical {
			c.lastCritical = 0
		}
		c.mu.Unlock()
		return
	}
	c.lastCritical = st.Remaining
	c.mu.Unlock()
	c.printf("%ds left", st.Remaining)
}

// watchRounds fetches question content for every round change.
func (c *console) watchRounds(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-c.rounds:
			c.showRound(ctx, r)
		}
	}
}

func (c *console) showRound(ctx context.Context, r models.RoundState) {
	if c.questions == nil {
		return
	}
	switch r.Phase {
	case models.RoundPhaseQuestion:
		q, err := c.questions.QuestionAndOptions(ctx, r.QuestionID)
		if err != nil {
			log.Warn().Err(err).Int64("question_id", r.QuestionID).Msg("failed to fetch question")
			c.printf("question %d/%d", r.Index+1, r.Total)
			return
		}
		var b strings.Builder
		fmt.Fprintf(&b, "question %d/%d: %s", r.Index+1, r.Total, q.Text)
		for _, opt := range q.Options {
			fmt.Fprintf(&b, "\n  - %s", opt)
		}
		c.printf("%s", b.String())
	case models.RoundPhaseAnswerReveal:
		answer, err := c.questions.CorrectAnswer(ctx, r.QuestionID)
		if err != nil {
			log.Warn().Err(err).Int64("question_id", r.QuestionID).Msg("failed to fetch correct answer")
			return
		}
		c.printf("correct answer: %s", answer)
	}
}

// run reads commands from in until quit, leave, ctx end or the session
// stopping on its own.
func (c *console) run(ctx context.Context, in io.Reader, session lobbyActions, done <-chan struct{}, leave func(context.Context) error) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	c.printf("in lobby %s, type 'help' for commands", session.LobbyCode())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				// Input closed; keep the session until it ends.
				lines = nil
				continue
			}
			err := c.execute(ctx, session, leave, line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				c.printf("error: %v", err)
			}
		}
	}
}

// execute runs a single command line.
func (c *console) execute(ctx context.Context, session lobbyActions, leave func(context.Context) error, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		c.printf("%s", helpText)
		return nil
	case "ready":
		if len(fields) == 1 {
			return session.ToggleReady(ctx)
		}
		switch strings.ToLower(fields[1]) {
		case "on", "yes", "true":
			return session.SetReady(ctx, true)
		case "off", "no", "false":
			return session.SetReady(ctx, false)
		}
		return fmt.Errorf("usage: ready [on|off]")
	case "start":
		return session.Start(ctx)
	case "answer":
		if len(fields) < 2 {
			return fmt.Errorf("usage: answer <option>")
		}
		option := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		err := session.SubmitCurrentAnswer(ctx, option)
		if err == nil {
			c.printf("answered %q", option)
		}
		return err
	case "reset":
		err := session.ResetReady(ctx)
		if errors.Is(err, models.ErrNotConnected) && c.lobbies != nil {
			return c.lobbies.ResetReady(ctx, session.LobbyCode())
		}
		return err
	case "resync":
		return session.Resync(ctx)
	case "state":
		v := session.View()
		c.printf("[%s] %s connected=%t host=%t: %s",
			v.LobbyCode, v.Snapshot.Phase, v.Connected, v.IsHost, formatPlayers(v.Snapshot, v.PlayerID))
		if v.Timer.Active {
			c.printf("round %d/%d %s, %ds left", v.Timer.Index+1, v.Timer.Total, v.Timer.Phase, v.Timer.Remaining)
		}
		return nil
	case "leave":
		if err := leave(ctx); err != nil {
			return err
		}
		c.printf("left lobby %s", session.LobbyCode())
		return errQuit
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q, type 'help'", fields[0])
}

func formatPlayers(s models.LobbySnapshot, me int64) string {
	if len(s.Players) == 0 {
		return "no players"
	}
	parts := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		var tags []string
		if p.ID == me {
			tags = append(tags, "you")
		}
		if p.IsHost {
			tags = append(tags, "host")
		}
		if s.Phase == models.GamePhaseWaiting && p.Ready {
			tags = append(tags, "ready")
		}
		if s.Phase == models.GamePhaseInGame && p.HasAnswered {
			tags = append(tags, "answered")
		}
		entry := p.DisplayName
		if s.Phase != models.GamePhaseWaiting {
			entry = fmt.Sprintf("%s %d", entry, p.Score)
		}
		if len(tags) > 0 {
			entry += " (" + strings.Join(tags, ", ") + ")"
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, ", ")
}

func formatStandings(s models.LobbySnapshot) string {
	players := slices.Clone(s.Players)
	slices.SortStableFunc(players, func(a, b models.PlayerState) int {
		return cmp.Compare(b.Score, a.Score)
	})
	var b strings.Builder
	for i, p := range players {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %d. %s %d", i+1, p.DisplayName, p.Score)
	}
	return b.String()
}
