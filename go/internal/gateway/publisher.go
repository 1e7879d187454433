package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/transport"
	"github.com/mcdev12/quizsync/go/internal/wire"
)

// HeaderIdempotencyKey is set on every outbound message.
const HeaderIdempotencyKey = "idempotency-key"

// answerNamespace seeds deterministic answer keys.
var answerNamespace = uuid.MustParse("5b0c3f4e-8d2a-4c61-9f3e-2a7d1b6e9c40")

// Action names used in logs and metrics.
const (
	ActionReady      = "ready"
	ActionStart      = "start"
	ActionAnswer     = "answer"
	ActionResetReady = "resetReady"
	ActionResync     = "resync"
)

// ActionPublisher sends client intents for one lobby. Calls are
// fire-and-forget: nothing is acknowledged and no local state is changed
// optimistically. Answers are published at most once per question.
type ActionPublisher struct {
	lobbyCode string
	metrics   MetricsCollector

	mu       sync.Mutex
	conn     transport.Conn
	answered map[int64]struct{}
}

// NewActionPublisher creates a publisher for lobbyCode.
func NewActionPublisher(lobbyCode string, metrics MetricsCollector) *ActionPublisher {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &ActionPublisher{
		lobbyCode: lobbyCode,
		metrics:   metrics,
		answered:  make(map[int64]struct{}),
	}
}

// SetConn sets the live connection, or clears it with nil.
func (p *ActionPublisher) SetConn(conn transport.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
}

// ToggleReady publishes the player's desired ready flag.
func (p *ActionPublisher) ToggleReady(ctx context.Context, playerID int64, ready bool) error {
	if playerID <= 0 {
		return models.ErrIdentityMissing
	}
	return p.publish(ctx, ActionReady, transport.ReadyDestination(p.lobbyCode),
		wire.ReadyPayload{PlayerID: playerID, Ready: ready}, uuid.NewString())
}

// Start asks the server to start the game.
func (p *ActionPublisher) Start(ctx context.Context, playerID int64) error {
	if playerID <= 0 {
		return models.ErrIdentityMissing
	}
	return p.publish(ctx, ActionStart, transport.StartDestination(p.lobbyCode),
		wire.StartPayload{PlayerID: playerID}, uuid.NewString())
}

// SubmitAnswer publishes an answer unless one was already handed to the
// transport for questionID, in which case ErrAlreadyAnswered is returned.
func (p *ActionPublisher) SubmitAnswer(ctx context.Context, playerID, questionID int64, option string) error {
	if playerID <= 0 {
		return models.ErrIdentityMissing
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, done := p.answered[questionID]; done {
		p.metrics.RecordAnswerSuppressed()
		log.Debug().
			Str("lobby_code", p.lobbyCode).
			Int64("question_id", questionID).
			Msg("answer already submitted, suppressing")
		return models.ErrAlreadyAnswered
	}

	key := AnswerKey(p.lobbyCode, playerID, questionID)
	payload := wire.AnswerPayload{PlayerID: playerID, QuestionID: questionID, Option: option}
	if err := p.publishLocked(ctx, ActionAnswer, transport.AnswerDestination(p.lobbyCode), payload, key); err != nil {
		return err
	}
	p.answered[questionID] = struct{}{}
	return nil
}

// HasAnswered reports whether an answer for questionID was published.
func (p *ActionPublisher) HasAnswered(questionID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.answered[questionID]
	return ok
}

// ForgetAnswers clears the answer guard for a new game in the same lobby.
func (p *ActionPublisher) ForgetAnswers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.answered)
}

// ResetReady asks the server to return the lobby to WAITING.
func (p *ActionPublisher) ResetReady(ctx context.Context, lobbyCode string) error {
	return p.publish(ctx, ActionResetReady, transport.ResetReadyDestination(lobbyCode),
		wire.EmptyPayload{}, uuid.NewString())
}

// Resync asks the server for an immediate full snapshot.
func (p *ActionPublisher) Resync(ctx context.Context, lobbyCode string) error {
	return p.publish(ctx, ActionResync, transport.ResyncDestination(lobbyCode),
		wire.EmptyPayload{}, uuid.NewString())
}

func (p *ActionPublisher) publish(ctx context.Context, action, destination string, payload any, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishLocked(ctx, action, destination, payload, key)
}

func (p *ActionPublisher) publishLocked(ctx context.Context, action, destination string, payload any, key string) error {
	if p.conn == nil {
		p.metrics.RecordPublish(action, false)
		return fmt.Errorf("%s: %w", action, models.ErrNotConnected)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", action, err)
	}

	msg := transport.Message{
		Destination: destination,
		Headers:     map[string]string{HeaderIdempotencyKey: key},
		Body:        body,
	}
	if err := p.conn.Publish(ctx, msg); err != nil {
		p.metrics.RecordPublish(action, false)
		log.Warn().
			Err(err).
			Str("lobby_code", p.lobbyCode).
			Str("action", action).
			Msg("publish failed")
		return &models.TransportError{Op: "publish " + action, Err: err}
	}

	p.metrics.RecordPublish(action, true)
	log.Debug().
		Str("lobby_code", p.lobbyCode).
		Str("action", action).
		Str("destination", destination).
		Str(HeaderIdempotencyKey, key).
		Msg("published")
	return nil
}

// AnswerKey derives the deterministic idempotency key of an answer.
func AnswerKey(lobbyCode string, playerID, questionID int64) string {
	name := lobbyCode + "/" + strconv.FormatInt(playerID, 10) + "/" + strconv.FormatInt(questionID, 10)
	return uuid.NewSHA1(answerNamespace, []byte(name)).String()
}
