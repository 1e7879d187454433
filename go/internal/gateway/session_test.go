package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/roundtimer"
	"github.com/mcdev12/quizsync/go/internal/transport"
)

const testLobby = "123456"

// harness runs a session against fake transport and a fake clock and
// records hook calls in order.
type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	dialer  *fakeDialer
	metrics *CounterMetrics
	session *Session

	mu  sync.Mutex
	log []string

	// extra hook run on every applied snapshot, set before run
	onSnapshot func(View)

	runErr chan error
}

func newHarness(t *testing.T, playerID int64, now time.Time, results ...dialResult) *harness {
	h := &harness{
		t:       t,
		clock:   clockwork.NewFakeClockAt(now),
		dialer:  newFakeDialer(results...),
		metrics: NewCounterMetrics(),
		runErr:  make(chan error, 1),
	}
	h.session = NewSession(h.dialer, SessionConfig{
		LobbyCode: testLobby,
		PlayerID:  playerID,
		Reconnect: DefaultReconnectConfig(),
		Clock:     h.clock,
		Metrics:   h.metrics,
		Hooks: Hooks{
			OnSnapshot: func(v View) {
				h.record(fmt.Sprintf("snapshot:%d:%s", len(v.Snapshot.Players), v.Snapshot.Phase))
				if h.onSnapshot != nil {
					h.onSnapshot(v)
				}
			},
			OnConnectionChange: func(connected bool) {
				if connected {
					h.record("connected")
				} else {
					h.record("disconnected")
				}
			},
			OnGameStarted:  func(models.LobbySnapshot) { h.record("started") },
			OnGameFinished: func(models.LobbySnapshot) { h.record("finished") },
			OnRoundChange: func(r models.RoundState) {
				h.record(fmt.Sprintf("round:%d:%s", r.QuestionID, r.Phase))
			},
			OnTimer: func(s roundtimer.State) {
				h.record(fmt.Sprintf("timer:%d", s.Remaining))
			},
		},
	})
	return h
}

func (h *harness) run() {
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.session.Done():
		case <-time.After(2 * time.Second):
			h.t.Error("session did not stop")
		}
	})
	go func() { h.runErr <- h.session.Run(ctx) }()
}

func (h *harness) record(entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, entry)
}

func (h *harness) entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.log...)
}

func (h *harness) count(entry string) int {
	n := 0
	for _, e := range h.entries() {
		if e == entry {
			n++
		}
	}
	return n
}

// waitFor blocks until entry has been recorded at least n times.
func (h *harness) waitFor(entry string, n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.count(entry) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %q x%d, log: %v", entry, n, h.entries())
}

// sync waits until every message queued so far has been processed.
func (h *harness) sync() {
	h.t.Helper()
	reply := make(chan error, 1)
	h.session.inbox <- actionMsg{ctx: context.Background(), run: func(context.Context) error { return nil }, reply: reply}
	select {
	case <-reply:
	case <-time.After(2 * time.Second):
		h.t.Fatal("session loop stuck")
	}
}

func indexOf(log []string, entry string, from int) int {
	for i := from; i < len(log); i++ {
		if log[i] == entry {
			return i
		}
	}
	return -1
}

const (
	aliceJSON = `{"id":1,"playerName":"Alice","isHost":true,"ready":false}`
	bobJSON   = `{"id":2,"playerName":"Bob","ready":true}`
)

func waitingJSON(players ...string) string {
	return fmt.Sprintf(`{"players":[%s],"gameState":"WAITING"}`, strings.Join(players, ","))
}

func inGameJSON(questionID int64, phase string, endsAt time.Time, players ...string) string {
	return fmt.Sprintf(`{"players":[%s],"gameState":"IN_GAME","round":{"questionId":%d,"index":0,"total":5,"phase":%q,"endsAt":%d}}`,
		strings.Join(players, ","), questionID, phase, endsAt.UnixMilli())
}

func finishedJSON(players ...string) string {
	return fmt.Sprintf(`{"players":[%s],"gameState":"FINISHED"}`, strings.Join(players, ","))
}

func TestSessionLobbyScenario(t *testing.T) {
	T := time.UnixMilli(1_700_000_060_000)
	conn := newFakeConn("c1")
	h := newHarness(t, 1, T.Add(-time.Second), dialResult{conn: conn})
	h.run()

	topic := conn.waitSubscribed(t)
	assert.Equal(t, "/lobby/123456", topic)
	h.waitFor("connected", 1)

	// Snapshot 1: Alice alone, host.
	conn.deliver(t, topic, waitingJSON(aliceJSON))
	h.waitFor("snapshot:1:WAITING", 1)
	v := h.session.View()
	require.Len(t, v.Snapshot.Players, 1)
	assert.Equal(t, "Alice", v.Snapshot.Players[0].DisplayName)
	assert.True(t, v.IsHost)

	// Snapshot 2: Bob joins, Alice still host.
	conn.deliver(t, topic, waitingJSON(aliceJSON, bobJSON))
	h.waitFor("snapshot:2:WAITING", 1)
	v = h.session.View()
	assert.Equal(t, []string{"Alice", "Bob"}, []string{v.Snapshot.Players[0].DisplayName, v.Snapshot.Players[1].DisplayName})
	assert.True(t, v.IsHost)

	// Snapshot 3: game starts, one second on the clock.
	conn.deliver(t, topic, inGameJSON(7, "question", T, aliceJSON, bobJSON))
	h.waitFor("started", 1)
	h.waitFor("round:7:QUESTION", 1)
	assert.Equal(t, 1, h.session.Feed().Load().Remaining)
	assert.True(t, h.session.Feed().Load().Critical)

	h.clock.Advance(time.Second)
	h.waitFor("timer:0", 1)
	assert.Equal(t, 0, h.session.View().Timer.Remaining)

	// Snapshot 4: same question, answer phase: baseline resets.
	conn.deliver(t, topic, inGameJSON(7, "answer", T.Add(5*time.Second), aliceJSON, bobJSON))
	h.sync()
	assert.Equal(t, 1, h.count("round:7:ANSWER_REVEAL"))
	assert.Equal(t, 5, h.session.Feed().Load().Remaining)
	assert.False(t, h.session.Feed().Load().Critical)

	// Snapshots 5..7: FINISHED three times, navigation fires once.
	for i := 0; i < 3; i++ {
		conn.deliver(t, topic, finishedJSON(aliceJSON, bobJSON))
	}
	h.sync()
	assert.Equal(t, 1, h.count("finished"))
	assert.Equal(t, 1, h.count("started"))
	assert.Equal(t, int64(2), h.metrics.Stats().DuplicateSnapshots)

	// Round over: the tick has stopped and the feed is idle.
	assert.False(t, h.session.Feed().Load().Active)
}

func TestSessionResyncOnEveryConnect(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	conn1 := newFakeConn("c1")
	conn2 := newFakeConn("c2")
	h := newHarness(t, 1, now, dialResult{conn: conn1}, dialResult{conn: conn2})

	resyncDest := transport.ResyncDestination(testLobby)
	resyncsAtApply := make(chan int, 1)
	h.onSnapshot = func(v View) {
		if len(v.Snapshot.Players) == 2 {
			resyncsAtApply <- len(conn2.publishedTo(resyncDest))
		}
	}

	// The server pushes during subscribe, before the client has sent resync.
	conn2.onSubscribe = func(handler transport.Handler) {
		handler(transport.Message{Body: []byte(waitingJSON(aliceJSON, bobJSON))})
	}

	h.run()
	topic := conn1.waitSubscribed(t)
	h.waitFor("connected", 1)
	assert.Equal(t, []string{"subscribe /lobby/123456", "publish " + resyncDest}, conn1.eventLog())

	conn1.deliver(t, topic, waitingJSON(aliceJSON))
	h.waitFor("snapshot:1:WAITING", 1)
	stale := conn1.handler(topic)
	require.NotNil(t, stale)

	conn1.drop(errors.New("connection reset by peer"))
	h.waitFor("disconnected", 1)

	// Last known state survives the disconnect.
	v := h.session.View()
	assert.False(t, v.Connected)
	assert.Len(t, v.Snapshot.Players, 1)
	assert.ErrorIs(t, h.session.Resync(context.Background()), models.ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)

	conn2.waitSubscribed(t)
	h.waitFor("connected", 2)
	h.waitFor("snapshot:2:WAITING", 1)

	select {
	case n := <-resyncsAtApply:
		assert.Equal(t, 1, n, "resync must be published before the first snapshot is applied")
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot from new connection not applied")
	}
	assert.Equal(t, []string{"subscribe /lobby/123456", "publish " + resyncDest}, conn2.eventLog()[:2])

	// A late message from the dead connection is ignored.
	stale(transport.Message{Body: []byte(inGameJSON(7, "question", now.Add(time.Minute), aliceJSON))})
	h.sync()
	assert.Equal(t, models.GamePhaseWaiting, h.session.View().Snapshot.Phase)
	assert.Equal(t, 0, h.count("started"))

	log := h.entries()
	second := indexOf(log, "connected", indexOf(log, "connected", 0)+1)
	assert.Less(t, second, indexOf(log, "snapshot:2:WAITING", 0))
}

func TestSessionAnswerAtMostOnce(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	conn := newFakeConn("c1")
	h := newHarness(t, 1, now, dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)

	ctx := context.Background()
	assert.ErrorIs(t, h.session.SubmitAnswer(ctx, 7, "B"), models.ErrAnswerClosed)

	conn.deliver(t, topic, inGameJSON(7, "question", now.Add(10*time.Second), aliceJSON, bobJSON))

	require.NoError(t, h.session.SubmitAnswer(ctx, 7, "B"))
	assert.ErrorIs(t, h.session.SubmitAnswer(ctx, 7, "C"), models.ErrAlreadyAnswered)
	assert.ErrorIs(t, h.session.SubmitAnswer(ctx, 8, "A"), models.ErrAnswerClosed)

	sent := conn.publishedTo(transport.AnswerDestination(testLobby))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"playerId":1,"questionId":7,"option":"B"}`, string(sent[0].Body))
	assert.Equal(t, AnswerKey(testLobby, 1, 7), sent[0].Headers[HeaderIdempotencyKey])
	assert.True(t, h.session.View().Answered)
	assert.Equal(t, int64(1), h.metrics.Stats().AnswersSuppressed)

	// Reveal phase: answers closed even for a fresh question id.
	conn.deliver(t, topic, inGameJSON(7, "answer", now.Add(15*time.Second), aliceJSON, bobJSON))
	assert.ErrorIs(t, h.session.SubmitAnswer(ctx, 7, "B"), models.ErrAnswerClosed)
	assert.Len(t, conn.publishedTo(transport.AnswerDestination(testLobby)), 1)
}

func TestSessionHostAndReadyGuards(t *testing.T) {
	conn := newFakeConn("c1")
	h := newHarness(t, 2, time.Now(), dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)

	ctx := context.Background()
	conn.deliver(t, topic, waitingJSON(aliceJSON, bobJSON))

	assert.ErrorIs(t, h.session.Start(ctx), models.ErrNotHost)
	assert.Empty(t, conn.publishedTo(transport.StartDestination(testLobby)))

	// Bob is ready, so toggling publishes ready=false.
	require.NoError(t, h.session.ToggleReady(ctx))
	sent := conn.publishedTo(transport.ReadyDestination(testLobby))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"playerId":2,"ready":false}`, string(sent[0].Body))

	// No optimistic update: the view still shows Bob ready.
	require.NotNil(t, h.session.View().Me)
	assert.True(t, h.session.View().Me.Ready)

	require.NoError(t, h.session.SetReady(ctx, true))
	assert.Len(t, conn.publishedTo(transport.ReadyDestination(testLobby)), 2)
}

func TestSessionHostStarts(t *testing.T) {
	conn := newFakeConn("c1")
	h := newHarness(t, 1, time.Now(), dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)

	conn.deliver(t, topic, waitingJSON(aliceJSON, bobJSON))
	require.NoError(t, h.session.Start(context.Background()))

	sent := conn.publishedTo(transport.StartDestination(testLobby))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"playerId":1}`, string(sent[0].Body))
	assert.NotEmpty(t, sent[0].Headers[HeaderIdempotencyKey])
}

func TestSessionIdentityMissing(t *testing.T) {
	conn := newFakeConn("c1")
	h := newHarness(t, 0, time.Now(), dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)
	conn.deliver(t, topic, waitingJSON(aliceJSON))

	ctx := context.Background()
	assert.ErrorIs(t, h.session.ToggleReady(ctx), models.ErrIdentityMissing)
	assert.ErrorIs(t, h.session.SetReady(ctx, true), models.ErrIdentityMissing)
	assert.ErrorIs(t, h.session.Start(ctx), models.ErrIdentityMissing)
	assert.ErrorIs(t, h.session.SubmitAnswer(ctx, 7, "A"), models.ErrIdentityMissing)

	// Only the connect-time resync went out.
	assert.Equal(t, []string{"subscribe /lobby/123456", "publish /app/game/123456/resync"}, conn.eventLog())
}

func TestSessionPlayAgain(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	conn := newFakeConn("c1")
	h := newHarness(t, 1, now, dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)
	ctx := context.Background()

	conn.deliver(t, topic, inGameJSON(7, "question", now.Add(10*time.Second), aliceJSON, bobJSON))
	require.NoError(t, h.session.SubmitAnswer(ctx, 7, "A"))
	conn.deliver(t, topic, finishedJSON(aliceJSON, bobJSON))

	require.NoError(t, h.session.ResetReady(ctx))
	sent := conn.publishedTo(transport.ResetReadyDestination(testLobby))
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{}`, string(sent[0].Body))

	conn.deliver(t, topic, waitingJSON(aliceJSON, bobJSON))
	conn.deliver(t, topic, inGameJSON(7, "question", now.Add(20*time.Second), aliceJSON, bobJSON))

	// New game: navigation re-armed and the answer guard cleared.
	require.NoError(t, h.session.SubmitAnswer(ctx, 7, "C"))
	assert.Equal(t, 2, h.count("started"))
	assert.Equal(t, 1, h.count("finished"))
	assert.Len(t, conn.publishedTo(transport.AnswerDestination(testLobby)), 2)
}

func TestSessionMalformedMessageDropped(t *testing.T) {
	conn := newFakeConn("c1")
	h := newHarness(t, 1, time.Now(), dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)

	conn.deliver(t, topic, waitingJSON(aliceJSON))
	conn.deliver(t, topic, `{"players":[{"id":1}]}`)
	conn.deliver(t, topic, `not json`)
	conn.deliver(t, topic, waitingJSON(aliceJSON, bobJSON))
	h.sync()

	assert.Equal(t, int64(2), h.metrics.Stats().ProtocolErrors)
	assert.Len(t, h.session.View().Snapshot.Players, 2)
	assert.True(t, h.session.View().Connected)
}

func TestSessionLeaveReleasesEverything(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	conn := newFakeConn("c1")
	h := newHarness(t, 1, now, dialResult{conn: conn})
	h.run()
	topic := conn.waitSubscribed(t)
	h.waitFor("connected", 1)

	conn.deliver(t, topic, inGameJSON(7, "question", now.Add(10*time.Second), aliceJSON))
	h.sync()
	require.True(t, h.session.Feed().Load().Active)

	h.session.Leave()
	select {
	case <-h.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	require.NoError(t, <-h.runErr)

	assert.True(t, conn.closed())
	assert.Contains(t, conn.eventLog(), "unsubscribe /lobby/123456")
	assert.Equal(t, roundtimer.State{}, h.session.Feed().Load())
	assert.False(t, h.session.View().Connected)
	assert.ErrorIs(t, h.session.Resync(context.Background()), models.ErrSessionClosed)

	// No tick or reconnect survives.
	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestSessionLeaveCancelsReconnectWait(t *testing.T) {
	h := newHarness(t, 1, time.Now(), dialResult{err: errRefused})
	h.run()
	h.dialer.waitDial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.session.Leave()
	select {
	case <-h.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pending reconnect kept the session alive")
	}
	assert.Equal(t, int64(1), h.metrics.Stats().ConnectFailures)
}

func TestSessionSeed(t *testing.T) {
	h := newHarness(t, 1, time.Now())

	err := h.session.Seed(models.LobbySnapshot{LobbyCode: testLobby, Phase: models.GamePhaseInGame})
	var perr *models.ProtocolError
	assert.ErrorAs(t, err, &perr)

	require.NoError(t, h.session.Seed(models.LobbySnapshot{
		LobbyCode: testLobby,
		Players:   []models.PlayerState{{ID: 1, DisplayName: "Alice", IsHost: true}},
		Phase:     models.GamePhaseWaiting,
	}))
	v := h.session.View()
	assert.True(t, v.Seeded)
	assert.True(t, v.IsHost)
	assert.False(t, v.Connected)

	h.run()
	h.dialer.waitDial(t)
	assert.ErrorIs(t, h.session.Seed(models.LobbySnapshot{Phase: models.GamePhaseWaiting}), ErrSessionRunning)
	assert.ErrorIs(t, h.session.Run(context.Background()), ErrSessionRunning)
}

func TestSessionSeedHooksRunOnSessionGoroutine(t *testing.T) {
	T := time.UnixMilli(1_700_000_060_000)
	h := newHarness(t, 1, T)

	require.NoError(t, h.session.Seed(models.LobbySnapshot{
		LobbyCode: testLobby,
		Players:   []models.PlayerState{{ID: 1, DisplayName: "Alice", IsHost: true}},
		Phase:     models.GamePhaseInGame,
		Round: &models.RoundState{
			QuestionID: 7,
			Total:      5,
			Phase:      models.RoundPhaseQuestion,
			Deadline:   T.Add(10 * time.Second),
		},
	}))

	// State is visible at once, hooks wait for Run.
	assert.Empty(t, h.entries())
	v := h.session.View()
	assert.True(t, v.Seeded)
	assert.True(t, v.Timer.Active)

	h.run()
	h.waitFor("started", 1)

	log := h.entries()
	require.GreaterOrEqual(t, len(log), 4, log)
	assert.Equal(t, "round:7:QUESTION", log[0])
	assert.True(t, strings.HasPrefix(log[1], "timer:"), log)
	assert.Equal(t, "snapshot:1:IN_GAME", log[2])
	assert.Equal(t, "started", log[3])

	h.sync()
	assert.Equal(t, 1, h.count("started"))
}

func TestSessionLeaveBeforeRun(t *testing.T) {
	h := newHarness(t, 1, time.Now())
	h.session.Leave()
	select {
	case <-h.session.Done():
	default:
		t.Fatal("Done not closed")
	}
	assert.ErrorIs(t, h.session.Resync(context.Background()), models.ErrSessionClosed)
}

func TestSessionNormalizesLobbyCode(t *testing.T) {
	s := NewSession(newFakeDialer(), SessionConfig{LobbyCode: " ab c1 "})
	assert.Equal(t, "ABC1", s.LobbyCode())
}
