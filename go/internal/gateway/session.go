package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizsync/go/internal/models"
	"github.com/mcdev12/quizsync/go/internal/roundtimer"
	"github.com/mcdev12/quizsync/go/internal/state"
	"github.com/mcdev12/quizsync/go/internal/transport"
)

// ErrSessionRunning is returned by Run and Seed once the session loop has started.
var ErrSessionRunning = errors.New("session already running")

// Hooks are called on the session goroutine. Those for a seeded snapshot
// fire when Run starts. Hooks must not block and must not call back into
// blocking Session methods.
type Hooks struct {
	OnSnapshot         func(View)
	OnConnectionChange func(connected bool)
	OnGameStarted      func(models.LobbySnapshot)
	OnGameFinished     func(models.LobbySnapshot)
	OnRoundChange      func(models.RoundState)
	OnTimer            func(roundtimer.State)
}

// SessionConfig holds configuration for a lobby session
type SessionConfig struct {
	LobbyCode    string
	PlayerID     int64
	TickInterval time.Duration
	Reconnect    ReconnectConfig

	Clock   clockwork.Clock
	Metrics MetricsCollector
	Feed    *roundtimer.Feed
	Hooks   Hooks
}

// View is a consistent copy of everything a presentation layer renders.
type View struct {
	LobbyCode string               `json:"lobby_code"`
	PlayerID  int64                `json:"player_id"`
	Connected bool                 `json:"connected"`
	Seeded    bool                 `json:"seeded"`
	IsHost    bool                 `json:"is_host"`
	Me        *models.PlayerState  `json:"me,omitempty"`
	Answered  bool                 `json:"answered"`
	Snapshot  models.LobbySnapshot `json:"snapshot"`
	Timer     roundtimer.State     `json:"timer"`
}

// Session synchronizes one lobby. Connection events, inbound snapshots,
// timer ticks and actions are all handled on a single goroutine, which is
// the only one touching the reconciler, timer, navigator and subscription.
type Session struct {
	config    SessionConfig
	clock     clockwork.Clock
	metrics   MetricsCollector
	hooks     Hooks
	feed      *roundtimer.Feed
	manager   *ConnectionManager
	publisher *ActionPublisher

	inbox     chan sessionMsg
	leave     chan struct{}
	leaveOnce sync.Once
	stopped   chan struct{} // loop exited
	done      chan struct{} // fully torn down
	running   atomic.Bool
	view      atomic.Pointer[View]

	// owned by the loop goroutine
	reconciler *state.Reconciler
	navigator  *state.Navigator
	timer      *roundtimer.Timer
	channel    *SubscriptionChannel
	conn       transport.Conn
	gen        uint64
	ticker     clockwork.Ticker

	// seed notifications waiting for the loop
	seedPending bool
	seedRound   bool
}

type sessionMsg interface{ isSessionMsg() }

type connectedMsg struct{ conn transport.Conn }

type disconnectedMsg struct{ err error }

type snapshotMsg struct {
	gen      uint64
	snapshot models.LobbySnapshot
}

type protocolErrorMsg struct {
	gen uint64
	err error
}

type actionMsg struct {
	ctx   context.Context
	run   func(context.Context) error
	reply chan error
}

func (connectedMsg) isSessionMsg()     {}
func (disconnectedMsg) isSessionMsg()  {}
func (snapshotMsg) isSessionMsg()      {}
func (protocolErrorMsg) isSessionMsg() {}
func (actionMsg) isSessionMsg()        {}

// NewSession creates a session for config.LobbyCode using dialer for every
// connection attempt.
func NewSession(dialer transport.Dialer, config SessionConfig) *Session {
	config.LobbyCode = models.NormalizeLobbyCode(config.LobbyCode)
	if config.TickInterval <= 0 {
		config.TickInterval = roundtimer.DefaultTick
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Metrics == nil {
		config.Metrics = &NoOpMetricsCollector{}
	}
	if config.Feed == nil {
		config.Feed = roundtimer.NewFeed()
	}

	s := &Session{
		config:     config,
		clock:      config.Clock,
		metrics:    config.Metrics,
		hooks:      config.Hooks,
		feed:       config.Feed,
		publisher:  NewActionPublisher(config.LobbyCode, config.Metrics),
		inbox:      make(chan sessionMsg, 64),
		leave:      make(chan struct{}),
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
		reconciler: state.NewReconciler(),
		timer:      roundtimer.New(),
	}
	s.navigator = state.NewNavigator(s.gameStarted, s.gameFinished)

	s.manager = NewConnectionManager(dialer, config.Clock, config.Reconnect)
	s.manager.SetMetrics(config.Metrics)
	s.manager.OnConnected(func(conn transport.Conn) { s.post(connectedMsg{conn: conn}) })
	s.manager.OnDisconnected(func(err error) { s.post(disconnectedMsg{err: err}) })

	s.storeView()
	return s
}

// LobbyCode returns the normalized lobby code.
func (s *Session) LobbyCode() string { return s.config.LobbyCode }

// Feed returns the shared timer state.
func (s *Session) Feed() *roundtimer.Feed { return s.feed }

// Done is closed once the session has stopped and released its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// Seed applies the snapshot obtained over REST before connecting. The view
// reflects it immediately; its hooks and navigation run at the start of Run.
func (s *Session) Seed(snapshot models.LobbySnapshot) error {
	if s.running.Load() {
		return ErrSessionRunning
	}
	if err := snapshot.Validate(); err != nil {
		return &models.ProtocolError{Reason: "seed snapshot", Err: err}
	}
	if applied, roundChanged := s.updateState(snapshot); applied {
		s.seedPending = true
		s.seedRound = s.seedRound || roundChanged
	}
	return nil
}

// Run connects and processes events until ctx is cancelled or Leave is
// called. It returns after every resource has been released.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	ctx, cancel := context.WithCancel(ctx)

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := s.manager.Run(ctx); err != nil {
			log.Error().Err(err).Str("lobby_code", s.config.LobbyCode).Msg("connection manager failed")
		}
	}()

	log.Info().
		Str("lobby_code", s.config.LobbyCode).
		Int64("player_id", s.config.PlayerID).
		Msg("session started")

	s.loop(ctx)
	close(s.stopped)

	s.teardown()
	cancel()
	<-managerDone
	close(s.done)

	log.Info().Str("lobby_code", s.config.LobbyCode).Msg("session stopped")
	return nil
}

// Leave stops the session. It does not wait; use Done for that.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() { close(s.leave) })
	if !s.running.Load() {
		// Never started: nothing to release.
		select {
		case <-s.stopped:
		default:
			if s.running.CompareAndSwap(false, true) {
				s.stopTicker()
				close(s.stopped)
				close(s.done)
			}
		}
	}
}

// View returns the latest consistent view with a fresh timer reading.
func (s *Session) View() View {
	v := *s.view.Load()
	v.Timer = s.feed.Load()
	return v
}

// ToggleReady flips the local player's ready flag as last reported by the server.
func (s *Session) ToggleReady(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		me, err := s.me()
		if err != nil {
			return err
		}
		return s.publisher.ToggleReady(ctx, me.ID, !me.Ready)
	})
}

// SetReady publishes an explicit ready flag.
func (s *Session) SetReady(ctx context.Context, ready bool) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.publisher.ToggleReady(ctx, s.config.PlayerID, ready)
	})
}

// Start asks the server to start the game. Only the host may start.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.config.PlayerID <= 0 {
			return models.ErrIdentityMissing
		}
		if !s.reconciler.AmIHost(s.config.PlayerID) {
			return models.ErrNotHost
		}
		return s.publisher.Start(ctx, s.config.PlayerID)
	})
}

// SubmitAnswer answers questionID. The question must be the active one and
// in its QUESTION phase.
func (s *Session) SubmitAnswer(ctx context.Context, questionID int64, option string) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.config.PlayerID <= 0 {
			return models.ErrIdentityMissing
		}
		round, ok := s.reconciler.Round()
		if !ok || round.QuestionID != questionID || round.Phase != models.RoundPhaseQuestion {
			return models.ErrAnswerClosed
		}
		err := s.publisher.SubmitAnswer(ctx, s.config.PlayerID, questionID, option)
		if err == nil {
			s.storeView()
		}
		return err
	})
}

// SubmitCurrentAnswer answers whatever question is active.
func (s *Session) SubmitCurrentAnswer(ctx context.Context, option string) error {
	round, ok := s.View().Snapshot.InGame()
	if !ok {
		return models.ErrAnswerClosed
	}
	return s.SubmitAnswer(ctx, round.QuestionID, option)
}

// ResetReady asks the server to return the lobby to WAITING.
func (s *Session) ResetReady(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.publisher.ResetReady(ctx, s.config.LobbyCode)
	})
}

// Resync asks the server for a fresh snapshot.
func (s *Session) Resync(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.publisher.Resync(ctx, s.config.LobbyCode)
	})
}

func (s *Session) me() (models.PlayerState, error) {
	if s.config.PlayerID <= 0 {
		return models.PlayerState{}, models.ErrIdentityMissing
	}
	me, ok := s.reconciler.Me(s.config.PlayerID)
	if !ok {
		return models.PlayerState{}, fmt.Errorf("player %d not in lobby %s: %w",
			s.config.PlayerID, s.config.LobbyCode, models.ErrIdentityMissing)
	}
	return me, nil
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func(context.Context) error) error {
	if !s.running.Load() {
		return models.ErrSessionClosed
	}
	reply := make(chan error, 1)
	select {
	case s.inbox <- actionMsg{ctx: ctx, run: fn, reply: reply}:
	case <-s.stopped:
		return models.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		return models.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post hands a message to the loop unless the loop has exited.
func (s *Session) post(m sessionMsg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Session) loop(ctx context.Context) {
	if s.seedPending {
		s.seedPending = false
		s.notify(s.seedRound)
	}

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.Chan()
		}

		select {
		case <-ctx.Done():
			return
		case <-s.leave:
			return
		case <-tick:
			s.onTick()
		case m := <-s.inbox:
			s.handle(ctx, m)
		}
	}
}

func (s *Session) handle(ctx context.Context, m sessionMsg) {
	switch msg := m.(type) {
	case connectedMsg:
		s.onConnected(ctx, msg.conn)

	case disconnectedMsg:
		s.onDisconnected(msg.err)

	case snapshotMsg:
		if msg.gen != s.gen {
			log.Debug().
				Str("lobby_code", s.config.LobbyCode).
				Uint64("gen", msg.gen).
				Msg("dropping snapshot from superseded connection")
			return
		}
		s.applySnapshot(msg.snapshot)

	case protocolErrorMsg:
		if msg.gen == s.gen {
			s.metrics.RecordProtocolError()
		}

	case actionMsg:
		msg.reply <- msg.run(msg.ctx)
	}
}

func (s *Session) onConnected(ctx context.Context, conn transport.Conn) {
	s.gen++
	gen := s.gen
	s.conn = conn
	s.publisher.SetConn(conn)

	s.channel = NewSubscriptionChannel(s.config.LobbyCode,
		func(snapshot models.LobbySnapshot) { s.post(snapshotMsg{gen: gen, snapshot: snapshot}) },
		func(err error) { s.post(protocolErrorMsg{gen: gen, err: err}) },
	)

	// Subscribe and resync before any message of this connection is
	// processed: deliveries queue behind this call in the inbox.
	if err := s.channel.Attach(ctx, conn, s.publisher); err != nil {
		log.Warn().
			Err(err).
			Str("lobby_code", s.config.LobbyCode).
			Str("connection_id", conn.ID()).
			Msg("attach failed, dropping connection")
		conn.Close()
		return
	}

	if s.reconciler.SetConnected(true) {
		s.callConnectionChange(true)
	}
	s.storeView()
}

func (s *Session) onDisconnected(err error) {
	s.gen++
	if s.channel != nil {
		s.channel.Detach()
		s.channel = nil
	}
	s.conn = nil
	s.publisher.SetConn(nil)

	log.Info().
		Err(err).
		Str("lobby_code", s.config.LobbyCode).
		Msg("disconnected, keeping last snapshot")

	if s.reconciler.SetConnected(false) {
		s.callConnectionChange(false)
	}
	s.storeView()
}

func (s *Session) applySnapshot(snapshot models.LobbySnapshot) {
	if applied, roundChanged := s.updateState(snapshot); applied {
		s.notify(roundChanged)
	}
}

// updateState folds snapshot into the reconciler and round timer without
// calling hooks. It reports whether the snapshot was new and whether the
// round baseline moved.
func (s *Session) updateState(snapshot models.LobbySnapshot) (applied, roundChanged bool) {
	change := s.reconciler.Apply(snapshot)
	s.metrics.RecordSnapshotApplied(change.Duplicate)
	if change.Duplicate {
		return false, false
	}

	if change.PhaseChanged && !change.First && snapshot.Phase == models.GamePhaseWaiting {
		s.publisher.ForgetAnswers()
	}

	now := s.clock.Now()
	roundChanged = s.timer.Reset(snapshot.Round, now)
	if roundChanged {
		if round, ok := snapshot.InGame(); ok {
			log.Debug().
				Str("lobby_code", s.config.LobbyCode).
				Int64("question_id", round.QuestionID).
				Str("phase", string(round.Phase)).
				Int("index", round.Index).
				Msg("round baseline reset")
		}
		s.feed.Publish(s.timer.State(now))
	}
	s.syncTicker()
	s.storeView()
	return true, roundChanged
}

// notify runs the hooks and navigation for the current snapshot.
func (s *Session) notify(roundChanged bool) {
	current := s.reconciler.Current()
	if roundChanged {
		if round, ok := current.InGame(); ok && s.hooks.OnRoundChange != nil {
			s.hooks.OnRoundChange(round)
		}
		if s.hooks.OnTimer != nil {
			s.hooks.OnTimer(s.feed.Load())
		}
	}

	v := s.storeView()
	if s.hooks.OnSnapshot != nil {
		s.hooks.OnSnapshot(v)
	}
	s.navigator.Observe(current)
}

func (s *Session) onTick() {
	s.publishTimer(s.clock.Now())
}

func (s *Session) publishTimer(now time.Time) {
	st := s.timer.State(now)
	s.feed.Publish(st)
	if s.hooks.OnTimer != nil {
		s.hooks.OnTimer(st)
	}
}

// syncTicker runs the tick only while a round is active.
func (s *Session) syncTicker() {
	switch {
	case s.timer.Active() && s.ticker == nil:
		s.ticker = s.clock.NewTicker(s.config.TickInterval)
	case !s.timer.Active() && s.ticker != nil:
		s.stopTicker()
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) teardown() {
	if s.channel != nil {
		s.channel.Detach()
		s.channel = nil
	}
	s.stopTicker()
	s.publisher.SetConn(nil)
	s.conn = nil
	if s.reconciler.SetConnected(false) {
		s.callConnectionChange(false)
	}
	s.timer.Reset(nil, s.clock.Now())
	s.feed.Publish(roundtimer.State{})
	s.storeView()
}

func (s *Session) gameStarted(snapshot models.LobbySnapshot) {
	log.Info().Str("lobby_code", snapshot.LobbyCode).Msg("game started")
	if s.hooks.OnGameStarted != nil {
		s.hooks.OnGameStarted(snapshot)
	}
}

func (s *Session) gameFinished(snapshot models.LobbySnapshot) {
	log.Info().Str("lobby_code", snapshot.LobbyCode).Msg("game finished")
	if s.hooks.OnGameFinished != nil {
		s.hooks.OnGameFinished(snapshot)
	}
}

func (s *Session) callConnectionChange(connected bool) {
	if s.hooks.OnConnectionChange != nil {
		s.hooks.OnConnectionChange(connected)
	}
}

// storeView publishes a copy of the loop-owned state for other goroutines.
func (s *Session) storeView() View {
	snapshot := s.reconciler.Current()
	v := View{
		LobbyCode: s.config.LobbyCode,
		PlayerID:  s.config.PlayerID,
		Connected: s.reconciler.Connected(),
		Seeded:    s.reconciler.Seeded(),
		IsHost:    s.reconciler.AmIHost(s.config.PlayerID),
		Snapshot:  snapshot,
		Timer:     s.feed.Load(),
	}
	if me, ok := s.reconciler.Me(s.config.PlayerID); ok {
		v.Me = &me
	}
	if round, ok := snapshot.InGame(); ok {
		v.Answered = s.publisher.HasAnswered(round.QuestionID)
	}
	s.view.Store(&v)
	return v
}

// CurrentView implements ViewProvider.
func (s *Session) CurrentView() (View, bool) { return s.View(), true }
