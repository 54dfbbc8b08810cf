// Package session keeps a multiplayer session's authoritative state
// consistent across joins, leaves, disconnects and reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/game"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionArchived  = errors.New("session archived")
	ErrNotAParticipant  = errors.New("player is not a participant of the session")
	errReconnectOngoing = errors.New("reconnect already in progress")
)

// Enqueuer accepts records for asynchronous persistence (historian.Writer).
type Enqueuer interface {
	Enqueue(table store.Table, record any)
}

// Validator replays a session's durable log against its live state.
type Validator interface {
	ValidateGameState(ctx context.Context, session models.GameSession) (bool, error)
	ResetPlayer(sessionID, playerID uuid.UUID)
}

type Options struct {
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	PingTimeout          time.Duration
	// SweepInterval between state validations; negative disables the sweep.
	SweepInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 5,
		ReconnectInterval:    3 * time.Second,
		PingTimeout:          time.Second,
		SweepInterval:        30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = d.ReconnectInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = d.SweepInterval
	}
	return o
}

// PlayerEvent is the payload of join_session, leave_session,
// player_disconnected and reconnect_success.
type PlayerEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	PlayerID  uuid.UUID `json:"player_id"`
}

// StateEvent is the payload of game_state and state_resync.
type StateEvent struct {
	SessionID uuid.UUID           `json:"session_id"`
	State     models.SessionState `json:"state"`
}

// ReconnectFailedEvent is the payload of reconnect_failed.
type ReconnectFailedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	PlayerID  uuid.UUID `json:"player_id"`
	Refund    int64     `json:"refund"`
}

// Manager owns the live sessions of this process.
type Manager struct {
	store     store.Store
	gw        gateway.Gateway
	history   Enqueuer
	settle    Settlement
	validator Validator
	log       logrus.FieldLogger
	opts      Options
	now       func() time.Time

	live *registry

	rmu        sync.Mutex
	reconnects map[playerKey]*ReconnectState

	hmu      sync.Mutex
	teardown []func(sessionID uuid.UUID)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(st store.Store, gw gateway.Gateway, history Enqueuer, settle Settlement, validator Validator, opts Options, log logrus.FieldLogger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:      st,
		gw:         gw,
		history:    history,
		settle:     settle,
		validator:  validator,
		log:        log,
		opts:       opts.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
		live:       newRegistry(),
		reconnects: make(map[playerKey]*ReconnectState),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnTeardown registers fn to run after a session is archived.
func (m *Manager) OnTeardown(fn func(sessionID uuid.UUID)) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.teardown = append(m.teardown, fn)
}

// CreateSession opens a new empty session and persists it before returning.
func (m *Manager) CreateSession(ctx context.Context, gameType string) (models.GameSession, error) {
	now := m.now()
	s := models.GameSession{
		ID:        uuid.New(),
		GameType:  gameType,
		Status:    models.SessionOpen,
		State:     models.SessionState{Phase: models.PhaseWaiting, Players: []models.PlayerState{}, UpdatedAt: now},
		CreatedAt: now,
	}
	if _, err := m.store.Append(ctx, store.TableSessions, s); err != nil {
		return models.GameSession{}, fmt.Errorf("create session: %w", err)
	}
	m.register(&liveSession{session: s})
	m.log.WithFields(logrus.Fields{"session": s.ID, "game_type": gameType}).Info("session created")
	return s, nil
}

// register adds ls to the live table and starts its validation sweep.
func (m *Manager) register(ls *liveSession) *liveSession {
	ls, added := m.live.add(ls)
	if added {
		m.startSweep(ls)
	}
	return ls
}

// load returns the live session, rebuilding it from the store when this
// process has not seen it yet. The action log is the source of truth; the
// latest snapshot only contributes metadata.
func (m *Manager) load(ctx context.Context, sessionID uuid.UUID) (*liveSession, error) {
	if ls, ok := m.live.get(sessionID); ok {
		return ls, nil
	}
	snap, err := store.Latest[models.GameSession](ctx, m.store, store.TableSessions, store.Filter{"id": sessionID})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	// Snapshots land through the historian and may be newer than the
	// archive row, so any archived row wins.
	archived, err := store.Count(ctx, m.store, store.TableSessions, store.Filter{"id": sessionID, "status": models.SessionArchived})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if snap.Status == models.SessionArchived || archived > 0 {
		return nil, ErrSessionArchived
	}
	actions, err := store.ActionLog(ctx, m.store, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	state, err := game.Replay(actions)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	// Nobody is connected to a session this process just picked up.
	for i := range state.Players {
		state.Players[i].Status = models.StatusDisconnected
	}
	state.UpdatedAt = snap.State.UpdatedAt
	snap.State = state
	return m.register(&liveSession{session: snap}), nil
}

// Lookup returns a copy of an open session, loading it from the store when
// needed. Unknown ids fail with ErrSessionNotFound and archived ones with
// ErrSessionArchived.
func (m *Manager) Lookup(ctx context.Context, sessionID uuid.UUID) (models.GameSession, error) {
	ls, err := m.load(ctx, sessionID)
	if err != nil {
		return models.GameSession{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.session.Status == models.SessionArchived {
		return models.GameSession{}, ErrSessionArchived
	}
	return ls.copy(), nil
}

// Snapshot returns a copy of the live session.
func (m *Manager) Snapshot(sessionID uuid.UUID) (models.GameSession, bool) {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return models.GameSession{}, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.copy(), true
}

func (ls *liveSession) copy() models.GameSession {
	s := ls.session
	s.State = s.State.Clone()
	return s
}

// Commit appends action to the session's log and applies it. The append
// happens before the live state changes; a failed append or a rejected
// action leaves the session untouched.
func (m *Manager) Commit(ctx context.Context, action models.GameAction) (models.GameAction, models.SessionState, error) {
	ls, err := m.load(ctx, action.SessionID)
	if err != nil {
		return action, models.SessionState{}, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return m.commitLocked(ctx, ls, action)
}

func (m *Manager) commitLocked(ctx context.Context, ls *liveSession, action models.GameAction) (models.GameAction, models.SessionState, error) {
	if ls.session.Status == models.SessionArchived {
		return action, ls.session.State.Clone(), ErrSessionArchived
	}
	action.SessionID = ls.session.ID
	if action.Timestamp.IsZero() {
		action.Timestamp = m.now()
	}
	next, err := game.Apply(ls.session.State, action)
	if err != nil {
		return action, ls.session.State.Clone(), err
	}
	seq, err := m.store.Append(ctx, store.TableActions, action)
	if err != nil {
		return action, ls.session.State.Clone(), fmt.Errorf("append action: %w", err)
	}
	action.Seq = seq
	ls.session.State = next

	m.persistLocked(ls)
	state := next.Clone()
	m.emit(ctx, gateway.Session(ls.session.ID), gateway.EventGameState, StateEvent{SessionID: ls.session.ID, State: state})
	return action, state, nil
}

// persistLocked queues a snapshot of the session.
func (m *Manager) persistLocked(ls *liveSession) {
	m.history.Enqueue(store.TableSessions, ls.copy())
}

func (m *Manager) emit(ctx context.Context, target gateway.Target, event string, payload any) {
	if err := m.gw.Emit(ctx, target, event, payload); err != nil {
		m.log.WithError(err).WithField("event", event).Warn("emit failed")
	}
}

// setStatusLocked reports whether the player exists in the session.
func setStatusLocked(ls *liveSession, playerID uuid.UUID, status models.ConnectionStatus) bool {
	p := ls.session.State.Player(playerID)
	if p == nil {
		return false
	}
	p.Status = status
	return true
}

// JoinSession seats the player, or re-activates a folded one. Joining a
// session the player is already active in behaves like ResumeSession.
func (m *Manager) JoinSession(ctx context.Context, sessionID, playerID uuid.UUID, payload models.ActionPayload) (models.SessionState, error) {
	ls, err := m.load(ctx, sessionID)
	if err != nil {
		return models.SessionState{}, err
	}

	ls.mu.Lock()
	if p := ls.session.State.Player(playerID); p != nil && p.Active {
		ls.mu.Unlock()
		return m.ResumeSession(ctx, sessionID, playerID)
	}
	_, state, err := m.commitLocked(ctx, ls, models.GameAction{
		PlayerID: playerID,
		Type:     models.ActionJoin,
		Payload:  payload,
	})
	if err == nil {
		setStatusLocked(ls, playerID, models.StatusConnected)
	}
	ls.mu.Unlock()
	if err != nil {
		return state, err
	}

	m.cancelReconnect(sessionID, playerID)
	m.emit(ctx, gateway.Session(sessionID), gateway.EventJoinSession, PlayerEvent{SessionID: sessionID, PlayerID: playerID})
	m.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID}).Info("player joined")
	return state, nil
}

// ResumeSession reattaches a participant and resyncs them.
func (m *Manager) ResumeSession(ctx context.Context, sessionID, playerID uuid.UUID) (models.SessionState, error) {
	ls, err := m.load(ctx, sessionID)
	if err != nil {
		return models.SessionState{}, err
	}
	m.cancelReconnect(sessionID, playerID)

	ls.mu.Lock()
	if !setStatusLocked(ls, playerID, models.StatusConnected) {
		ls.mu.Unlock()
		return models.SessionState{}, ErrNotAParticipant
	}
	m.persistLocked(ls)
	state := ls.session.State.Clone()
	ls.mu.Unlock()

	m.emit(ctx, gateway.Player(sessionID, playerID), gateway.EventReconnectSuccess, PlayerEvent{SessionID: sessionID, PlayerID: playerID})
	m.emit(ctx, gateway.Player(sessionID, playerID), gateway.EventStateResync, StateEvent{SessionID: sessionID, State: state})
	return state, nil
}

// LeaveSession removes the player. It is idempotent and always emits
// leave_session.
func (m *Manager) LeaveSession(ctx context.Context, sessionID, playerID uuid.UUID) error {
	_, _, err := m.leave(ctx, sessionID, playerID, false)
	return err
}

// leave removes the player, optionally handing their uncommitted round bet
// back out of the pot, and archives the session once it is empty.
func (m *Manager) leave(ctx context.Context, sessionID, playerID uuid.UUID, refundBet bool) (refund int64, removed bool, err error) {
	defer m.emit(ctx, gateway.Session(sessionID), gateway.EventLeaveSession, PlayerEvent{SessionID: sessionID, PlayerID: playerID})
	m.cancelReconnect(sessionID, playerID)

	ls, err := m.load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionArchived) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	ls.mu.Lock()
	p := ls.session.State.Player(playerID)
	if p == nil || ls.session.Status == models.SessionArchived {
		ls.mu.Unlock()
		return 0, false, nil
	}
	if refundBet {
		refund = p.RoundBet
	}
	_, state, err := m.commitLocked(ctx, ls, models.GameAction{
		PlayerID: playerID,
		Type:     models.ActionLeave,
		Payload:  models.ActionPayload{Amount: refund},
	})
	ls.mu.Unlock()
	if err != nil {
		return 0, false, err
	}

	if m.validator != nil {
		m.validator.ResetPlayer(sessionID, playerID)
	}
	m.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID, "refund": refund}).Info("player left")

	if len(state.Players) == 0 {
		if err := m.Archive(ctx, sessionID); err != nil {
			m.log.WithError(err).WithField("session", sessionID).Error("failed to archive empty session")
		}
	}
	return refund, true, nil
}

// HandleDisconnect marks the player disconnected, keeping their chips and
// bets, and starts the bounded reconnection loop.
func (m *Manager) HandleDisconnect(ctx context.Context, sessionID, playerID uuid.UUID) error {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	ls.mu.Lock()
	if !setStatusLocked(ls, playerID, models.StatusDisconnected) {
		ls.mu.Unlock()
		return ErrNotAParticipant
	}
	m.persistLocked(ls)
	ls.mu.Unlock()

	m.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID}).Info("player disconnected")
	m.emit(ctx, gateway.Session(sessionID), gateway.EventPlayerDisconnected, PlayerEvent{SessionID: sessionID, PlayerID: playerID})

	if err := m.startReconnect(sessionID, playerID); err != nil && !errors.Is(err, errReconnectOngoing) {
		return err
	}
	return nil
}

// HandleReconnectFailed removes a player whose reconnection was exhausted,
// refunds their uncommitted round bet and leaves them a notification.
func (m *Manager) HandleReconnectFailed(ctx context.Context, sessionID, playerID uuid.UUID) error {
	refund, removed, err := m.leave(ctx, sessionID, playerID, true)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	logger := m.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID})

	if refund > 0 && m.settle != nil {
		if err := m.settle.Refund(ctx, sessionID, playerID, refund, "reconnect_failed"); err != nil {
			logger.WithError(err).Error("failed to refund pending bet")
		}
	}

	note := models.Notification{
		PlayerID:  playerID,
		SessionID: sessionID,
		Type:      "disconnect",
		Title:     "Disconnected from Game",
		Message:   "You were disconnected from the game session. Any pending bets have been refunded.",
		Data:      map[string]any{"session_id": sessionID.String()},
		CreatedAt: m.now(),
	}
	if _, err := m.store.Append(ctx, store.TableNotifications, note); err != nil {
		logger.WithError(err).Error("failed to store disconnect notification")
	}

	m.emit(ctx, gateway.Session(sessionID), gateway.EventReconnectFailed, ReconnectFailedEvent{
		SessionID: sessionID,
		PlayerID:  playerID,
		Refund:    refund,
	})
	logger.Warn("reconnection failed, player removed")
	return nil
}

// Resync rebuilds the live state from the durable log, keeping connection
// statuses, and pushes it to the session.
func (m *Manager) Resync(ctx context.Context, sessionID uuid.UUID) error {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return m.resyncLocked(ctx, ls)
}

func (m *Manager) resyncLocked(ctx context.Context, ls *liveSession) error {
	actions, err := store.ActionLog(ctx, m.store, ls.session.ID)
	if err != nil {
		return err
	}
	state, err := game.Replay(actions)
	if err != nil {
		return err
	}
	for i := range state.Players {
		state.Players[i].Status = models.StatusDisconnected
		if prev := ls.session.State.Player(state.Players[i].ID); prev != nil {
			state.Players[i].Status = prev.Status
		}
	}
	state.UpdatedAt = m.now()
	ls.session.State = state
	m.persistLocked(ls)
	m.emit(ctx, gateway.Session(ls.session.ID), gateway.EventStateResync, StateEvent{SessionID: ls.session.ID, State: state.Clone()})
	return nil
}

// Archive closes the session, persists its final snapshot and releases
// everything held for it. Archiving twice is a no-op.
func (m *Manager) Archive(ctx context.Context, sessionID uuid.UUID) error {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	ls.mu.Lock()
	if ls.session.Status == models.SessionArchived {
		ls.mu.Unlock()
		return nil
	}
	ls.session.Status = models.SessionArchived
	ls.session.State.UpdatedAt = m.now()
	final := ls.copy()
	if ls.stopSweep != nil {
		ls.stopSweep()
		ls.stopSweep = nil
	}
	ls.mu.Unlock()

	m.live.remove(sessionID)
	m.cancelSessionReconnects(sessionID)

	var err error
	if _, aerr := m.store.Append(ctx, store.TableSessions, final); aerr != nil {
		err = fmt.Errorf("archive session %s: %w", sessionID, aerr)
	}

	m.hmu.Lock()
	hooks := append([]func(uuid.UUID){}, m.teardown...)
	m.hmu.Unlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
	m.log.WithField("session", sessionID).Info("session archived")
	return err
}

// Close stops every sweep and reconnect loop and waits for them.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
