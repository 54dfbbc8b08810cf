// Package engine routes player actions through the anti-cheat validator into
// the session log and drives the commit-reveal round lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/anticheat"
	"github.com/jason-s-yu/fairtable/internal/fairness"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/rng"
	"github.com/jason-s-yu/fairtable/internal/session"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	ErrActionNotAllowed = errors.New("action type not allowed")
	ErrActionRejected   = errors.New("action rejected")
	ErrSequenceMismatch = errors.New("rng sequence failed verification")
)

// ActionMessage is the payload of an inbound "action" message.
type ActionMessage struct {
	Type    models.ActionType    `json:"type"`
	Payload models.ActionPayload `json:"payload"`
}

// PlayMessage is the payload of an inbound "play" message. An empty
// ClientSeed is generated server-side.
type PlayMessage struct {
	GameType   fairness.GameType `json:"game_type"`
	ClientSeed string            `json:"client_seed"`
}

// RejectedEvent is the payload of action_rejected.
type RejectedEvent struct {
	SessionID uuid.UUID         `json:"session_id"`
	Type      models.ActionType `json:"type"`
	Reason    string            `json:"reason"`
}

// SeedEvent is the payload of seed_committed and seed_revealed.
type SeedEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	Round      int       `json:"round"`
	Commitment string    `json:"commitment"`
	ServerSeed string    `json:"server_seed,omitempty"`
}

type Engine struct {
	sessions  *session.Manager
	rng       *rng.Engine
	verifier  *fairness.Verifier
	validator *anticheat.Validator
	store     store.Store
	gw        gateway.Gateway
	log       logrus.FieldLogger
	now       func() time.Time
}

func New(sessions *session.Manager, r *rng.Engine, verifier *fairness.Verifier, validator *anticheat.Validator, st store.Store, gw gateway.Gateway, log logrus.FieldLogger) *Engine {
	return &Engine{
		sessions:  sessions,
		rng:       r,
		verifier:  verifier,
		validator: validator,
		store:     st,
		gw:        gw,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register subscribes the inbound handlers and ties per-session RNG and
// anti-cheat state to the session's lifetime.
func (e *Engine) Register() {
	e.gw.Subscribe(gateway.MessageAction, e.handleAction)
	e.gw.Subscribe(gateway.MessagePlay, e.handlePlay)
	e.sessions.OnTeardown(e.rng.Forget)
	e.sessions.OnTeardown(e.validator.ForgetSession)
}

// SubmitAction validates a client action and, if accepted, commits it to
// the session. Rejections are reported to the player as action_rejected.
func (e *Engine) SubmitAction(ctx context.Context, sessionID, playerID uuid.UUID, msg ActionMessage) (models.SessionState, error) {
	if !msg.Type.ClientSubmittable() {
		return models.SessionState{}, fmt.Errorf("%w: %q", ErrActionNotAllowed, msg.Type)
	}
	action := models.GameAction{
		SessionID: sessionID,
		PlayerID:  playerID,
		Type:      msg.Type,
		Payload:   msg.Payload,
		Timestamp: e.now(),
	}

	ok, err := e.validator.ValidateAction(ctx, sessionID, playerID, action)
	if err != nil {
		return models.SessionState{}, err
	}
	if !ok {
		e.rejected(ctx, action, "failed integrity checks")
		return models.SessionState{}, ErrActionRejected
	}

	var state models.SessionState
	if action.Type == models.ActionJoin {
		state, err = e.sessions.JoinSession(ctx, sessionID, playerID, action.Payload)
	} else {
		_, state, err = e.sessions.Commit(ctx, action)
	}
	if err != nil {
		e.rejected(ctx, action, err.Error())
		return state, err
	}
	return state, nil
}

func (e *Engine) rejected(ctx context.Context, action models.GameAction, reason string) {
	err := e.gw.Emit(ctx, gateway.Player(action.SessionID, action.PlayerID), gateway.EventActionRejected, RejectedEvent{
		SessionID: action.SessionID,
		Type:      action.Type,
		Reason:    reason,
	})
	if err != nil {
		e.log.WithError(err).Warn("failed to emit action_rejected")
	}
}

// StartRound commits a fresh server seed for the session and publishes the
// commitment. Only open sessions get rounds.
func (e *Engine) StartRound(ctx context.Context, sessionID uuid.UUID) (SeedEvent, error) {
	if _, err := e.sessions.Lookup(ctx, sessionID); err != nil {
		return SeedEvent{}, err
	}
	if _, err := e.rng.InitializeSession(ctx, sessionID); err != nil {
		return SeedEvent{}, err
	}
	round, hash, err := e.rng.Commitment(sessionID)
	if err != nil {
		return SeedEvent{}, err
	}
	ev := SeedEvent{SessionID: sessionID, Round: round, Commitment: hash}
	e.emit(ctx, gateway.Session(sessionID), gateway.EventSeedCommitted, ev)
	return ev, nil
}

// Draw returns the next number of the session's open round.
func (e *Engine) Draw(ctx context.Context, sessionID uuid.UUID, min, max int64) (int64, error) {
	if _, err := e.sessions.Lookup(ctx, sessionID); err != nil {
		return 0, err
	}
	return e.rng.GenerateNumber(ctx, sessionID, min, max)
}

// Play records the next outcome of the session's open round, opening a
// round first when none is open.
func (e *Engine) Play(ctx context.Context, sessionID uuid.UUID, msg PlayMessage) (models.OutcomeRecord, error) {
	if _, err := e.sessions.Lookup(ctx, sessionID); err != nil {
		return models.OutcomeRecord{}, err
	}
	rec, err := e.verifier.PlayRound(ctx, sessionID, msg.GameType, msg.ClientSeed)
	if errors.Is(err, rng.ErrSessionNotInitialized) || errors.Is(err, rng.ErrSessionSealed) {
		if _, err := e.StartRound(ctx, sessionID); err != nil {
			return rec, err
		}
		rec, err = e.verifier.PlayRound(ctx, sessionID, msg.GameType, msg.ClientSeed)
	}
	if err != nil {
		return rec, err
	}
	e.emit(ctx, gateway.Session(sessionID), gateway.EventRoundOutcome, rec)
	return rec, nil
}

// EndRound self-checks the round's draws and reveals its seed. A round whose
// draws do not reproduce stays unrevealed.
func (e *Engine) EndRound(ctx context.Context, sessionID uuid.UUID) (SeedEvent, error) {
	if _, err := e.sessions.Lookup(ctx, sessionID); err != nil {
		return SeedEvent{}, err
	}
	ok, err := e.rng.VerifySequence(ctx, sessionID)
	if err != nil {
		return SeedEvent{}, err
	}
	if !ok {
		return SeedEvent{}, ErrSequenceMismatch
	}
	round, hash, err := e.rng.Commitment(sessionID)
	if err != nil {
		return SeedEvent{}, err
	}
	if err := e.rng.RevealSeed(ctx, sessionID); err != nil {
		return SeedEvent{}, err
	}

	pair, err := store.Latest[models.SeedPair](ctx, e.store, store.TableSeeds, store.Filter{"session_id": sessionID, "round": round})
	if err != nil {
		return SeedEvent{}, fmt.Errorf("load revealed seed: %w", err)
	}
	ev := SeedEvent{SessionID: sessionID, Round: round, Commitment: hash, ServerSeed: pair.RevealedServerSeed}
	e.emit(ctx, gateway.Session(sessionID), gateway.EventSeedRevealed, ev)
	return ev, nil
}

func (e *Engine) emit(ctx context.Context, target gateway.Target, event string, payload any) {
	if err := e.gw.Emit(ctx, target, event, payload); err != nil {
		e.log.WithError(err).WithField("event", event).Warn("emit failed")
	}
}

func (e *Engine) handleAction(ctx context.Context, from gateway.Target, payload json.RawMessage) {
	var msg ActionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.replyError(ctx, from, "Invalid action payload.")
		return
	}
	if _, err := e.SubmitAction(ctx, from.SessionID, from.PlayerID, msg); err != nil {
		e.log.WithFields(logrus.Fields{
			"session": from.SessionID,
			"player":  from.PlayerID,
			"action":  msg.Type,
		}).Infof("action not applied: %v", err)
		if errors.Is(err, ErrActionNotAllowed) {
			e.replyError(ctx, from, err.Error())
		}
	}
}

func (e *Engine) handlePlay(ctx context.Context, from gateway.Target, payload json.RawMessage) {
	var msg PlayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.replyError(ctx, from, "Invalid play payload.")
		return
	}
	snap, ok := e.sessions.Snapshot(from.SessionID)
	if !ok || !snap.State.HasPlayer(from.PlayerID) {
		e.replyError(ctx, from, session.ErrNotAParticipant.Error())
		return
	}
	if _, err := e.Play(ctx, from.SessionID, msg); err != nil {
		e.log.WithError(err).WithField("session", from.SessionID).Warn("play failed")
		e.replyError(ctx, from, err.Error())
	}
}

func (e *Engine) replyError(ctx context.Context, to gateway.Target, message string) {
	e.emit(ctx, to, gateway.EventError, map[string]string{"message": message})
}
