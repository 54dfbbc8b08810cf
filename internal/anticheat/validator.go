// Package anticheat screens client actions for scripted timing, illegal
// sequencing and mechanical betting, and checks live session state against a
// replay of the durable action log.
package anticheat

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/game"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

// transitions lists which action types may follow each action type.
var transitions = map[models.ActionType][]models.ActionType{
	models.ActionJoin:  {models.ActionBet, models.ActionCheck, models.ActionFold},
	models.ActionBet:   {models.ActionCheck, models.ActionFold, models.ActionRaise},
	models.ActionCheck: {models.ActionBet, models.ActionFold},
	models.ActionFold:  {models.ActionJoin},
	models.ActionRaise: {models.ActionCheck, models.ActionFold, models.ActionRaise},
}

// Reporter receives every violation (alerts.Reporter).
type Reporter interface {
	Report(ctx context.Context, v models.SecurityViolation)
}

// Options tune the checks. Zero values take the defaults noted per field.
type Options struct {
	Window           time.Duration // 5m
	TimingDeviation  float64       // 0.5 standard deviations
	PatternThreshold float64       // 0.95
	Weights          PatternWeights
	// FlagTTL bounds how long a flag lasts. Zero keeps it until Unflag.
	FlagTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = 5 * time.Minute
	}
	if o.TimingDeviation <= 0 {
		o.TimingDeviation = 0.5
	}
	if o.PatternThreshold <= 0 {
		o.PatternThreshold = 0.95
	}
	if o.Weights == (PatternWeights{}) {
		o.Weights = DefaultPatternWeights
	}
	return o
}

type historyKey struct {
	session uuid.UUID
	player  uuid.UUID
}

type history struct {
	mu      sync.Mutex
	actions []models.GameAction
}

type Validator struct {
	opts   Options
	store  store.Store
	alerts Reporter
	log    logrus.FieldLogger
	now    func() time.Time

	mu      sync.Mutex
	players map[historyKey]*history
	flagged map[uuid.UUID]time.Time
}

func NewValidator(st store.Store, alerts Reporter, opts Options, log logrus.FieldLogger) *Validator {
	return &Validator{
		opts:    opts.withDefaults(),
		store:   st,
		alerts:  alerts,
		log:     log,
		now:     time.Now,
		players: make(map[historyKey]*history),
		flagged: make(map[uuid.UUID]time.Time),
	}
}

func (v *Validator) historyFor(sessionID, playerID uuid.UUID) *history {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := historyKey{sessionID, playerID}
	h, ok := v.players[k]
	if !ok {
		h = &history{}
		v.players[k] = h
	}
	return h
}

// ValidateAction decides whether action may be applied. A rejection records
// a violation and flags the player; only accepted actions join the player's
// history. The window is measured back from the action's timestamp.
func (v *Validator) ValidateAction(ctx context.Context, sessionID, playerID uuid.UUID, action models.GameAction) (bool, error) {
	if action.Timestamp.IsZero() {
		action.Timestamp = v.now().UTC()
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	h := v.historyFor(sessionID, playerID)
	h.mu.Lock()
	defer h.mu.Unlock()

	recent := h.actions[:0:0]
	for _, a := range h.actions {
		if action.Timestamp.Sub(a.Timestamp) < v.opts.Window {
			recent = append(recent, a)
		}
	}
	h.actions = recent

	if v.IsFlagged(playerID) {
		v.reject(ctx, sessionID, playerID, models.ViolationFlaggedPlayerAction, action, recent, nil)
		return false, nil
	}

	if ok, evidence := v.checkTiming(action, recent); !ok {
		v.reject(ctx, sessionID, playerID, models.ViolationSuspiciousTiming, action, recent, evidence)
		return false, nil
	}
	if !checkSequence(action, recent) {
		v.reject(ctx, sessionID, playerID, models.ViolationInvalidSequence, action, recent, map[string]any{
			"previous": recent[len(recent)-1].Type,
		})
		return false, nil
	}
	if action.Type == models.ActionBet {
		if ok, evidence := v.checkBetPattern(action, recent); !ok {
			v.reject(ctx, sessionID, playerID, models.ViolationSuspiciousBetting, action, recent, evidence)
			return false, nil
		}
	}

	h.actions = append(h.actions, action)
	return true, nil
}

// checkTiming rejects an interval that sits within TimingDeviation standard
// deviations of the mean of the prior intervals.
func (v *Validator) checkTiming(action models.GameAction, recent []models.GameAction) (bool, map[string]any) {
	if len(recent) < 2 {
		return true, nil
	}
	intervals := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		intervals = append(intervals, float64(recent[i].Timestamp.Sub(recent[i-1].Timestamp).Milliseconds()))
	}
	mean, std := meanStd(intervals)
	current := float64(action.Timestamp.Sub(recent[len(recent)-1].Timestamp).Milliseconds())

	if math.Abs(current-mean) > std*v.opts.TimingDeviation {
		return true, nil
	}
	return false, map[string]any{
		"intervals_ms": intervals,
		"current_ms":   current,
		"mean_ms":      mean,
		"stddev_ms":    std,
	}
}

func checkSequence(action models.GameAction, recent []models.GameAction) bool {
	if len(recent) == 0 {
		return true
	}
	last := recent[len(recent)-1].Type
	for _, next := range transitions[last] {
		if next == action.Type {
			return true
		}
	}
	return false
}

func (v *Validator) checkBetPattern(action models.GameAction, recent []models.GameAction) (bool, map[string]any) {
	var amounts []float64
	for _, a := range recent {
		if a.Type == models.ActionBet {
			amounts = append(amounts, float64(a.Payload.Amount))
		}
	}
	amounts = append(amounts, float64(action.Payload.Amount))
	if len(amounts) < 3 {
		return true, nil
	}
	score := PatternScore(amounts, v.opts.Weights)
	if score < v.opts.PatternThreshold {
		return true, nil
	}
	return false, map[string]any{"amounts": amounts, "score": score}
}

func (v *Validator) reject(ctx context.Context, sessionID, playerID uuid.UUID, kind models.ViolationType, action models.GameAction, recent []models.GameAction, extra map[string]any) {
	evidence := map[string]any{
		"action":         action,
		"recent_actions": append([]models.GameAction(nil), recent...),
	}
	for k, val := range extra {
		evidence[k] = val
	}

	if kind != models.ViolationFlaggedPlayerAction {
		v.mu.Lock()
		v.flagged[playerID] = v.now()
		v.mu.Unlock()
	}

	v.log.WithFields(logrus.Fields{
		"session":   sessionID,
		"player":    playerID,
		"violation": kind,
		"action":    action.Type,
	}).Info("anticheat: action rejected")

	v.alerts.Report(ctx, models.SecurityViolation{
		SessionID: sessionID,
		PlayerID:  playerID,
		Type:      kind,
		Evidence:  evidence,
		Timestamp: action.Timestamp,
	})
}

// IsFlagged reports whether playerID is currently flagged. Expired flags are
// dropped.
func (v *Validator) IsFlagged(playerID uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	at, ok := v.flagged[playerID]
	if !ok {
		return false
	}
	if v.opts.FlagTTL > 0 && v.now().Sub(at) >= v.opts.FlagTTL {
		delete(v.flagged, playerID)
		return false
	}
	return true
}

// Unflag clears playerID's flag. It reports whether a flag was present.
func (v *Validator) Unflag(playerID uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.flagged[playerID]
	delete(v.flagged, playerID)
	return ok
}

// Flagged lists the currently flagged players.
func (v *Validator) Flagged() []uuid.UUID {
	v.mu.Lock()
	ids := make([]uuid.UUID, 0, len(v.flagged))
	for id := range v.flagged {
		ids = append(ids, id)
	}
	v.mu.Unlock()

	out := ids[:0]
	for _, id := range ids {
		if v.IsFlagged(id) {
			out = append(out, id)
		}
	}
	return out
}

// ResetPlayer forgets playerID's history in a session, e.g. after leaving.
func (v *Validator) ResetPlayer(sessionID, playerID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.players, historyKey{sessionID, playerID})
}

// ForgetSession drops every history of a session.
func (v *Validator) ForgetSession(sessionID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for k := range v.players {
		if k.session == sessionID {
			delete(v.players, k)
		}
	}
}

// ValidateGameState replays the session's durable action log and compares
// it with the live state, ignoring timestamps and connection status. A
// mismatch is not a violation; callers resync.
func (v *Validator) ValidateGameState(ctx context.Context, session models.GameSession) (bool, error) {
	actions, err := store.ActionLog(ctx, v.store, session.ID)
	if err != nil {
		return false, fmt.Errorf("load action log: %w", err)
	}
	replayed, err := game.Replay(actions)
	if err != nil {
		v.log.WithError(err).WithField("session", session.ID).Warn("anticheat: action log does not replay")
		return false, nil
	}
	return game.Equal(replayed, session.State), nil
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
