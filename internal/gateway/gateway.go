// internal/gateway/gateway.go
//
// Package gateway delivers events to connected players and routes inbound
// socket messages to subscribed handlers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Outbound event names.
const (
	EventSecurityAlert      = "security_alert"
	EventCriticalError      = "critical_error"
	EventGameState          = "game_state"
	EventJoinSession        = "join_session"
	EventLeaveSession       = "leave_session"
	EventPlayerDisconnected = "player_disconnected"
	EventReconnectSuccess   = "reconnect_success"
	EventReconnectFailed    = "reconnect_failed"
	EventSeedCommitted      = "seed_committed"
	EventSeedRevealed       = "seed_revealed"
	EventActionRejected     = "action_rejected"
	EventStateResync        = "state_resync"
	EventRoundOutcome       = "round_outcome"
	EventError              = "error"
	EventPong               = "pong"
)

// Inbound message types.
const (
	MessageAction = "action"
	MessagePlay   = "play"
	MessagePing   = "ping"
)

var ErrNotConnected = errors.New("player not connected")

// Target addresses a session channel, or a single player when PlayerID is set.
type Target struct {
	SessionID uuid.UUID
	PlayerID  uuid.UUID
}

// Operators is the zero target. No player socket matches it, so only the
// relay sees it; operator tooling subscribes there.
func Operators() Target { return Target{} }

// Session addresses every player connected to a session.
func Session(id uuid.UUID) Target { return Target{SessionID: id} }

// Player addresses one player.
func Player(sessionID, playerID uuid.UUID) Target {
	return Target{SessionID: sessionID, PlayerID: playerID}
}

// Handler processes one inbound message from a player.
type Handler func(ctx context.Context, from Target, payload json.RawMessage)

// Gateway is the realtime collaborator consumed by the integrity engine.
type Gateway interface {
	Emit(ctx context.Context, target Target, event string, payload any) error
	Subscribe(event string, h Handler)
	// Ping round-trips the player's connection; ctx carries the timeout.
	Ping(ctx context.Context, playerID uuid.UUID) error
}

// Envelope is the wire shape of every socket message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
