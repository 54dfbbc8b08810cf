package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType enumerates the moves a player can make inside a session.
type ActionType string

const (
	ActionJoin  ActionType = "join"
	ActionBet   ActionType = "bet"
	ActionCheck ActionType = "check"
	ActionFold  ActionType = "fold"
	ActionRaise ActionType = "raise"

	// ActionLeave is written by the server when a participant is removed.
	// Clients cannot submit it.
	ActionLeave ActionType = "leave"
)

// ClientSubmittable reports whether a client may send this action type.
func (t ActionType) ClientSubmittable() bool {
	switch t {
	case ActionJoin, ActionBet, ActionCheck, ActionFold, ActionRaise:
		return true
	}
	return false
}

// ActionPayload carries the optional numeric arguments of an action.
type ActionPayload struct {
	Amount int64 `json:"amount,omitempty"` // bet / raise
	BuyIn  int64 `json:"buy_in,omitempty"` // join
	Seat   int   `json:"seat,omitempty"`   // join, 0 => next free seat
}

// GameAction captures a player's in-game move. Once appended to a session's
// log it is never modified; Seq is the position assigned by the log.
type GameAction struct {
	SessionID uuid.UUID     `json:"session_id"`
	PlayerID  uuid.UUID     `json:"player_id"`
	Type      ActionType    `json:"type"`
	Payload   ActionPayload `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
	Seq       int64         `json:"seq"`
}
