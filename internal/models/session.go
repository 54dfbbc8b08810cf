// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase of a session's betting round.
type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseBetting Phase = "betting"
)

// SessionStatus is the lifecycle status of the session row.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionArchived SessionStatus = "archived"
)

// SessionState is the authoritative, replayable part of a session.
// Every field except UpdatedAt and the players' Status must be reproducible
// by folding the action log.
type SessionState struct {
	Pot        int64         `json:"pot"`
	CurrentBet int64         `json:"current_bet"`
	Phase      Phase         `json:"phase"`
	Version    int64         `json:"version"` // number of actions applied
	Players    []PlayerState `json:"players"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Player returns the participant with the given id, or nil.
func (s *SessionState) Player(id uuid.UUID) *PlayerState {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// HasPlayer reports whether id is a recorded participant.
func (s SessionState) HasPlayer(id uuid.UUID) bool {
	return s.Player(id) != nil
}

// Clone returns a deep copy so callers can mutate without aliasing the
// players slice.
func (s SessionState) Clone() SessionState {
	out := s
	out.Players = make([]PlayerState, len(s.Players))
	copy(out.Players, s.Players)
	return out
}

// GameSession is the persisted session record.
type GameSession struct {
	ID        uuid.UUID     `json:"id"`
	GameType  string        `json:"game_type"`
	Status    SessionStatus `json:"status"`
	State     SessionState  `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
}
