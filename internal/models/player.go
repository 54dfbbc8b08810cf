package models

import "github.com/google/uuid"

// ConnectionStatus of a participant's realtime connection.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// PlayerState is one participant entry of a session's authoritative state.
type PlayerState struct {
	ID       uuid.UUID        `json:"id"`
	Chips    int64            `json:"chips"`
	Seat     int              `json:"seat"`
	Active   bool             `json:"active"`
	RoundBet int64            `json:"round_bet"` // contributed this round, not yet settled
	Status   ConnectionStatus `json:"status"`
}
