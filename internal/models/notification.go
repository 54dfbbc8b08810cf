package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a durable message to a player, delivered the next time
// they load their inbox.
type Notification struct {
	PlayerID  uuid.UUID      `json:"player_id"`
	SessionID uuid.UUID      `json:"session_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Refund is a settlement request for a player's uncommitted round bet.
type Refund struct {
	SessionID uuid.UUID `json:"session_id"`
	PlayerID  uuid.UUID `json:"player_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
