package models

import (
	"time"

	"github.com/google/uuid"
)

// SeedPair is the commitment record for one RNG round of a session.
// RevealedServerSeed stays empty until the round is sealed.
type SeedPair struct {
	SessionID          uuid.UUID  `json:"session_id"`
	Round              int        `json:"round"`
	ServerSeedHash     string     `json:"server_seed_hash"`
	RevealedServerSeed string     `json:"revealed_server_seed"`
	CreatedAt          time.Time  `json:"created_at"`
	RevealedAt         *time.Time `json:"revealed_at,omitempty"`
}

// Revealed reports whether the plaintext seed has been published.
func (p SeedPair) Revealed() bool {
	return p.RevealedServerSeed != ""
}

// RandomDraw is a row of the random number log.
type RandomDraw struct {
	SessionID uuid.UUID `json:"session_id"`
	Round     int       `json:"round"`
	Index     int       `json:"sequence_index"`
	Min       int64     `json:"min"`
	Max       int64     `json:"max"`
	Number    int64     `json:"number"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is a game-specific result: slot symbol indices, or a single
// roulette pocket / card index.
type Outcome []int

// OutcomeRecord is a persisted round result with everything needed to
// recompute it once the server seed is revealed.
type OutcomeRecord struct {
	SessionID  uuid.UUID `json:"session_id"`
	Round      int       `json:"round"`
	GameType   string    `json:"game_type"`
	ClientSeed string    `json:"client_seed"`
	Nonce      int       `json:"nonce"`
	Outcome    Outcome   `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}
