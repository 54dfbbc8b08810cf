package models

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType names the rule a player or subsystem broke.
type ViolationType string

const (
	ViolationFlaggedPlayerAction   ViolationType = "flagged_player_action"
	ViolationSuspiciousTiming      ViolationType = "suspicious_timing"
	ViolationInvalidSequence       ViolationType = "invalid_sequence"
	ViolationSuspiciousBetting     ViolationType = "suspicious_betting"
	ViolationRNGVerificationFailed ViolationType = "rng_verification_failed"
)

// Critical violations are additionally raised as critical_error events.
func (t ViolationType) Critical() bool {
	return t == ViolationRNGVerificationFailed
}

// SecurityViolation is an append-only record. PlayerID is uuid.Nil for
// violations raised by the server itself (e.g. RNG self-check).
type SecurityViolation struct {
	SessionID uuid.UUID      `json:"session_id"`
	PlayerID  uuid.UUID      `json:"player_id"`
	Type      ViolationType  `json:"violation_type"`
	Evidence  map[string]any `json:"evidence"`
	Timestamp time.Time      `json:"timestamp"`
}
