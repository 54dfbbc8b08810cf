// internal/game/replay.go
package game

import (
	"fmt"
	"time"

	"github.com/jason-s-yu/fairtable/internal/digest"
	"github.com/jason-s-yu/fairtable/internal/models"
)

// Replay folds an ordered action log from the empty state.
func Replay(actions []models.GameAction) (models.SessionState, error) {
	state := models.SessionState{Phase: models.PhaseWaiting, Players: []models.PlayerState{}}
	for _, a := range actions {
		next, err := Apply(state, a)
		if err != nil {
			return state, fmt.Errorf("replay action seq=%d type=%s: %w", a.Seq, a.Type, err)
		}
		state = next
	}
	return state, nil
}

// Normalize strips the volatile fields (timestamps, connection status) so
// two states can be compared on their replayable content only.
func Normalize(s models.SessionState) models.SessionState {
	out := s.Clone()
	out.UpdatedAt = time.Time{}
	if out.Players == nil {
		out.Players = []models.PlayerState{}
	}
	for i := range out.Players {
		out.Players[i].Status = ""
	}
	if out.Phase == "" {
		out.Phase = models.PhaseWaiting
	}
	return out
}

// Fingerprint is the digest of the normalized state's canonical encoding.
func Fingerprint(s models.SessionState) (string, error) {
	return digest.Fingerprint(Normalize(s))
}

// Equal compares two states byte-for-byte after normalization.
func Equal(a, b models.SessionState) bool {
	fa, err := Fingerprint(a)
	if err != nil {
		return false
	}
	fb, err := Fingerprint(b)
	if err != nil {
		return false
	}
	return fa == fb
}
