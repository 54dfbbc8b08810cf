// internal/game/reducer.go
package game

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jason-s-yu/fairtable/internal/models"
)

var (
	ErrUnknownAction     = errors.New("unknown action type")
	ErrNotParticipant    = errors.New("player is not a participant")
	ErrInactivePlayer    = errors.New("player has folded this round")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientChips = errors.New("insufficient chips")
	ErrAlreadySeated     = errors.New("player already seated")
	ErrSeatTaken         = errors.New("seat already taken")
)

// Apply folds one action into the state and returns the new state. It never
// mutates its input, so the live path and log replay share it safely.
func Apply(state models.SessionState, action models.GameAction) (models.SessionState, error) {
	next := state.Clone()
	if next.Phase == "" {
		next.Phase = models.PhaseWaiting
	}

	switch action.Type {
	case models.ActionJoin:
		if err := applyJoin(&next, action); err != nil {
			return state, err
		}

	case models.ActionBet, models.ActionRaise:
		p := next.Player(action.PlayerID)
		if p == nil {
			return state, ErrNotParticipant
		}
		if !p.Active {
			return state, ErrInactivePlayer
		}
		amt := action.Payload.Amount
		if amt <= 0 {
			return state, ErrInvalidAmount
		}
		if amt > p.Chips {
			return state, fmt.Errorf("%w: has %d, wants %d", ErrInsufficientChips, p.Chips, amt)
		}
		p.Chips -= amt
		p.RoundBet += amt
		next.Pot += amt
		if p.RoundBet > next.CurrentBet {
			next.CurrentBet = p.RoundBet
		}
		next.Phase = models.PhaseBetting

	case models.ActionCheck:
		p := next.Player(action.PlayerID)
		if p == nil {
			return state, ErrNotParticipant
		}
		if !p.Active {
			return state, ErrInactivePlayer
		}
		next.Phase = models.PhaseBetting

	case models.ActionFold:
		p := next.Player(action.PlayerID)
		if p == nil {
			return state, ErrNotParticipant
		}
		p.Active = false

	case models.ActionLeave:
		idx := -1
		for i := range next.Players {
			if next.Players[i].ID == action.PlayerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return state, ErrNotParticipant
		}
		// Amount is the uncommitted bet handed back to the leaver.
		refund := action.Payload.Amount
		if refund < 0 || refund > next.Players[idx].RoundBet {
			return state, ErrInvalidAmount
		}
		next.Pot -= refund
		next.Players = append(next.Players[:idx], next.Players[idx+1:]...)

	default:
		return state, fmt.Errorf("%w: %q", ErrUnknownAction, action.Type)
	}

	next.Version++
	if !action.Timestamp.IsZero() {
		next.UpdatedAt = action.Timestamp
	}
	return next, nil
}

// applyJoin seats a new player, or re-activates a folded one.
func applyJoin(s *models.SessionState, action models.GameAction) error {
	if p := s.Player(action.PlayerID); p != nil {
		if p.Active {
			return ErrAlreadySeated
		}
		p.Active = true
		p.RoundBet = 0
		return nil
	}
	if action.Payload.BuyIn < 0 {
		return ErrInvalidAmount
	}

	seat := action.Payload.Seat
	if seat == 0 {
		seat = nextFreeSeat(s.Players)
	} else {
		for _, p := range s.Players {
			if p.Seat == seat {
				return fmt.Errorf("%w: %d", ErrSeatTaken, seat)
			}
		}
	}

	s.Players = append(s.Players, models.PlayerState{
		ID:     action.PlayerID,
		Chips:  action.Payload.BuyIn,
		Seat:   seat,
		Active: true,
		Status: models.StatusConnected,
	})
	sort.SliceStable(s.Players, func(i, j int) bool { return s.Players[i].Seat < s.Players[j].Seat })
	return nil
}

func nextFreeSeat(players []models.PlayerState) int {
	taken := make(map[int]bool, len(players))
	for _, p := range players {
		taken[p.Seat] = true
	}
	seat := 1
	for taken[seat] {
		seat++
	}
	return seat
}
