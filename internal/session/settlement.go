package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
)

// Settlement returns uncommitted bets to players. The chip accounting
// behind it lives outside this service.
type Settlement interface {
	Refund(ctx context.Context, sessionID, playerID uuid.UUID, amount int64, reason string) error
}

// StoreSettlement records refunds in the refunds table for the settlement
// system to pick up.
type StoreSettlement struct {
	Store store.Store
}

func (s StoreSettlement) Refund(ctx context.Context, sessionID, playerID uuid.UUID, amount int64, reason string) error {
	_, err := s.Store.Append(ctx, store.TableRefunds, models.Refund{
		SessionID: sessionID,
		PlayerID:  playerID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record refund: %w", err)
	}
	return nil
}
