package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/models"
)

// ActionLog loads a session's action log in append order, with each
// action's Seq taken from the log.
func ActionLog(ctx context.Context, s Store, sessionID uuid.UUID) ([]models.GameAction, error) {
	records, err := s.Query(ctx, TableActions, Query{Filter: Filter{"session_id": sessionID}})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", TableActions, err)
	}
	actions := make([]models.GameAction, 0, len(records))
	for _, r := range records {
		var a models.GameAction
		if err := r.Decode(&a); err != nil {
			return nil, err
		}
		a.Seq = r.Seq
		actions = append(actions, a)
	}
	return actions, nil
}
