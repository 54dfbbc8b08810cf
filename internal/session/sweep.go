package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StartValidation starts the periodic state validation of a live session.
// Sessions start it on their own when they go live; calling it again is a
// no-op.
func (m *Manager) StartValidation(sessionID uuid.UUID) error {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	m.startSweep(ls)
	return nil
}

func (m *Manager) startSweep(ls *liveSession) {
	if m.opts.SweepInterval < 0 || m.validator == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.stopSweep != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	ls.stopSweep = cancel
	id := ls.session.ID

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.ValidateNow(ctx, id); err != nil && ctx.Err() == nil {
					m.log.WithError(err).WithField("session", id).Warn("state validation failed")
				}
			}
		}
	}()
}

// ValidateNow replays the session's log and compares it with the live
// state. A divergence is repaired by a resync and reported as false.
func (m *Manager) ValidateNow(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}
	if m.validator == nil {
		return true, nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	valid, err := m.validator.ValidateGameState(ctx, ls.copy())
	if err != nil {
		return false, err
	}
	if valid {
		return true, nil
	}
	m.log.WithField("session", sessionID).Warn("live state diverged from action log, resyncing")
	return false, m.resyncLocked(ctx, ls)
}
