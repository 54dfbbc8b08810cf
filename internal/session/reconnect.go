package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/sirupsen/logrus"
)

type playerKey struct {
	session uuid.UUID
	player  uuid.UUID
}

// ReconnectState tracks one player's bounded reconnection.
type ReconnectState struct {
	Attempts int
	Max      int

	cancel context.CancelFunc
}

// Reconnecting returns a copy of the player's reconnect state, if a loop is
// running for them.
func (m *Manager) Reconnecting(sessionID, playerID uuid.UUID) (ReconnectState, bool) {
	m.rmu.Lock()
	defer m.rmu.Unlock()
	st, ok := m.reconnects[playerKey{sessionID, playerID}]
	if !ok {
		return ReconnectState{}, false
	}
	return ReconnectState{Attempts: st.Attempts, Max: st.Max}, true
}

func (m *Manager) startReconnect(sessionID, playerID uuid.UUID) error {
	key := playerKey{sessionID, playerID}
	m.rmu.Lock()
	defer m.rmu.Unlock()
	if _, ok := m.reconnects[key]; ok {
		return errReconnectOngoing
	}
	ctx, cancel := context.WithCancel(m.ctx)
	st := &ReconnectState{Max: m.opts.MaxReconnectAttempts, cancel: cancel}
	m.reconnects[key] = st

	m.wg.Add(1)
	go m.reconnectLoop(ctx, key, st)
	return nil
}

// cancelReconnect stops the player's loop, if any, without side effects.
func (m *Manager) cancelReconnect(sessionID, playerID uuid.UUID) {
	key := playerKey{sessionID, playerID}
	m.rmu.Lock()
	st, ok := m.reconnects[key]
	if ok {
		delete(m.reconnects, key)
	}
	m.rmu.Unlock()
	if ok {
		st.cancel()
	}
}

func (m *Manager) cancelSessionReconnects(sessionID uuid.UUID) {
	m.rmu.Lock()
	var stopped []*ReconnectState
	for key, st := range m.reconnects {
		if key.session == sessionID {
			stopped = append(stopped, st)
			delete(m.reconnects, key)
		}
	}
	m.rmu.Unlock()
	for _, st := range stopped {
		st.cancel()
	}
}

// claim removes st from the table if it is still the player's current loop.
// A loop that lost its entry was cancelled and must not act.
func (m *Manager) claim(key playerKey, st *ReconnectState) bool {
	m.rmu.Lock()
	defer m.rmu.Unlock()
	if m.reconnects[key] != st {
		return false
	}
	delete(m.reconnects, key)
	return true
}

// reconnectLoop pings the player every ReconnectInterval, up to Max times.
func (m *Manager) reconnectLoop(ctx context.Context, key playerKey, st *ReconnectState) {
	defer m.wg.Done()
	defer st.cancel()
	logger := m.log.WithFields(logrus.Fields{"session": key.session, "player": key.player})

	wait := time.NewTimer(m.opts.ReconnectInterval)
	select {
	case <-ctx.Done():
		wait.Stop()
		return
	case <-wait.C:
	}

	ping := func() (struct{}, error) {
		m.rmu.Lock()
		st.Attempts++
		attempt := st.Attempts
		m.rmu.Unlock()

		pctx, cancel := context.WithTimeout(ctx, m.opts.PingTimeout)
		defer cancel()
		err := m.gw.Ping(pctx, key.player)
		if err != nil {
			logger.WithError(err).Debugf("reconnect attempt %d/%d failed", attempt, st.Max)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.opts.ReconnectInterval)),
		backoff.WithMaxTries(uint(st.Max)),
	)
	if ctx.Err() != nil || !m.claim(key, st) {
		return
	}

	// The loop's own context dies with it; follow-up work runs on the
	// manager's.
	if err != nil {
		if ferr := m.HandleReconnectFailed(m.ctx, key.session, key.player); ferr != nil {
			logger.WithError(ferr).Error("failed to remove unreachable player")
		}
		return
	}
	m.reconnected(m.ctx, key.session, key.player)
}

// reconnected restores a player whose ping came back.
func (m *Manager) reconnected(ctx context.Context, sessionID, playerID uuid.UUID) {
	ls, ok := m.live.get(sessionID)
	if !ok {
		return
	}
	ls.mu.Lock()
	if !setStatusLocked(ls, playerID, models.StatusConnected) {
		ls.mu.Unlock()
		return
	}
	m.persistLocked(ls)
	state := ls.session.State.Clone()
	ls.mu.Unlock()

	m.log.WithFields(logrus.Fields{"session": sessionID, "player": playerID}).Info("player reconnected")
	m.emit(ctx, gateway.Player(sessionID, playerID), gateway.EventReconnectSuccess, PlayerEvent{SessionID: sessionID, PlayerID: playerID})
	m.emit(ctx, gateway.Player(sessionID, playerID), gateway.EventStateResync, StateEvent{SessionID: sessionID, State: state})
}
