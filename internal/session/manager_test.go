package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/anticheat"
	"github.com/jason-s-yu/fairtable/internal/game"
	"github.com/jason-s-yu/fairtable/internal/gateway"
	"github.com/jason-s-yu/fairtable/internal/gateway/gatewaytest"
	"github.com/jason-s-yu/fairtable/internal/historian"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noReports struct{}

func (noReports) Report(context.Context, models.SecurityViolation) {}

type fixture struct {
	mgr    *Manager
	store  *store.Memory
	gw     *gatewaytest.Recorder
	writer *historian.Writer
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	rec := gatewaytest.New()
	w := historian.NewWriter(historian.StoreSink{Store: mem}, historian.Options{}, logger)
	v := anticheat.NewValidator(mem, noReports{}, anticheat.Options{}, logger)
	m := NewManager(mem, rec, w, StoreSettlement{Store: mem}, v, opts, logger)
	t.Cleanup(m.Close)
	return fixture{mgr: m, store: mem, gw: rec, writer: w}
}

func quietOptions() Options {
	return Options{SweepInterval: -1}
}

func fastReconnect() Options {
	return Options{
		MaxReconnectAttempts: 5,
		ReconnectInterval:    10 * time.Millisecond,
		PingTimeout:          5 * time.Millisecond,
		SweepInterval:        -1,
	}
}

func (f fixture) seat(t *testing.T, sid uuid.UUID, players ...uuid.UUID) {
	t.Helper()
	for _, pid := range players {
		_, err := f.mgr.JoinSession(context.Background(), sid, pid, models.ActionPayload{BuyIn: 100})
		require.NoError(t, err)
	}
}

func (f fixture) bet(t *testing.T, sid, pid uuid.UUID, amount int64) {
	t.Helper()
	_, _, err := f.mgr.Commit(context.Background(), models.GameAction{
		SessionID: sid,
		PlayerID:  pid,
		Type:      models.ActionBet,
		Payload:   models.ActionPayload{Amount: amount},
	})
	require.NoError(t, err)
}

func TestJoinAndCommit(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)

	p1, p2 := uuid.New(), uuid.New()
	f.seat(t, s.ID, p1, p2)
	f.bet(t, s.ID, p1, 30)

	snap, ok := f.mgr.Snapshot(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(30), snap.State.Pot)
	assert.Equal(t, int64(3), snap.State.Version)
	require.Len(t, snap.State.Players, 2)
	assert.Equal(t, models.StatusConnected, snap.State.Players[0].Status)

	log, err := store.ActionLog(ctx, f.store, s.ID)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Less(t, log[0].Seq, log[1].Seq)

	assert.Equal(t, 2, f.gw.Count(gateway.EventJoinSession))
	assert.Equal(t, 3, f.gw.Count(gateway.EventGameState))
	assert.Equal(t, gateway.Session(s.ID), f.gw.Emissions(gateway.EventGameState)[0].Target)
}

func TestCommitRejectedLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	_, _, err = f.mgr.Commit(ctx, models.GameAction{
		SessionID: s.ID,
		PlayerID:  p1,
		Type:      models.ActionBet,
		Payload:   models.ActionPayload{Amount: 500},
	})
	assert.ErrorIs(t, err, game.ErrInsufficientChips)

	n, err := store.Count(ctx, f.store, store.TableActions, store.Filter{"session_id": s.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	snap, _ := f.mgr.Snapshot(s.ID)
	assert.Equal(t, int64(0), snap.State.Pot)
}

func TestResumeSession(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	_, err = f.mgr.ResumeSession(ctx, s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotAParticipant)

	_, err = f.mgr.ResumeSession(ctx, uuid.New(), p1)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	state, err := f.mgr.ResumeSession(ctx, s.ID, p1)
	require.NoError(t, err)
	assert.True(t, state.HasPlayer(p1))
	resync := f.gw.Emissions(gateway.EventStateResync)
	require.Len(t, resync, 1)
	assert.Equal(t, gateway.Player(s.ID, p1), resync[0].Target)
}

func TestLeaveIsIdempotentAndArchivesEmptySession(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	var torn []uuid.UUID
	f.mgr.OnTeardown(func(id uuid.UUID) { torn = append(torn, id) })

	require.NoError(t, f.mgr.LeaveSession(ctx, s.ID, p1))
	require.NoError(t, f.mgr.LeaveSession(ctx, s.ID, p1))

	assert.Equal(t, 2, f.gw.Count(gateway.EventLeaveSession))
	leaves, err := store.Count(ctx, f.store, store.TableActions, store.Filter{"type": models.ActionLeave})
	require.NoError(t, err)
	assert.Equal(t, 1, leaves)
	assert.Equal(t, []uuid.UUID{s.ID}, torn)

	_, ok := f.mgr.Snapshot(s.ID)
	assert.False(t, ok)
	final, err := store.Latest[models.GameSession](ctx, f.store, store.TableSessions, store.Filter{"id": s.ID})
	require.NoError(t, err)
	assert.Equal(t, models.SessionArchived, final.Status)

	_, err = f.mgr.ResumeSession(ctx, s.ID, p1)
	assert.ErrorIs(t, err, ErrSessionArchived)
}

func TestArchivedSessionStaysArchivedAfterHistoryFlush(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	require.NoError(t, f.mgr.LeaveSession(ctx, s.ID, p1))
	// Queued open snapshots land after the archive row.
	f.writer.Flush(ctx)

	latest, err := store.Latest[models.GameSession](ctx, f.store, store.TableSessions, store.Filter{"id": s.ID})
	require.NoError(t, err)
	assert.Equal(t, models.SessionOpen, latest.Status)

	_, err = f.mgr.JoinSession(ctx, s.ID, uuid.New(), models.ActionPayload{BuyIn: 100})
	assert.ErrorIs(t, err, ErrSessionArchived)
	_, ok := f.mgr.Snapshot(s.ID)
	assert.False(t, ok)
}

func TestConcurrentCommitsKeepLogOrdered(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)

	const perPlayer = 20
	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	f.seat(t, s.ID, players...)

	var wg sync.WaitGroup
	errs := make(chan error, len(players)*perPlayer)
	for _, pid := range players {
		wg.Add(1)
		go func(pid uuid.UUID) {
			defer wg.Done()
			for i := 0; i < perPlayer; i++ {
				_, _, err := f.mgr.Commit(ctx, models.GameAction{
					SessionID: s.ID,
					PlayerID:  pid,
					Type:      models.ActionBet,
					Payload:   models.ActionPayload{Amount: 1},
				})
				errs <- err
			}
		}(pid)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	log, err := store.ActionLog(ctx, f.store, s.ID)
	require.NoError(t, err)
	require.Len(t, log, len(players)*(perPlayer+1))
	for i := 1; i < len(log); i++ {
		assert.Less(t, log[i-1].Seq, log[i].Seq)
	}

	snap, ok := f.mgr.Snapshot(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(len(log)), snap.State.Version)
	assert.Equal(t, int64(len(players)*perPlayer), snap.State.Pot)

	valid, err := f.mgr.ValidateNow(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestReconnectExhaustionRemovesPlayerOnce(t *testing.T) {
	f := newFixture(t, fastReconnect())
	f.gw.PingFunc = func(context.Context, uuid.UUID) error { return errors.New("unreachable") }
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1, p2 := uuid.New(), uuid.New()
	f.seat(t, s.ID, p1, p2)
	f.bet(t, s.ID, p1, 40)

	require.NoError(t, f.mgr.HandleDisconnect(ctx, s.ID, p1))
	require.NoError(t, f.mgr.HandleDisconnect(ctx, s.ID, p1))
	snap, _ := f.mgr.Snapshot(s.ID)
	assert.Equal(t, models.StatusDisconnected, snap.State.Player(p1).Status)
	assert.Equal(t, int64(60), snap.State.Player(p1).Chips)

	require.Eventually(t, func() bool {
		return f.gw.Count(gateway.EventReconnectFailed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 5, f.gw.Pings(p1))
	snap, _ = f.mgr.Snapshot(s.ID)
	assert.False(t, snap.State.HasPlayer(p1))
	assert.Equal(t, int64(0), snap.State.Pot)

	refunds, err := store.All[models.Refund](ctx, f.store, store.TableRefunds, store.Query{})
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(40), refunds[0].Amount)
	assert.Equal(t, p1, refunds[0].PlayerID)

	notes, err := store.All[models.Notification](ctx, f.store, store.TableNotifications, store.Query{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "disconnect", notes[0].Type)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 5, f.gw.Pings(p1))
	assert.Equal(t, 1, f.gw.Count(gateway.EventReconnectFailed))
	_, running := f.mgr.Reconnecting(s.ID, p1)
	assert.False(t, running)

	// The replayed log agrees with the live state after the refund.
	valid, err := f.mgr.ValidateNow(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestReconnectSucceedsWhenPingReturns(t *testing.T) {
	f := newFixture(t, fastReconnect())
	var calls atomic.Int32
	f.gw.PingFunc = func(context.Context, uuid.UUID) error {
		if calls.Add(1) <= 2 {
			return errors.New("not yet")
		}
		return nil
	}
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	require.NoError(t, f.mgr.HandleDisconnect(ctx, s.ID, p1))
	require.Eventually(t, func() bool {
		return f.gw.Count(gateway.EventReconnectSuccess) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, f.gw.Pings(p1))
	snap, _ := f.mgr.Snapshot(s.ID)
	assert.Equal(t, models.StatusConnected, snap.State.Player(p1).Status)
	assert.Equal(t, 0, f.gw.Count(gateway.EventReconnectFailed))
}

func TestResumeCancelsReconnect(t *testing.T) {
	opts := fastReconnect()
	opts.ReconnectInterval = 100 * time.Millisecond
	f := newFixture(t, opts)
	f.gw.PingFunc = func(context.Context, uuid.UUID) error { return errors.New("unreachable") }
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	require.NoError(t, f.mgr.HandleDisconnect(ctx, s.ID, p1))
	st, running := f.mgr.Reconnecting(s.ID, p1)
	require.True(t, running)
	assert.Equal(t, 5, st.Max)

	_, err = f.mgr.ResumeSession(ctx, s.ID, p1)
	require.NoError(t, err)
	_, running = f.mgr.Reconnecting(s.ID, p1)
	assert.False(t, running)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 0, f.gw.Pings(p1))
	assert.Equal(t, 0, f.gw.Count(gateway.EventReconnectFailed))
}

func TestValidateNowRepairsDivergence(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)

	valid, err := f.mgr.ValidateNow(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, valid)

	// Written behind the manager's back.
	_, err = f.store.Append(ctx, store.TableActions, models.GameAction{
		SessionID: s.ID,
		PlayerID:  p1,
		Type:      models.ActionBet,
		Payload:   models.ActionPayload{Amount: 10},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	valid, err = f.mgr.ValidateNow(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, 1, f.gw.Count(gateway.EventStateResync))

	snap, _ := f.mgr.Snapshot(s.ID)
	assert.Equal(t, int64(10), snap.State.Pot)
	assert.Equal(t, models.StatusConnected, snap.State.Player(p1).Status)

	valid, err = f.mgr.ValidateNow(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSweepRunsPeriodically(t *testing.T) {
	f := newFixture(t, Options{SweepInterval: 10 * time.Millisecond})
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1 := uuid.New()
	f.seat(t, s.ID, p1)
	require.NoError(t, f.mgr.StartValidation(s.ID))

	_, err = f.store.Append(ctx, store.TableActions, models.GameAction{
		SessionID: s.ID,
		PlayerID:  p1,
		Type:      models.ActionFold,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := f.mgr.Snapshot(s.ID)
		p := snap.State.Player(p1)
		return p != nil && !p.Active
	}, 2*time.Second, 5*time.Millisecond)
}

func TestColdLoadReplaysLog(t *testing.T) {
	f := newFixture(t, quietOptions())
	ctx := context.Background()
	s, err := f.mgr.CreateSession(ctx, "cards")
	require.NoError(t, err)
	p1, p2 := uuid.New(), uuid.New()
	f.seat(t, s.ID, p1, p2)
	f.bet(t, s.ID, p2, 25)

	logger, _ := test.NewNullLogger()
	w := historian.NewWriter(historian.StoreSink{Store: f.store}, historian.Options{}, logger)
	other := NewManager(f.store, gatewaytest.New(), w, nil, nil, quietOptions(), logger)
	t.Cleanup(other.Close)

	state, err := other.ResumeSession(ctx, s.ID, p2)
	require.NoError(t, err)
	assert.Equal(t, int64(25), state.Pot)
	assert.Equal(t, models.StatusConnected, state.Player(p2).Status)
	assert.Equal(t, models.StatusDisconnected, state.Player(p1).Status)
}
