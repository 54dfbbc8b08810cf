// internal/game/reducer_test.go
package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func act(sessionID, playerID uuid.UUID, typ models.ActionType, p models.ActionPayload) models.GameAction {
	return models.GameAction{SessionID: sessionID, PlayerID: playerID, Type: typ, Payload: p, Timestamp: time.Now()}
}

func TestApplyJoinBetFold(t *testing.T) {
	sid, alice, bob := uuid.New(), uuid.New(), uuid.New()

	s, err := Replay([]models.GameAction{
		act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 500}),
		act(sid, bob, models.ActionJoin, models.ActionPayload{BuyIn: 300}),
		act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 50}),
		act(sid, bob, models.ActionRaise, models.ActionPayload{Amount: 100}),
		act(sid, alice, models.ActionFold, models.ActionPayload{}),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(150), s.Pot)
	assert.Equal(t, int64(100), s.CurrentBet)
	assert.Equal(t, models.PhaseBetting, s.Phase)
	assert.Equal(t, int64(5), s.Version)
	require.Len(t, s.Players, 2)

	a := s.Player(alice)
	require.NotNil(t, a)
	assert.Equal(t, int64(450), a.Chips)
	assert.Equal(t, 1, a.Seat)
	assert.False(t, a.Active)

	b := s.Player(bob)
	require.NotNil(t, b)
	assert.Equal(t, int64(200), b.Chips)
	assert.Equal(t, 2, b.Seat)
	assert.True(t, b.Active)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	sid, alice := uuid.New(), uuid.New()
	s0, err := Apply(models.SessionState{}, act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100}))
	require.NoError(t, err)

	s1, err := Apply(s0, act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 40}))
	require.NoError(t, err)

	assert.Equal(t, int64(100), s0.Players[0].Chips, "input state must be untouched")
	assert.Equal(t, int64(60), s1.Players[0].Chips)
}

func TestApplyRejectsMalformed(t *testing.T) {
	sid, alice, stranger := uuid.New(), uuid.New(), uuid.New()
	s, err := Apply(models.SessionState{}, act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100, Seat: 3}))
	require.NoError(t, err)

	tests := []struct {
		name   string
		action models.GameAction
		want   error
	}{
		{"bet by stranger", act(sid, stranger, models.ActionBet, models.ActionPayload{Amount: 10}), ErrNotParticipant},
		{"zero bet", act(sid, alice, models.ActionBet, models.ActionPayload{}), ErrInvalidAmount},
		{"overbet", act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 101}), ErrInsufficientChips},
		{"double join", act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 5}), ErrAlreadySeated},
		{"seat taken", act(sid, stranger, models.ActionJoin, models.ActionPayload{BuyIn: 5, Seat: 3}), ErrSeatTaken},
		{"unknown", act(sid, alice, models.ActionType("shuffle"), models.ActionPayload{}), ErrUnknownAction},
		{"leave stranger", act(sid, stranger, models.ActionLeave, models.ActionPayload{}), ErrNotParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(s, tt.action)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, s, got)
		})
	}
}

func TestFoldThenRejoin(t *testing.T) {
	sid, alice := uuid.New(), uuid.New()
	s, err := Replay([]models.GameAction{
		act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 10}),
		act(sid, alice, models.ActionFold, models.ActionPayload{}),
	})
	require.NoError(t, err)

	_, err = Apply(s, act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 10}))
	assert.ErrorIs(t, err, ErrInactivePlayer)

	s, err = Apply(s, act(sid, alice, models.ActionJoin, models.ActionPayload{}))
	require.NoError(t, err)
	p := s.Player(alice)
	assert.True(t, p.Active)
	assert.Equal(t, int64(0), p.RoundBet)
	assert.Equal(t, int64(90), p.Chips)
}

func TestLeaveRemovesParticipant(t *testing.T) {
	sid, alice, bob := uuid.New(), uuid.New(), uuid.New()
	s, err := Replay([]models.GameAction{
		act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, bob, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, alice, models.ActionLeave, models.ActionPayload{}),
	})
	require.NoError(t, err)
	require.Len(t, s.Players, 1)
	assert.Equal(t, bob, s.Players[0].ID)
}

func TestLeaveWithRefund(t *testing.T) {
	sid, alice, bob := uuid.New(), uuid.New(), uuid.New()
	s, err := Replay([]models.GameAction{
		act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, bob, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 30}),
		act(sid, bob, models.ActionBet, models.ActionPayload{Amount: 30}),
	})
	require.NoError(t, err)

	_, err = Apply(s, act(sid, alice, models.ActionLeave, models.ActionPayload{Amount: 31}))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	s, err = Apply(s, act(sid, alice, models.ActionLeave, models.ActionPayload{Amount: 30}))
	require.NoError(t, err)
	assert.EqualValues(t, 30, s.Pot)
	assert.False(t, s.HasPlayer(alice))
}

func TestEqualIgnoresVolatileFields(t *testing.T) {
	sid, alice := uuid.New(), uuid.New()
	log := []models.GameAction{
		act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 25}),
	}
	replayed, err := Replay(log)
	require.NoError(t, err)

	live := replayed.Clone()
	live.UpdatedAt = time.Now().Add(time.Hour)
	live.Players[0].Status = models.StatusDisconnected
	assert.True(t, Equal(replayed, live))

	live.Pot++
	assert.False(t, Equal(replayed, live))
}

func TestReplayDetectsCorruptedLog(t *testing.T) {
	sid, alice := uuid.New(), uuid.New()
	log := []models.GameAction{
		act(sid, alice, models.ActionJoin, models.ActionPayload{BuyIn: 100}),
		act(sid, alice, models.ActionBet, models.ActionPayload{Amount: 25}),
		act(sid, alice, models.ActionCheck, models.ActionPayload{}),
	}
	live, err := Replay(log)
	require.NoError(t, err)

	// incremental application matches a full replay at every checkpoint
	incremental := models.SessionState{}
	for i, a := range log {
		incremental, err = Apply(incremental, a)
		require.NoError(t, err)
		prefix, err := Replay(log[:i+1])
		require.NoError(t, err)
		assert.True(t, Equal(incremental, prefix), "checkpoint %d", i)
	}

	corrupted := append([]models.GameAction(nil), log...)
	corrupted[1].Payload.Amount = 24
	replayed, err := Replay(corrupted)
	require.NoError(t, err)
	assert.False(t, Equal(live, replayed))
}
