package rng

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/digest"
	"github.com/jason-s-yu/fairtable/internal/historian"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportRecorder struct {
	mu         sync.Mutex
	violations []models.SecurityViolation
}

func (r *reportRecorder) Report(_ context.Context, v models.SecurityViolation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, v)
}

type fixture struct {
	engine  *Engine
	store   *store.Memory
	writer  *historian.Writer
	reports *reportRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	w := historian.NewWriter(historian.StoreSink{Store: mem}, historian.Options{}, logger)
	rep := &reportRecorder{}
	return fixture{engine: NewEngine(mem, w, rep, logger), store: mem, writer: w, reports: rep}
}

func TestDeriveNumberKnownVectors(t *testing.T) {
	seed := strings.Repeat("a", 64)
	cases := []struct {
		index    int
		min, max int64
		want     int64
	}{
		{0, 1, 6, 4},
		{1, 1, 6, 6},
		{2, 1, 6, 1},
		{0, 0, 99, 9},
		{1, 0, 99, 79},
		{2, -50, 50, -8},
	}
	for _, tc := range cases {
		got, err := DeriveNumber(seed, tc.index, tc.min, tc.max)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "index %d in [%d,%d]", tc.index, tc.min, tc.max)
	}

	full, err := DeriveNumber(seed, 0, math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(-1696433557764696007), full)

	_, err = DeriveNumber(seed, 0, 5, 4)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestInitializePersistsOnlyCommitment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := uuid.New()

	seed, err := f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, seed, 2*SeedLength)

	records, err := f.store.Query(ctx, store.TableSeeds, store.Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotContains(t, string(records[0].Data), seed)

	var pair models.SeedPair
	require.NoError(t, records[0].Decode(&pair))
	assert.Equal(t, sid, pair.SessionID)
	assert.Equal(t, 1, pair.Round)
	assert.Equal(t, digest.SHA256Hex(seed), pair.ServerSeedHash)
	assert.False(t, pair.Revealed())

	_, err = f.engine.InitializeSession(ctx, sid)
	assert.ErrorIs(t, err, ErrSessionAlreadyInitialized)
}

func TestGenerateNumberPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := uuid.New()

	_, err := f.engine.GenerateNumber(ctx, sid, 1, 6)
	assert.ErrorIs(t, err, ErrSessionNotInitialized)

	_, err = f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)
	_, err = f.engine.GenerateNumber(ctx, sid, 7, 6)
	assert.ErrorIs(t, err, ErrInvalidRange)

	require.NoError(t, f.engine.RevealSeed(ctx, sid))
	_, err = f.engine.GenerateNumber(ctx, sid, 1, 6)
	assert.ErrorIs(t, err, ErrSessionSealed)
	assert.ErrorIs(t, f.engine.RevealSeed(ctx, sid), ErrSessionSealed)
	assert.ErrorIs(t, f.engine.WithSeed(sid, func(int, string) error { return nil }), ErrSessionSealed)
}

func TestGenerateNumberIsReproducible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := uuid.New()

	seed, err := f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		n, err := f.engine.GenerateNumber(ctx, sid, 0, 36)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(0))
		assert.LessOrEqual(t, n, int64(36))

		again, err := DeriveNumber(seed, i, 0, 36)
		require.NoError(t, err)
		assert.Equal(t, again, n, "draw %d", i)
	}
	assert.Equal(t, 20, f.engine.Draws(sid))

	f.writer.Flush(ctx)
	logged, err := store.All[models.RandomDraw](ctx, f.store, store.TableRandomNumberLog, store.Query{Filter: store.Filter{"session_id": sid}})
	require.NoError(t, err)
	require.Len(t, logged, 20)
	for i, d := range logged {
		assert.Equal(t, i, d.Index)
		assert.Equal(t, 1, d.Round)
	}
}

func TestVerifySequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := uuid.New()

	_, err := f.engine.VerifySequence(ctx, sid)
	assert.ErrorIs(t, err, ErrSessionNotInitialized)

	_, err = f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.engine.GenerateNumber(ctx, sid, 1, 100)
		require.NoError(t, err)
	}

	ok, err := f.engine.VerifySequence(ctx, sid)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.reports.violations)

	// tamper with the in-memory sequence
	s := f.engine.entry(sid, false)
	s.mu.Lock()
	s.draws[3].number = s.draws[3].number%100 + 1
	s.mu.Unlock()

	ok, err = f.engine.VerifySequence(ctx, sid)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, f.reports.violations, 1)
	v := f.reports.violations[0]
	assert.Equal(t, models.ViolationRNGVerificationFailed, v.Type)
	assert.Equal(t, sid, v.SessionID)
	assert.Equal(t, 3, v.Evidence["sequence_index"])
}

func TestRevealSealsAndOpensNextRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := uuid.New()

	seed, err := f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)
	_, err = f.engine.GenerateNumber(ctx, sid, 1, 6)
	require.NoError(t, err)
	require.NoError(t, f.engine.RevealSeed(ctx, sid))
	assert.Zero(t, f.engine.Draws(sid))

	pair, err := store.Latest[models.SeedPair](ctx, f.store, store.TableSeeds, store.Filter{"session_id": sid})
	require.NoError(t, err)
	assert.Equal(t, seed, pair.RevealedServerSeed)
	assert.Equal(t, pair.ServerSeedHash, digest.SHA256Hex(pair.RevealedServerSeed))
	require.NotNil(t, pair.RevealedAt)

	round, hash, err := f.engine.Commitment(sid)
	require.NoError(t, err)
	assert.Equal(t, 1, round)
	assert.Equal(t, pair.ServerSeedHash, hash)

	next, err := f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)
	assert.NotEqual(t, seed, next)
	round, _, err = f.engine.Commitment(sid)
	require.NoError(t, err)
	assert.Equal(t, 2, round)

	// a fresh engine over the same store continues the numbering
	logger, _ := test.NewNullLogger()
	restarted := NewEngine(f.store, f.writer, f.reports, logger)
	_, err = restarted.InitializeSession(ctx, sid)
	require.NoError(t, err)
	round, _, err = restarted.Commitment(sid)
	require.NoError(t, err)
	assert.Equal(t, 3, round)
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.engine.InitializeSession(ctx, sid)
	require.NoError(t, err)

	f.engine.Forget(sid)
	_, _, err = f.engine.Commitment(sid)
	assert.ErrorIs(t, err, ErrSessionNotInitialized)
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	seedA, err := f.engine.InitializeSession(ctx, a)
	require.NoError(t, err)
	seedB, err := f.engine.InitializeSession(ctx, b)
	require.NoError(t, err)
	assert.NotEqual(t, seedA, seedB)

	require.NoError(t, f.engine.RevealSeed(ctx, a))
	_, err = f.engine.GenerateNumber(ctx, b, 1, 6)
	assert.NoError(t, err)
}
