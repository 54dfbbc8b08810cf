// Package storetest holds the behavioural suite every store.Store backend
// must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	SessionID uuid.UUID `json:"session_id"`
	Round     int       `json:"round"`
	Name      string    `json:"name"`
	Revealed  string    `json:"revealed"`
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("AppendOrdersBySequence", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sid := uuid.New()

		var last int64
		for i := 1; i <= 3; i++ {
			seq, err := s.Append(ctx, store.TableActions, doc{SessionID: sid, Round: i})
			require.NoError(t, err)
			assert.Greater(t, seq, last)
			last = seq
		}

		asc, err := store.All[doc](ctx, s, store.TableActions, store.Query{Filter: store.Filter{"session_id": sid}})
		require.NoError(t, err)
		require.Len(t, asc, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{asc[0].Round, asc[1].Round, asc[2].Round})

		desc, err := s.Query(ctx, store.TableActions, store.Query{Order: store.Descending, Limit: 2})
		require.NoError(t, err)
		require.Len(t, desc, 2)
		assert.Greater(t, desc[0].Seq, desc[1].Seq)
		assert.False(t, desc[0].CreatedAt.IsZero())
	})

	t.Run("FilterByMultipleFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, b := uuid.New(), uuid.New()

		for _, d := range []doc{
			{SessionID: a, Round: 1, Name: "x"},
			{SessionID: a, Round: 2, Name: "y"},
			{SessionID: b, Round: 1, Name: "z"},
		} {
			_, err := s.Append(ctx, store.TableSeeds, d)
			require.NoError(t, err)
		}

		got, err := store.All[doc](ctx, s, store.TableSeeds, store.Query{Filter: store.Filter{"session_id": a, "round": 2}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "y", got[0].Name)

		n, err := store.Count(ctx, s, store.TableSeeds, store.Filter{"round": 1})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		latest, err := store.Latest[doc](ctx, s, store.TableSeeds, store.Filter{"session_id": a})
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Round)

		_, err = store.Latest[doc](ctx, s, store.TableSeeds, store.Filter{"session_id": uuid.New()})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateMergesPatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sid := uuid.New()

		_, err := s.Append(ctx, store.TableSeeds, doc{SessionID: sid, Round: 1, Name: "keep"})
		require.NoError(t, err)
		_, err = s.Append(ctx, store.TableSeeds, doc{SessionID: sid, Round: 2, Name: "other"})
		require.NoError(t, err)

		n, err := s.Update(ctx, store.TableSeeds, store.Filter{"session_id": sid, "round": 1}, map[string]any{"revealed": "abc"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := store.All[doc](ctx, s, store.TableSeeds, store.Query{Filter: store.Filter{"session_id": sid}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "abc", got[0].Revealed)
		assert.Equal(t, "keep", got[0].Name)
		assert.Empty(t, got[1].Revealed)
	})

	t.Run("RejectsUnknownTable", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Append(context.Background(), store.Table("users; drop"), doc{})
		assert.ErrorIs(t, err, store.ErrUnknownTable)
		_, err = s.Query(context.Background(), store.Table("nope"), store.Query{})
		assert.ErrorIs(t, err, store.ErrUnknownTable)
	})
}
