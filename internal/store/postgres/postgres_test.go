package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/jason-s-yu/fairtable/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhereClause(t *testing.T) {
	where, args, err := whereClause(store.Filter{"session_id": "s1", "round": 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, " WHERE data->>'round' = $2 AND data->>'session_id' = $3", where)
	assert.Equal(t, []any{"2", "s1"}, args)

	where, args, err = whereClause(nil, 1)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)

	_, _, err = whereClause(store.Filter{"x'; drop table seeds; --": 1}, 1)
	assert.Error(t, err)
}

// TestStore runs the shared suite against a live database when
// TEST_DATABASE_URL is set.
func TestStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	storetest.Run(t, func(t *testing.T) store.Store {
		for _, tbl := range store.Tables {
			_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+string(tbl))
		}
		s := New(pool)
		require.NoError(t, s.Migrate(ctx))
		return s
	})
}
