// internal/store/postgres/postgres.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/fairtable/internal/store"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps each logical table as a JSONB document table.
type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pool against url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// Migrate creates every table and its created_at index if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, t := range store.Tables {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				seq BIGSERIAL PRIMARY KEY,
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS %[1]s_session_idx ON %[1]s ((data->>'session_id'));
		`, t)
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, table store.Table, record any) (int64, error) {
	if !table.Valid() {
		return 0, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal %s record: %w", table, err)
	}

	var seq int64
	q := fmt.Sprintf(`INSERT INTO %s (data) VALUES ($1::jsonb) RETURNING seq`, table)
	if err := s.db.QueryRow(ctx, q, string(data)).Scan(&seq); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return seq, nil
}

func (s *Store) Query(ctx context.Context, table store.Table, q store.Query) ([]store.Record, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	where, args, err := whereClause(q.Filter, 1)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT seq, data, created_at FROM %s%s ORDER BY seq`, table, where)
	if q.Order == store.Descending {
		b.WriteString(" DESC")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var r store.Record
		var data []byte
		if err := rows.Scan(&r.Seq, &data, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.Data = data
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, table store.Table, filter store.Filter, patch map[string]any) (int64, error) {
	if !table.Valid() {
		return 0, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("marshal patch: %w", err)
	}
	where, args, err := whereClause(filter, 2)
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`UPDATE %s SET data = data || $1::jsonb%s`, table, where)
	tag, err := s.db.Exec(ctx, q, append([]any{string(data)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// whereClause renders filter as JSONB text comparisons. Placeholders start
// at $first.
func whereClause(f store.Filter, first int) (string, []any, error) {
	keys, values := store.FilterArgs(f)
	if len(keys) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if !store.ValidField(k) {
			return "", nil, fmt.Errorf("invalid filter field %q", k)
		}
		conds = append(conds, fmt.Sprintf("data->>'%s' = $%d", k, first+i))
		args = append(args, values[i])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
