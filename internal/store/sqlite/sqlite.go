package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jason-s-yu/fairtable/internal/store"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed document tables using the JSON1 functions.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and creates missing tables.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection keeps sequence assignment serialized.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{sqlDB: sqlDB}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) migrate() error {
	for _, t := range store.Tables {
		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	data TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_session_idx ON %[1]s (json_extract(data, '$.session_id'));`, t)
		if _, err := s.sqlDB.Exec(ddl); err != nil {
			return fmt.Errorf("create %s: %w", t, err)
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
	res, err := s.sqlDB.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (data, created_at) VALUES (?, ?)`, table),
		string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return res.LastInsertId()
}

func (s *Store) Query(ctx context.Context, table store.Table, q store.Query) ([]store.Record, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, table)
	}
	where, args, err := whereClause(q.Filter)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT seq, data, created_at FROM %s%s ORDER BY seq`, table, where)
	if q.Order == store.Descending {
		stmt += " DESC"
	}
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			r       store.Record
			data    string
			created string
		)
		if err := rows.Scan(&r.Seq, &data, &created); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.Data = json.RawMessage(data)
		r.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of %s/%d: %w", table, r.Seq, err)
		}
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
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET data = json_patch(data, ?)%s`, table, where),
		append([]any{string(data)}, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return res.RowsAffected()
}

func whereClause(f store.Filter) (string, []any, error) {
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
		conds = append(conds, fmt.Sprintf("CAST(json_extract(data, '$.%s') AS TEXT) = ?", k))
		args = append(args, values[i])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}
