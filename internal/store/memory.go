// internal/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Memory is an in-process Store. It keeps everything until the process
// exits and is meant for tests and single-node development.
type Memory struct {
	mu     sync.RWMutex
	seq    int64
	tables map[Table][]Record
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[Table][]Record)}
}

func (m *Memory) Append(ctx context.Context, table Table, record any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !table.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal %s record: %w", table, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tables[table] = append(m.tables[table], Record{Seq: m.seq, Data: data, CreatedAt: time.Now().UTC()})
	return m.seq, nil
}

func (m *Memory) Query(ctx context.Context, table Table, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.tables[table]
	var out []Record
	visit := func(r Record) bool {
		if !matches(r.Data, q.Filter) {
			return true
		}
		out = append(out, r)
		return q.Limit <= 0 || len(out) < q.Limit
	}
	if q.Order == Descending {
		for i := len(rows) - 1; i >= 0; i-- {
			if !visit(rows[i]) {
				break
			}
		}
	} else {
		for _, r := range rows {
			if !visit(r) {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, table Table, filter Filter, patch map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !table.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	rows := m.tables[table]
	for i := range rows {
		if !matches(rows[i].Data, filter) {
			continue
		}
		var err error
		data := append([]byte(nil), rows[i].Data...)
		for k, v := range patch {
			if !ValidField(k) {
				return n, fmt.Errorf("invalid patch field %q", k)
			}
			if data, err = sjson.SetBytes(data, k, v); err != nil {
				return n, fmt.Errorf("patch record %d: %w", rows[i].Seq, err)
			}
		}
		rows[i].Data = data
		n++
	}
	return n, nil
}

// Corrupt overwrites a stored document in place. Only tests use it, to
// simulate tampering with the durable log.
func (m *Memory) Corrupt(table Table, seq int64, data json.RawMessage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.tables[table] {
		if r.Seq == seq {
			m.tables[table][i].Data = data
			return true
		}
	}
	return false
}

// matches compares top-level fields by their text form, the way the SQL
// backends compare data->>'field'.
func matches(data json.RawMessage, f Filter) bool {
	for k, want := range f {
		got := gjson.GetBytes(data, k)
		if !got.Exists() || got.Type == gjson.Null {
			return false
		}
		if got.String() != filterValue(want) {
			return false
		}
	}
	return true
}
