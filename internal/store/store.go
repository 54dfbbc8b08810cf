// Package store defines the durable log the integrity engine writes to.
// Records are JSON documents in logical tables; every append gets a
// monotonically increasing sequence number that defines log order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Table names a logical append-only table.
type Table string

const (
	TableSessions        Table = "sessions"
	TableActions         Table = "actions"
	TableSeeds           Table = "seeds"
	TableViolations      Table = "violations"
	TableRandomNumberLog Table = "random_number_log"
	TableNotifications   Table = "notifications"
	TableOutcomes        Table = "outcomes"
	TableRefunds         Table = "refunds"
)

// Tables lists every table a backend must provision.
var Tables = []Table{
	TableSessions, TableActions, TableSeeds, TableViolations,
	TableRandomNumberLog, TableNotifications, TableOutcomes, TableRefunds,
}

var (
	ErrNotFound     = errors.New("record not found")
	ErrUnknownTable = errors.New("unknown table")
)

// Valid reports whether t is a provisioned table. Backends splice the table
// name into SQL, so only these values are accepted.
func (t Table) Valid() bool {
	for _, k := range Tables {
		if k == t {
			return true
		}
	}
	return false
}

// Filter matches records whose top-level JSON fields equal the given values.
// Values are compared by their string form (uuid, ints, strings).
type Filter map[string]any

// Order sorts query results by append sequence.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Query selects records from one table. Limit <= 0 means no limit.
type Query struct {
	Filter Filter
	Order  Order
	Limit  int
}

// Record is one stored document.
type Record struct {
	Seq       int64
	Data      json.RawMessage
	CreatedAt time.Time
}

// Decode unmarshals the record's document into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode record %d: %w", r.Seq, err)
	}
	return nil
}

// Store is the persistence collaborator consumed by the engine.
type Store interface {
	// Append writes record (marshaled to JSON) and returns its sequence number.
	Append(ctx context.Context, table Table, record any) (int64, error)
	// Query returns matching records ordered by sequence.
	Query(ctx context.Context, table Table, q Query) ([]Record, error)
	// Update merges patch into the top level of every matching record and
	// returns how many records changed.
	Update(ctx context.Context, table Table, filter Filter, patch map[string]any) (int64, error)
}

// filterValue is the string form a filter value is compared by.
func filterValue(v any) string {
	return fmt.Sprint(v)
}

// FilterArgs flattens a filter into sorted key/value pairs for SQL backends.
func FilterArgs(f Filter) (keys []string, values []string) {
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values = append(values, filterValue(f[k]))
	}
	return keys, values
}

// ValidField guards JSON field names spliced into SQL paths.
func ValidField(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
