package store

import (
	"context"
	"fmt"
)

// All runs q against table and decodes every record into T.
func All[T any](ctx context.Context, s Store, table Table, q Query) ([]T, error) {
	records, err := s.Query(ctx, table, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := r.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Latest returns the most recently appended record in table matching filter.
// It returns ErrNotFound when nothing matches.
func Latest[T any](ctx context.Context, s Store, table Table, filter Filter) (T, error) {
	var v T
	records, err := s.Query(ctx, table, Query{Filter: filter, Order: Descending, Limit: 1})
	if err != nil {
		return v, fmt.Errorf("query %s: %w", table, err)
	}
	if len(records) == 0 {
		return v, ErrNotFound
	}
	err = records[0].Decode(&v)
	return v, err
}

// Count returns how many records in table match filter.
func Count(ctx context.Context, s Store, table Table, filter Filter) (int, error) {
	records, err := s.Query(ctx, table, Query{Filter: filter})
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", table, err)
	}
	return len(records), nil
}
