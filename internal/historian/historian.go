// internal/historian/historian.go
//
// Package historian batches non-critical records (violations, random number
// draws, state snapshots) and hands them to a Sink off the request path.
package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

// Entry is one queued record destined for a store table.
type Entry struct {
	Table store.Table     `json:"table"`
	Data  json.RawMessage `json:"data"`
}

// Sink persists a batch of entries.
type Sink interface {
	Flush(ctx context.Context, entries []Entry) error
}

// Options tune batching. Zero values fall back to 20 entries / 500ms.
type Options struct {
	BatchSize  int
	FlushDelay time.Duration
}

// Writer accumulates entries and flushes them when the batch fills or the
// flush delay elapses, whichever comes first.
type Writer struct {
	sink       Sink
	log        logrus.FieldLogger
	batchSize  int
	flushDelay time.Duration

	batchMu sync.Mutex
	batch   []Entry
	kick    chan struct{}
}

func NewWriter(sink Sink, opts Options, log logrus.FieldLogger) *Writer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	return &Writer{
		sink:       sink,
		log:        log,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		batch:      make([]Entry, 0, opts.BatchSize),
		kick:       make(chan struct{}, 1),
	}
}

// Enqueue marshals record and queues it for table. It never blocks on I/O;
// a record that cannot be encoded is logged and dropped.
func (w *Writer) Enqueue(table store.Table, record any) {
	data, err := json.Marshal(record)
	if err != nil {
		w.log.WithError(err).WithField("table", table).Error("historian: dropping unencodable record")
		return
	}
	w.EnqueueEntry(Entry{Table: table, Data: data})
}

// EnqueueEntry queues an already encoded entry.
func (w *Writer) EnqueueEntry(e Entry) {
	w.batchMu.Lock()
	w.batch = append(w.batch, e)
	full := len(w.batch) >= w.batchSize
	w.batchMu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued entries.
func (w *Writer) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// Run flushes on every tick or full batch until ctx is cancelled, then
// drains what is left.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			w.Flush(drainCtx)
			cancel()
			return nil
		case <-ticker.C:
			w.Flush(ctx)
		case <-w.kick:
			w.Flush(ctx)
		}
	}
}

// Flush writes the current batch to the sink. Failures are logged; the
// entries are not retried.
func (w *Writer) Flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batchCopy := make([]Entry, len(w.batch))
	copy(batchCopy, w.batch)
	w.batch = w.batch[:0]
	w.batchMu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := w.sink.Flush(flushCtx, batchCopy); err != nil {
		w.log.WithError(err).Errorf("historian: failed to flush %d entries", len(batchCopy))
		return
	}
	w.log.Debugf("historian: flushed %d entries", len(batchCopy))
}

// StoreSink appends entries straight into a store.
type StoreSink struct {
	Store store.Store
}

func (s StoreSink) Flush(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if _, err := s.Store.Append(ctx, e.Table, e.Data); err != nil {
			return fmt.Errorf("append %s: %w", e.Table, err)
		}
	}
	return nil
}
