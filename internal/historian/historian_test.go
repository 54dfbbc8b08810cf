// internal/historian/historian_test.go
package historian

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (s *recordingSink) Flush(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, entries)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestFlushWritesToStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	w := NewWriter(StoreSink{Store: mem}, Options{}, logger)

	w.Enqueue(store.TableViolations, map[string]any{"session_id": "s1", "violation_type": "suspicious_timing"})
	w.Enqueue(store.TableRandomNumberLog, map[string]any{"session_id": "s1", "number": 7})
	assert.Equal(t, 2, w.Pending())

	w.Flush(context.Background())
	assert.Zero(t, w.Pending())

	n, err := store.Count(context.Background(), mem, store.TableViolations, store.Filter{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.Count(context.Background(), mem, store.TableRandomNumberLog, store.Filter{"number": 7})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunFlushesFullBatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	w := NewWriter(sink, Options{BatchSize: 3, FlushDelay: time.Hour}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		w.Enqueue(store.TableViolations, map[string]int{"i": i})
	}
	assert.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 10*time.Millisecond)

	w.Enqueue(store.TableViolations, map[string]int{"i": 3})
	cancel()
	<-done
	assert.Equal(t, 4, sink.count(), "cancellation drains the remainder")
}

func TestRunFlushesOnTick(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	w := NewWriter(sink, Options{BatchSize: 100, FlushDelay: 20 * time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(store.TableSessions, map[string]string{"id": "a"})
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestFlushErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := &recordingSink{err: errors.New("down")}
	w := NewWriter(sink, Options{}, logger)

	w.Enqueue(store.TableViolations, map[string]string{"a": "b"})
	w.Flush(context.Background())

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "failed to flush 1 entries")
	assert.Zero(t, w.Pending())
}

func TestEnqueueDropsUnencodable(t *testing.T) {
	logger, hook := test.NewNullLogger()
	w := NewWriter(&recordingSink{}, Options{}, logger)

	w.Enqueue(store.TableViolations, make(chan int))
	assert.Zero(t, w.Pending())
	assert.Len(t, hook.Entries, 1)
}
