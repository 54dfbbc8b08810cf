// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/gateway"
)

// Emission is one recorded Emit call.
type Emission struct {
	Target  gateway.Target
	Event   string
	Payload any
}

// Recorder records emissions and lets tests script ping results.
type Recorder struct {
	mu        sync.Mutex
	emissions []Emission
	handlers  map[string][]gateway.Handler
	pings     map[uuid.UUID]int

	// PingFunc decides each ping; nil means every ping succeeds.
	PingFunc func(ctx context.Context, playerID uuid.UUID) error
}

func New() *Recorder {
	return &Recorder{
		handlers: make(map[string][]gateway.Handler),
		pings:    make(map[uuid.UUID]int),
	}
}

func (r *Recorder) Emit(_ context.Context, target gateway.Target, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = append(r.emissions, Emission{Target: target, Event: event, Payload: payload})
	return nil
}

func (r *Recorder) Subscribe(event string, h gateway.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], h)
}

func (r *Recorder) Ping(ctx context.Context, playerID uuid.UUID) error {
	r.mu.Lock()
	r.pings[playerID]++
	fn := r.PingFunc
	r.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, playerID)
}

// Deliver invokes the handlers subscribed to event as if from had sent payload.
func (r *Recorder) Deliver(ctx context.Context, event string, from gateway.Target, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	handlers := append([]gateway.Handler(nil), r.handlers[event]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(ctx, from, data)
	}
	return nil
}

// Emissions returns every recorded emission, optionally filtered by event.
func (r *Recorder) Emissions(event string) []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Emission
	for _, e := range r.emissions {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many times event was emitted.
func (r *Recorder) Count(event string) int {
	return len(r.Emissions(event))
}

// Pings returns how many pings playerID received.
func (r *Recorder) Pings(playerID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings[playerID]
}

// Reset clears recorded emissions and ping counts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = nil
	r.pings = make(map[uuid.UUID]int)
}
