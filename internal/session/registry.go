package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/models"
)

// liveSession is the authoritative in-memory copy of one session. mu
// serializes its action log: every append, apply and status change for the
// session happens while it is held.
type liveSession struct {
	mu        sync.Mutex
	session   models.GameSession
	stopSweep context.CancelFunc
}

// registry indexes live sessions by id.
type registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*liveSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[uuid.UUID]*liveSession)}
}

func (r *registry) get(id uuid.UUID) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[id]
	return ls, ok
}

// add registers ls unless another goroutine got there first, in which case
// the existing entry is returned.
func (r *registry) add(ls *liveSession) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[ls.session.ID]; ok {
		return existing, false
	}
	r.sessions[ls.session.ID] = ls
	return ls, true
}

func (r *registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) ids() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
