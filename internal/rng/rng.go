// Package rng implements the commit-reveal random number generator.
//
// Each session commits to a server seed by publishing its SHA-256 before any
// draw. Draw i is Chain(seed + decimal(i), HashRounds); the first 16 hex chars
// of that digest, read as a uint64, are reduced into [min, max] by
// min + v mod (max-min+1). Anyone holding the revealed seed can repeat it.
package rng

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/digest"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// SeedLength is the number of random bytes in a server seed.
	SeedLength = 32
	// HashRounds is the work factor applied to every draw.
	HashRounds = 1000
	// PrefixHexChars is how much of the final digest becomes the draw value.
	PrefixHexChars = 16
)

var (
	ErrSessionAlreadyInitialized = errors.New("rng session already initialized")
	ErrSessionNotInitialized     = errors.New("rng session not initialized")
	ErrSessionSealed             = errors.New("rng session sealed")
	ErrInvalidRange              = errors.New("invalid draw range")
)

// Enqueuer accepts the random number log for asynchronous persistence.
type Enqueuer interface {
	Enqueue(table store.Table, record any)
}

// Reporter receives self-check failures.
type Reporter interface {
	Report(ctx context.Context, v models.SecurityViolation)
}

type draw struct {
	min, max, number int64
}

// sessionSeed is owned by one session. seed and draws are only populated
// while the round is open.
type sessionSeed struct {
	mu         sync.Mutex
	round      int
	commitment string
	seed       string
	draws      []draw
	sealed     bool
	ready      bool
}

// Engine holds the in-memory seeds of every live session.
type Engine struct {
	store   store.Store
	history Enqueuer
	alerts  Reporter
	log     logrus.FieldLogger

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionSeed
}

func NewEngine(st store.Store, history Enqueuer, alerts Reporter, log logrus.FieldLogger) *Engine {
	return &Engine{
		store:    st,
		history:  history,
		alerts:   alerts,
		log:      log,
		sessions: make(map[uuid.UUID]*sessionSeed),
	}
}

func (e *Engine) entry(sessionID uuid.UUID, create bool) *sessionSeed {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok && create {
		s = &sessionSeed{}
		e.sessions[sessionID] = s
	}
	return s
}

// InitializeSession generates a fresh seed for sessionID and persists its
// commitment. The first call for a session opens round 1 (or the round after
// the latest one already in the store); a call after RevealSeed opens the
// next round.
func (e *Engine) InitializeSession(ctx context.Context, sessionID uuid.UUID) (string, error) {
	s := e.entry(sessionID, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready && !s.sealed {
		return "", ErrSessionAlreadyInitialized
	}

	round := s.round + 1
	if !s.ready {
		latest, err := store.Latest[models.SeedPair](ctx, e.store, store.TableSeeds, store.Filter{"session_id": sessionID})
		switch {
		case err == nil:
			round = latest.Round + 1
		case !errors.Is(err, store.ErrNotFound):
			return "", fmt.Errorf("load previous seed: %w", err)
		}
	}

	seed, err := newSeed()
	if err != nil {
		return "", err
	}
	pair := models.SeedPair{
		SessionID:      sessionID,
		Round:          round,
		ServerSeedHash: digest.SHA256Hex(seed),
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := e.store.Append(ctx, store.TableSeeds, pair); err != nil {
		return "", fmt.Errorf("store seed commitment: %w", err)
	}

	s.round = round
	s.commitment = pair.ServerSeedHash
	s.seed = seed
	s.draws = nil
	s.sealed = false
	s.ready = true

	e.log.WithFields(logrus.Fields{"session": sessionID, "round": round}).Info("rng: seed committed")
	return seed, nil
}

// GenerateNumber draws the next number of the session's sequence.
func (e *Engine) GenerateNumber(ctx context.Context, sessionID uuid.UUID, min, max int64) (int64, error) {
	if min > max {
		return 0, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, min, max)
	}
	s := e.entry(sessionID, false)
	if s == nil {
		return 0, ErrSessionNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}

	index := len(s.draws)
	n, err := DeriveNumber(s.seed, index, min, max)
	if err != nil {
		return 0, err
	}
	s.draws = append(s.draws, draw{min: min, max: max, number: n})

	e.history.Enqueue(store.TableRandomNumberLog, models.RandomDraw{
		SessionID: sessionID,
		Round:     s.round,
		Index:     index,
		Min:       min,
		Max:       max,
		Number:    n,
		CreatedAt: time.Now().UTC(),
	})
	return n, nil
}

// VerifySequence recomputes every draw of the open round from the seed. A
// mismatch is reported as rng_verification_failed.
func (e *Engine) VerifySequence(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	s := e.entry(sessionID, false)
	if s == nil {
		return false, ErrSessionNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return false, err
	}

	for i, d := range s.draws {
		want, err := DeriveNumber(s.seed, i, d.min, d.max)
		if err != nil {
			return false, err
		}
		if want != d.number {
			e.alerts.Report(ctx, models.SecurityViolation{
				SessionID: sessionID,
				Type:      models.ViolationRNGVerificationFailed,
				Evidence: map[string]any{
					"round":          s.round,
					"sequence_index": i,
				},
			})
			return false, nil
		}
	}
	return true, nil
}

// RevealSeed publishes the plaintext seed of the open round and seals it.
func (e *Engine) RevealSeed(ctx context.Context, sessionID uuid.UUID) error {
	s := e.entry(sessionID, false)
	if s == nil {
		return ErrSessionNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	n, err := e.store.Update(ctx, store.TableSeeds,
		store.Filter{"session_id": sessionID, "round": s.round},
		map[string]any{
			"revealed_server_seed": s.seed,
			"revealed_at":          time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("store revealed seed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store revealed seed: commitment for round %d: %w", s.round, store.ErrNotFound)
	}

	s.seed = ""
	s.draws = nil
	s.sealed = true
	e.log.WithFields(logrus.Fields{"session": sessionID, "round": s.round}).Info("rng: seed revealed")
	return nil
}

// Commitment returns the round and committed hash of the session's current
// or most recently sealed round.
func (e *Engine) Commitment(sessionID uuid.UUID) (round int, hash string, err error) {
	s := e.entry(sessionID, false)
	if s == nil {
		return 0, "", ErrSessionNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, "", ErrSessionNotInitialized
	}
	return s.round, s.commitment, nil
}

// Draws returns how many numbers the open round has produced.
func (e *Engine) Draws(sessionID uuid.UUID) int {
	s := e.entry(sessionID, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.draws)
}

// WithSeed calls fn with the open round's plaintext seed. The seed never
// leaves the callback's scope through this API.
func (e *Engine) WithSeed(sessionID uuid.UUID, fn func(round int, seed string) error) error {
	s := e.entry(sessionID, false)
	if s == nil {
		return ErrSessionNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return fn(s.round, s.seed)
}

// Forget drops all in-memory state for sessionID.
func (e *Engine) Forget(sessionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

func (s *sessionSeed) usable() error {
	switch {
	case !s.ready:
		return ErrSessionNotInitialized
	case s.sealed:
		return ErrSessionSealed
	}
	return nil
}

// DeriveNumber computes draw index of seed mapped into [min, max].
func DeriveNumber(seed string, index int, min, max int64) (int64, error) {
	if min > max {
		return 0, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, min, max)
	}
	h := digest.Chain(seed+strconv.Itoa(index), HashRounds)
	v, err := digest.PrefixUint64(h, PrefixHexChars)
	if err != nil {
		return 0, err
	}
	span := uint64(max) - uint64(min) + 1
	if span == 0 {
		// [MinInt64, MaxInt64]
		return int64(v), nil
	}
	return int64(uint64(min) + v%span), nil
}

func newSeed() (string, error) {
	b := make([]byte, SeedLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}
