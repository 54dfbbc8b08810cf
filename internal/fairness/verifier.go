// Package fairness lets anyone check that a recorded outcome follows from
// the committed server seed, a client seed and a nonce.
package fairness

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/fairtable/internal/digest"
	"github.com/jason-s-yu/fairtable/internal/models"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	ErrSeedNotRevealed = errors.New("server seed not revealed")
	ErrSeedNotFound    = errors.New("seed commitment not found")
)

// Failure reasons carried by Report.
const (
	ReasonDataNotFound    = "data_not_found"
	ReasonSeedNotRevealed = "seed_not_revealed"
	ReasonHashMismatch    = "hash_mismatch"
	ReasonOutcomeMismatch = "outcome_mismatch"
)

// SeedSource gives scoped access to a session's open seed (rng.Engine).
type SeedSource interface {
	WithSeed(sessionID uuid.UUID, fn func(round int, seed string) error) error
}

// OutcomeRequest is a claimed outcome to check. Round 0 means the latest
// committed round.
type OutcomeRequest struct {
	SessionID  uuid.UUID      `json:"session_id"`
	Round      int            `json:"round,omitempty"`
	GameType   GameType       `json:"game_type"`
	Outcome    models.Outcome `json:"outcome"`
	ServerSeed string         `json:"server_seed"`
	ClientSeed string         `json:"client_seed"`
	Nonce      int            `json:"nonce"`
}

// Details is the transparency data published with a report.
type Details struct {
	Round            int            `json:"round"`
	GameType         GameType       `json:"game_type"`
	ServerSeed       string         `json:"server_seed"`
	ServerSeedHash   string         `json:"server_seed_hash"`
	ClientSeed       string         `json:"client_seed"`
	Nonce            int            `json:"nonce"`
	Outcome          models.Outcome `json:"outcome"`
	VerificationHash string         `json:"verification_hash"`
}

// Report is the end-user answer of VerifyFairness.
type Report struct {
	Valid   bool     `json:"is_valid"`
	Reason  string   `json:"reason,omitempty"`
	Details *Details `json:"details,omitempty"`
}

type Verifier struct {
	store store.Store
	seeds SeedSource
	log   logrus.FieldLogger
}

func NewVerifier(st store.Store, seeds SeedSource, log logrus.FieldLogger) *Verifier {
	return &Verifier{store: st, seeds: seeds, log: log}
}

func (v *Verifier) seedPair(ctx context.Context, sessionID uuid.UUID, round int) (models.SeedPair, error) {
	filter := store.Filter{"session_id": sessionID}
	if round > 0 {
		filter["round"] = round
	}
	pair, err := store.Latest[models.SeedPair](ctx, v.store, store.TableSeeds, filter)
	if errors.Is(err, store.ErrNotFound) {
		return pair, ErrSeedNotFound
	}
	return pair, err
}

// VerifyGameOutcome checks req against the stored commitment. It fails
// closed: a missing or unrevealed commitment is never valid.
func (v *Verifier) VerifyGameOutcome(ctx context.Context, req OutcomeRequest) (bool, error) {
	if !req.GameType.Supported() {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedGameType, req.GameType)
	}
	pair, err := v.seedPair(ctx, req.SessionID, req.Round)
	if err != nil {
		return false, err
	}
	if !pair.Revealed() {
		return false, ErrSeedNotRevealed
	}
	if digest.SHA256Hex(req.ServerSeed) != pair.ServerSeedHash {
		v.log.WithFields(logrus.Fields{"session": req.SessionID, "round": pair.Round}).
			Warn("fairness: server seed does not match commitment")
		return false, nil
	}

	expected, err := ExpectedOutcome(req.GameType, req.ServerSeed, req.ClientSeed, req.Nonce)
	if err != nil {
		return false, err
	}
	return SameOutcome(req.Outcome, expected), nil
}

// VerifyFairness checks the session's most recent recorded outcome.
func (v *Verifier) VerifyFairness(ctx context.Context, sessionID uuid.UUID) (Report, error) {
	rec, err := store.Latest[models.OutcomeRecord](ctx, v.store, store.TableOutcomes, store.Filter{"session_id": sessionID})
	if errors.Is(err, store.ErrNotFound) {
		return Report{Reason: ReasonDataNotFound}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("load outcome: %w", err)
	}

	pair, err := v.seedPair(ctx, sessionID, rec.Round)
	if errors.Is(err, ErrSeedNotFound) {
		return Report{Reason: ReasonDataNotFound}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("load seed: %w", err)
	}
	if !pair.Revealed() {
		return Report{Reason: ReasonSeedNotRevealed}, nil
	}

	details := &Details{
		Round:            rec.Round,
		GameType:         GameType(rec.GameType),
		ServerSeed:       pair.RevealedServerSeed,
		ServerSeedHash:   pair.ServerSeedHash,
		ClientSeed:       rec.ClientSeed,
		Nonce:            rec.Nonce,
		Outcome:          rec.Outcome,
		VerificationHash: VerificationHash(pair.RevealedServerSeed, rec.ClientSeed, rec.Nonce),
	}
	if digest.SHA256Hex(pair.RevealedServerSeed) != pair.ServerSeedHash {
		return Report{Reason: ReasonHashMismatch, Details: details}, nil
	}

	ok, err := v.VerifyGameOutcome(ctx, OutcomeRequest{
		SessionID:  sessionID,
		Round:      rec.Round,
		GameType:   GameType(rec.GameType),
		Outcome:    rec.Outcome,
		ServerSeed: pair.RevealedServerSeed,
		ClientSeed: rec.ClientSeed,
		Nonce:      rec.Nonce,
	})
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{Reason: ReasonOutcomeMismatch, Details: details}, nil
	}
	return Report{Valid: true, Details: details}, nil
}

// PlayRound derives and records the next outcome of the session's open round.
// An empty clientSeed is replaced by a generated one. The nonce is the number
// of outcomes already recorded in the round.
func (v *Verifier) PlayRound(ctx context.Context, sessionID uuid.UUID, gameType GameType, clientSeed string) (models.OutcomeRecord, error) {
	if !gameType.Supported() {
		return models.OutcomeRecord{}, fmt.Errorf("%w: %q", ErrUnsupportedGameType, gameType)
	}
	if clientSeed == "" {
		var err error
		if clientSeed, err = GenerateClientSeed(); err != nil {
			return models.OutcomeRecord{}, err
		}
	}

	var rec models.OutcomeRecord
	err := v.seeds.WithSeed(sessionID, func(round int, seed string) error {
		nonce, err := store.Count(ctx, v.store, store.TableOutcomes, store.Filter{"session_id": sessionID, "round": round})
		if err != nil {
			return err
		}
		outcome, err := ExpectedOutcome(gameType, seed, clientSeed, nonce)
		if err != nil {
			return err
		}
		rec = models.OutcomeRecord{
			SessionID:  sessionID,
			Round:      round,
			GameType:   string(gameType),
			ClientSeed: clientSeed,
			Nonce:      nonce,
			Outcome:    outcome,
			CreatedAt:  time.Now().UTC(),
		}
		if _, err := v.store.Append(ctx, store.TableOutcomes, rec); err != nil {
			return fmt.Errorf("store outcome: %w", err)
		}
		return nil
	})
	return rec, err
}

// GenerateClientSeed returns 16 random bytes, hex encoded.
func GenerateClientSeed() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random client seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}
