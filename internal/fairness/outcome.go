package fairness

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jason-s-yu/fairtable/internal/digest"
	"github.com/jason-s-yu/fairtable/internal/models"
)

// GameType selects how an outcome digest maps to a result.
type GameType string

const (
	GameSlots    GameType = "slots"
	GameRoulette GameType = "roulette"
	GameCards    GameType = "cards"
)

const (
	slotReels       = 3
	slotSymbols     = 6
	roulettePockets = 37
	deckSize        = 52
)

var ErrUnsupportedGameType = errors.New("unsupported game type")

// Supported reports whether outcomes can be derived for g.
func (g GameType) Supported() bool {
	switch g {
	case GameSlots, GameRoulette, GameCards:
		return true
	}
	return false
}

// VerificationHash is SHA256Hex(server + "-" + client + "-" + nonce), the
// digest every outcome is read from.
func VerificationHash(serverSeed, clientSeed string, nonce int) string {
	return digest.SHA256Hex(serverSeed + "-" + clientSeed + "-" + strconv.Itoa(nonce))
}

// ExpectedOutcome derives the result of (serverSeed, clientSeed, nonce).
// Slots read three 8-hex-char words mod 6; roulette and cards read the first
// word mod 37 and mod 52.
func ExpectedOutcome(gameType GameType, serverSeed, clientSeed string, nonce int) (models.Outcome, error) {
	h := VerificationHash(serverSeed, clientSeed, nonce)
	switch gameType {
	case GameSlots:
		out := make(models.Outcome, 0, slotReels)
		for i := 0; i < slotReels; i++ {
			v, err := word(h, i)
			if err != nil {
				return nil, err
			}
			out = append(out, int(v%slotSymbols))
		}
		return out, nil
	case GameRoulette:
		v, err := word(h, 0)
		if err != nil {
			return nil, err
		}
		return models.Outcome{int(v % roulettePockets)}, nil
	case GameCards:
		v, err := word(h, 0)
		if err != nil {
			return nil, err
		}
		return models.Outcome{int(v % deckSize)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGameType, gameType)
	}
}

func word(hexDigest string, i int) (uint64, error) {
	return digest.PrefixUint64(hexDigest[8*i:], 8)
}

// SameOutcome compares outcomes element by element.
func SameOutcome(a, b models.Outcome) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
