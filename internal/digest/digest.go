// Package digest holds the one-way hashing primitives shared by the RNG,
// the outcome verifier and state replay. The exact byte layout here is part
// of the public fairness contract: external verifiers must reproduce it.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// SHA256Hex returns the lowercase hex SHA-256 of the UTF-8 bytes of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Chain hashes s, then hashes the resulting hex string, rounds times in total.
// rounds <= 0 returns s unchanged.
func Chain(s string, rounds int) string {
	h := s
	for i := 0; i < rounds; i++ {
		h = SHA256Hex(h)
	}
	return h
}

// PrefixUint64 interprets the first hexChars characters of a hex digest as a
// big-endian unsigned integer. hexChars must be in [1, 16].
func PrefixUint64(hexDigest string, hexChars int) (uint64, error) {
	if hexChars < 1 || hexChars > 16 {
		return 0, fmt.Errorf("prefix width %d out of range [1,16]", hexChars)
	}
	if len(hexDigest) < hexChars {
		return 0, fmt.Errorf("digest shorter than %d hex chars", hexChars)
	}
	v, err := strconv.ParseUint(hexDigest[:hexChars], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse digest prefix: %w", err)
	}
	return v, nil
}

// Fingerprint hashes the JSON encoding of v. Two values with identical
// encodings have identical fingerprints.
func Fingerprint(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
