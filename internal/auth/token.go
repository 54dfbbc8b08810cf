// internal/auth/token.go
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Keys signs and verifies player tokens with an ed25519 key pair.
type Keys struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration // 0 => tokens never expire
}

// Generate creates a fresh key pair at runtime. Tokens signed by it do not
// survive a restart.
func Generate(ttl time.Duration) (*Keys, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Keys{private: private, public: public, ttl: ttl}, nil
}

// FromFiles reads raw ed25519 private/public keys from disk.
func FromFiles(privatePath, publicPath string, ttl time.Duration) (*Keys, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected ed25519 key sizes: private=%d public=%d", len(privateKeyData), len(publicKeyData))
	}
	return &Keys{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		ttl:     ttl,
	}, nil
}

// ParseExpireTime reads a TOKEN_EXPIRE_TIME value. "never", "0" and "" mean
// no expiry.
func ParseExpireTime(s string) (time.Duration, error) {
	if s == "never" || s == "0" || s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// CreateJWT signs a token with "sub" = playerID.
func (k *Keys) CreateJWT(playerID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": playerID.String(),
		"iat": time.Now().Unix(),
	}
	if k.ttl > 0 {
		claims["exp"] = time.Now().Add(k.ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(k.private)
}

// Authenticate verifies a token and returns the player id in its "sub".
func (k *Keys) Authenticate(tokenString string) (uuid.UUID, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return k.public, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	sub, err := t.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	playerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed sub", ErrInvalidToken)
	}
	return playerID, nil
}
