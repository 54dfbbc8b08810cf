package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAuthenticate(t *testing.T) {
	keys, err := Generate(time.Hour)
	require.NoError(t, err)
	pid := uuid.New()

	token, err := keys.CreateJWT(pid)
	require.NoError(t, err)

	got, err := keys.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, pid, got)
}

func TestAuthenticateRejects(t *testing.T) {
	keys, err := Generate(0)
	require.NoError(t, err)
	other, err := Generate(0)
	require.NoError(t, err)

	foreign, err := other.CreateJWT(uuid.New())
	require.NoError(t, err)
	_, err = keys.Authenticate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(keys.private)
	require.NoError(t, err)
	_, err = keys.Authenticate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	notUUID, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{"sub": "guest"}).SignedString(keys.private)
	require.NoError(t, err)
	_, err = keys.Authenticate(notUUID)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = keys.Authenticate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseExpireTime(t *testing.T) {
	for _, never := range []string{"", "0", "never"} {
		d, err := ParseExpireTime(never)
		require.NoError(t, err)
		assert.Zero(t, d)
	}
	d, err := ParseExpireTime("72h")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	_, err = ParseExpireTime("soon")
	assert.Error(t, err)
}

func TestFromFiles(t *testing.T) {
	keys, err := Generate(0)
	require.NoError(t, err)
	dir := t.TempDir()
	priv := filepath.Join(dir, "key")
	pub := filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(priv, keys.private, 0o600))
	require.NoError(t, os.WriteFile(pub, keys.public, 0o644))

	loaded, err := FromFiles(priv, pub, 0)
	require.NoError(t, err)
	token, err := keys.CreateJWT(uuid.Nil)
	require.NoError(t, err)
	got, err := loaded.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got)

	_, err = FromFiles(filepath.Join(dir, "missing"), pub, 0)
	assert.Error(t, err)
}
