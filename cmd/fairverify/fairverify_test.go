package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jason-s-yu/fairtable/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOutcomeCommand(t *testing.T) {
	out, err := run(t, "outcome", "--game", "slots", "--server-seed", "server", "--client-seed", "client", "--nonce", "7", "--outcome", "4,2,2")
	require.NoError(t, err)
	assert.Contains(t, out, "verification_hash: 2b812aeac8c94fb6380d8396852568a106ece4e729d84b624a10d60dcecdd3a3")
	assert.Contains(t, out, "outcome: 4,2,2")
	assert.Contains(t, out, "valid")

	out, err = run(t, "outcome", "--game", "roulette", "--server-seed", "server", "--client-seed", "client", "--nonce", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "outcome: 34\n")

	_, err = run(t, "outcome", "--game", "cards", "--server-seed", "server", "--client-seed", "client", "--nonce", "7", "--outcome", "3")
	assert.ErrorIs(t, err, errMismatch)

	_, err = run(t, "outcome", "--game", "slots", "--server-seed", "server", "--client-seed", "client",
		"--commitment", digest.SHA256Hex("other"))
	assert.ErrorIs(t, err, errMismatch)

	_, err = run(t, "outcome", "--game", "dice", "--server-seed", "server", "--client-seed", "client")
	assert.Error(t, err)
}

func TestCommitmentCommand(t *testing.T) {
	out, err := run(t, "commitment", "--server-seed", "server", "--expect", strings.ToUpper(digest.SHA256Hex("server")))
	require.NoError(t, err)
	assert.Equal(t, digest.SHA256Hex("server")+"\n", out)

	_, err = run(t, "commitment", "--server-seed", "server", "--expect", digest.SHA256Hex("x"))
	assert.ErrorIs(t, err, errMismatch)
}

func TestDrawCommand(t *testing.T) {
	out, err := run(t, "draw", "--server-seed", strings.Repeat("a", 64), "--min", "1", "--max", "6", "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, "0\t4\n1\t6\n2\t1\n", out)
}
