package proof

import (
	"encoding/hex"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewSecretNote(t *testing.T) {
	a, err := NewSecretNote()
	require.NoError(t, err)
	b, err := NewSecretNote()
	require.NoError(t, err)

	require.Len(t, a, noteBytes*2)
	require.NotEqual(t, a, b)

	_, err = hex.DecodeString(a)
	require.NoError(t, err)
}

func TestHashNoteDeterministic(t *testing.T) {
	require.Equal(t, HashNote("note"), HashNote("note"))
	require.NotEqual(t, HashNote("note"), HashNote("note2"))
	require.Len(t, HashNote("note"), 64)
}

func TestDeriveIdentifier(t *testing.T) {
	id := DeriveIdentifier("wallet-1", HashNote("note"))
	require.Regexp(t, `^ZKP-[0-9A-F]{20}$`, id)

	// Deterministic per (owner, digest), distinct otherwise.
	require.Equal(t, id, DeriveIdentifier("wallet-1", HashNote("note")))
	require.NotEqual(t, id, DeriveIdentifier("wallet-2", HashNote("note")))
	require.NotEqual(t, id, DeriveIdentifier("wallet-1", HashNote("note2")))
}

func TestProofBalance(t *testing.T) {
	p := &Proof{
		Deposited: decimal.RequireFromString("10.5"),
		Withdrawn: decimal.RequireFromString("4.25"),
	}
	require.True(t, p.Balance().Equal(decimal.RequireFromString("6.25")))
}
