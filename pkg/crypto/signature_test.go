package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rs() string {
	return strings.Repeat("ab", 32) + strings.Repeat("cd", 32)
}

func TestCanonicalize_Marker(t *testing.T) {
	tests := []struct {
		marker string
		want   byte
	}{
		{"00", RecoveryEven},
		{"01", RecoveryOdd},
		{"1b", RecoveryOdd},
		{"ff", RecoveryOdd},
	}
	for _, tt := range tests {
		out, err := Canonicalize("0x" + rs() + tt.marker)
		require.NoError(t, err, tt.marker)
		require.Len(t, out, SignatureLength)
		assert.Equal(t, rs(), hex.EncodeToString(out[:64]))
		assert.Equal(t, tt.want, out[64], "marker %s", tt.marker)
	}
}

func TestCanonicalize_NoPrefix(t *testing.T) {
	out, err := Canonicalize(rs() + "00")
	require.NoError(t, err)
	assert.Equal(t, RecoveryEven, out[64])
}

func TestCanonicalize_BadInput(t *testing.T) {
	_, err := Canonicalize("0x" + rs())
	assert.ErrorIs(t, err, ErrSignatureLength)

	_, err = Canonicalize("0xzz")
	assert.Error(t, err)

	_, err = Canonicalize("")
	assert.ErrorIs(t, err, ErrSignatureLength)
}

func TestRecoverAddress(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	digest := ClosingDigest(3, "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	sig, err := ethcrypto.Sign(digest, key)
	require.NoError(t, err)

	canon, err := Canonicalize("0x" + hex.EncodeToString(sig))
	require.NoError(t, err)

	addr, err := RecoverAddress(digest, canon)
	require.NoError(t, err)
	assert.Equal(t, Address(key), addr)
}

func TestRecoverAddress_WrongDigest(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	sig, err := ethcrypto.Sign(ClosingDigest(1, "aa"), key)
	require.NoError(t, err)
	canon, err := Canonicalize(hex.EncodeToString(sig))
	require.NoError(t, err)

	addr, err := RecoverAddress(ClosingDigest(2, "aa"), canon)
	if err == nil {
		assert.NotEqual(t, Address(key), addr)
	}
}

func TestRecoverAddress_BadInput(t *testing.T) {
	_, err := RecoverAddress(make([]byte, 32), make([]byte, 64))
	assert.ErrorIs(t, err, ErrSignatureLength)

	_, err = RecoverAddress(make([]byte, 31), make([]byte, 65))
	assert.Error(t, err)

	bad := make([]byte, 65)
	bad[64] = 0x01
	_, err = RecoverAddress(make([]byte, 32), bad)
	assert.Error(t, err)
}
