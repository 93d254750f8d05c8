// Package crypto holds the secp256k1 signature handling shared by the
// quorum collector and the registry client: canonical on-chain form,
// signing digests and signer recovery.
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the byte length of an r||s||v signature.
const SignatureLength = 65

// Recovery ids expected by the on-chain verifier.
const (
	RecoveryEven byte = 0x1b // 27
	RecoveryOdd  byte = 0x1c // 28
)

// ErrSignatureLength is returned for signatures that are not 65 bytes.
var ErrSignatureLength = errors.New("signature must be 65 bytes")

// DecodeSignature decodes an optionally 0x-prefixed hex signature and checks
// its length. The last byte is the recovery marker as produced by the signer.
func DecodeSignature(sigHex string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(b) != SignatureLength {
		return nil, fmt.Errorf("%w, got %d", ErrSignatureLength, len(b))
	}
	return b, nil
}

// Canonicalize maps a signer's r||s||marker signature to the on-chain form
// r||s||v. A 0x00 marker becomes 27, any other marker becomes 28.
func Canonicalize(sigHex string) ([]byte, error) {
	b, err := DecodeSignature(sigHex)
	if err != nil {
		return nil, err
	}
	out := make([]byte, SignatureLength)
	copy(out, b[:64])
	if b[64] == 0x00 {
		out[64] = RecoveryEven
	} else {
		out[64] = RecoveryOdd
	}
	return out, nil
}

// RecoverAddress returns the account that produced a canonical signature
// over hash.
func RecoverAddress(hash, canonical []byte) (common.Address, error) {
	if len(canonical) != SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	v := canonical[64]
	if v != RecoveryEven && v != RecoveryOdd {
		return common.Address{}, fmt.Errorf("invalid recovery id %#x", v)
	}

	// decred's compact form is v||r||s with v in [27, 30] for uncompressed keys.
	compact := make([]byte, SignatureLength)
	compact[0] = v
	copy(compact[1:], canonical[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	uncompressed := pub.SerializeUncompressed()
	return common.BytesToAddress(ethcrypto.Keccak256(uncompressed[1:])[12:]), nil
}
