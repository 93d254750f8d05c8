package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// LoadKey reads a hex-encoded 32-byte secp256k1 account key. The argument is
// either a file path or the hex key itself when prefixed with "0x".
func LoadKey(pathOrHex string) (*ecdsa.PrivateKey, error) {
	hexStr := pathOrHex
	if !strings.HasPrefix(pathOrHex, "0x") {
		data, err := os.ReadFile(ExpandHome(pathOrHex))
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		hexStr = string(data)
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexStr), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}

// Address returns the account address of a key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}
