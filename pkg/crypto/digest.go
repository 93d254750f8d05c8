package crypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OpeningDigest is the message a validator signs to attest a channel
// opening: keccak256(abi.encodePacked(uint256 channelIndex, uint256 capacity,
// uint256 channelId, string node1Pub, string node2Pub)), wrapped in the
// Ethereum signed-message prefix.
func OpeningDigest(channelIndex uint64, capacity int64, channelID uint64, node1Pub, node2Pub string) []byte {
	packed := make([]byte, 0, 96+len(node1Pub)+len(node2Pub))
	packed = append(packed, uint256(new(big.Int).SetUint64(channelIndex))...)
	packed = append(packed, uint256(big.NewInt(capacity))...)
	packed = append(packed, uint256(new(big.Int).SetUint64(channelID))...)
	packed = append(packed, node1Pub...)
	packed = append(packed, node2Pub...)
	return accounts.TextHash(ethcrypto.Keccak256(packed))
}

// ClosingDigest is the message a validator signs to attest a channel
// closing: keccak256(abi.encodePacked(uint256 channelIndex, string txId)),
// wrapped in the Ethereum signed-message prefix.
func ClosingDigest(channelIndex uint64, txID string) []byte {
	packed := make([]byte, 0, 32+len(txID))
	packed = append(packed, uint256(new(big.Int).SetUint64(channelIndex))...)
	packed = append(packed, txID...)
	return accounts.TextHash(ethcrypto.Keccak256(packed))
}

func uint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
