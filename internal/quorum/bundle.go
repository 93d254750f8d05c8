// Package quorum collects and persists validator signatures for channel
// lifecycle events until enough of them exist to commit on-chain.
package quorum

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/plenny-labs/dlsp/internal/storage"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

// ErrInvalidSignature is returned when a signature does not recover to the
// validator it was requested from.
var ErrInvalidSignature = errors.New("quorum: signature not from requested validator")

// Entry is one validator's signature.
type Entry struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Bundle is the ordered list of signatures gathered for one event, in the
// order they were received.
type Bundle []Entry

// Has reports whether addr already contributed.
func (b Bundle) Has(addr common.Address) bool {
	for _, e := range b {
		if common.HexToAddress(e.Address) == addr {
			return true
		}
	}
	return false
}

// OpeningKey is the bundle key for a channel opening.
func OpeningKey(channelID uint64) string {
	return fmt.Sprintf("open_%d", channelID)
}

// ClosingKey is the bundle key for a channel closing.
func ClosingKey(channelIndex uint64) string {
	return fmt.Sprintf("close_%d", channelIndex)
}

// IsReached reports whether b holds at least minQuorum signatures.
func IsReached(b Bundle, minQuorum int) bool {
	return len(b) >= minQuorum
}

// Canonicalize converts every signature to its 65-byte on-chain form,
// preserving bundle order.
func Canonicalize(b Bundle) ([][]byte, error) {
	out := make([][]byte, 0, len(b))
	for _, e := range b {
		sig, err := crypto.Canonicalize(e.Signature)
		if err != nil {
			return nil, fmt.Errorf("signature from %s: %w", e.Address, err)
		}
		out = append(out, sig)
	}
	return out, nil
}

// Store persists bundles as JSON arrays.
type Store struct {
	db storage.DB
}

// NewStore creates a bundle store on db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// Load returns the bundle for key, or an empty bundle if none was saved.
func (s *Store) Load(key string) (Bundle, error) {
	data, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return Bundle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", key, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", key, err)
	}
	return b, nil
}

// Save overwrites the bundle for key.
func (s *Store) Save(key string, b Bundle) error {
	if b == nil {
		b = Bundle{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bundle %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), data); err != nil {
		return fmt.Errorf("save bundle %s: %w", key, err)
	}
	return nil
}
