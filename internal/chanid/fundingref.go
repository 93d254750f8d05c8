// Package chanid derives short channel identifiers from funding
// transaction references.
package chanid

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// FundingRef references the on-chain output that backs a payment channel.
type FundingRef struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

// ParseFundingRef parses "txid:outputIndex".
func ParseFundingRef(s string) (FundingRef, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return FundingRef{}, fmt.Errorf("funding ref %q: expected txid:index", s)
	}
	txid := strings.ToLower(parts[0])
	if b, err := hex.DecodeString(txid); err != nil || len(b) != 32 {
		return FundingRef{}, fmt.Errorf("funding ref %q: txid must be 32-byte hex", s)
	}
	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return FundingRef{}, fmt.Errorf("funding ref %q: bad output index: %w", s, err)
	}
	return FundingRef{TxID: txid, Index: uint32(idx)}, nil
}

// String returns "txid:index".
func (r FundingRef) String() string {
	return fmt.Sprintf("%s:%d", r.TxID, r.Index)
}
