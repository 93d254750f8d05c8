package chanid

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/ledger/ledgertest"
)

const (
	txA = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	txB = "0e3e2357e806b6cdb1f70b54c3a3a17b6714ee1f0e68bebb44a74b1efd512098"
)

func TestParseFundingRef(t *testing.T) {
	ref, err := ParseFundingRef(txA + ":1")
	require.NoError(t, err)
	assert.Equal(t, txA, ref.TxID)
	assert.Equal(t, uint32(1), ref.Index)
	assert.Equal(t, txA+":1", ref.String())

	upper, err := ParseFundingRef(strings.ToUpper(txA) + ":0")
	require.NoError(t, err)
	assert.Equal(t, txA, upper.TxID)
}

func TestParseFundingRef_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		txA,
		"zz:1",
		txA + ":",
		txA + ":-1",
		txA + ":4294967296",
		txA[:62] + ":0",
	} {
		_, err := ParseFundingRef(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		height, pos uint64
		out         uint32
		want        uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1 << 40},
		{700000, 1234, 1, 700000<<40 | 1234<<16 | 1},
		{0xFFFFFF, 0xFFFFFF, 0xFFFF, 0xFFFFFFFFFFFFFFFF},
	}
	for _, tt := range tests {
		got := Compose(tt.height, tt.pos, tt.out)
		assert.Equal(t, tt.want, got)

		h, p, o := Decompose(got)
		assert.Equal(t, tt.height, h)
		assert.Equal(t, tt.pos, p)
		assert.Equal(t, tt.out, o)
	}
}

func TestResolver_Resolve(t *testing.T) {
	l := ledgertest.New()
	l.AddBlock("blk1", 600123, 10, txB, "cc", txA)
	r := NewResolver(l)

	ref := FundingRef{TxID: txA, Index: 3}
	id, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(600123)<<40|uint64(2)<<16|3, id)

	// Same ledger state, same answer.
	again, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestResolver_FirstPositionInBlock(t *testing.T) {
	l := ledgertest.New()
	l.AddBlock("blk1", 500, 1, txA)

	id, err := NewResolver(l).Resolve(context.Background(), FundingRef{TxID: txA})
	require.NoError(t, err)
	assert.Equal(t, uint64(500)<<40, id)
}

func TestResolver_Unconfirmed(t *testing.T) {
	l := ledgertest.New()
	l.AddMempoolTx(txA)

	_, err := NewResolver(l).Resolve(context.Background(), FundingRef{TxID: txA})
	assert.True(t, errors.Is(err, ErrResolutionPending), "got %v", err)
}

func TestResolver_ZeroConfirmationBlock(t *testing.T) {
	l := ledgertest.New()
	l.AddBlock("stale", 10, 0, txA)

	_, err := NewResolver(l).Resolve(context.Background(), FundingRef{TxID: txA})
	assert.ErrorIs(t, err, ErrResolutionPending)
}

func TestResolver_NotFound(t *testing.T) {
	_, err := NewResolver(ledgertest.New()).Resolve(context.Background(), FundingRef{TxID: txA})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_LedgerFailure(t *testing.T) {
	l := ledgertest.New()
	l.Err = errors.New("connection refused")

	_, err := NewResolver(l).Resolve(context.Background(), FundingRef{TxID: txA})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrResolutionPending))
	assert.False(t, errors.Is(err, ErrNotFound))
}
