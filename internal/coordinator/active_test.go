package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/registry"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

func openChannel(h *harness) {
	h.reg.SetChannel(registry.Channel{
		Index:        1,
		Status:       registry.StatusOpen,
		ChannelPoint: fundingTx + ":0",
		AppliedDate:  100,
	})
}

func TestScanActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	openChannel(h)
	h.reg.SetChannel(registry.Channel{Index: 2, Status: registry.StatusClosed, ChannelPoint: fundingTx + ":1"})
	h.coord.Active.Add(2)

	require.NoError(t, h.coord.ScanActiveChannels(ctx))
	assert.Equal(t, []uint64{1}, h.coord.Active.Snapshot())
}

func TestProcessActive_UnspentRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	openChannel(h)
	h.ledg.SetUnspent(fundingTx, 0)
	h.coord.Active.Add(1)

	assert.Equal(t, Retry, h.coord.ProcessActiveChannel(ctx, 1))
	assert.True(t, h.coord.Active.Contains(1))
	assert.Zero(t, h.reg.ClosingCount())
}

func TestProcessActive_SpentCommitsClosing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	openChannel(h)
	h.ledg.SetUnspent(fundingTx, 0)
	h.coord.Active.Add(1)
	require.Equal(t, Retry, h.coord.ProcessActiveChannel(ctx, 1))

	h.ledg.Spend(fundingTx, 0)
	assert.Equal(t, Committed, h.coord.ProcessActiveChannel(ctx, 1))
	assert.False(t, h.coord.Active.Contains(1))

	require.Equal(t, 1, h.reg.ClosingCount())
	c := h.reg.Closings[0]
	assert.Equal(t, uint64(1), c.ChannelIndex)
	assert.Equal(t, fundingTx, c.ClosingTxID)
	digest := crypto.ClosingDigest(1, fundingTx)
	assert.Equal(t, []common.Address{h.self.addr}, recoverSigners(t, digest, c.Signatures))

	// Answered: a second pass does nothing.
	assert.Equal(t, Dropped, h.coord.ProcessActiveChannel(ctx, 1))
	assert.Equal(t, 1, h.reg.ClosingCount())
}

func TestProcessActive_ClosedDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	h.reg.SetChannel(registry.Channel{Index: 1, Status: registry.StatusClosed, ChannelPoint: fundingTx + ":0"})
	h.coord.Active.Add(1)

	assert.Equal(t, Dropped, h.coord.ProcessActiveChannel(ctx, 1))
	assert.Zero(t, h.ledg.Calls["UnspentOutput"])
}

func TestProcessActive_ErrorsNotCounted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	openChannel(h)
	h.ledg.Err = errors.New("bitcoind unreachable")
	h.coord.Active.Add(1)

	for i := 0; i < 5; i++ {
		assert.Equal(t, Retry, h.coord.ProcessActiveChannel(ctx, 1))
	}
	assert.True(t, h.coord.Active.Contains(1))
	n, err := h.coord.Failures(1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessActive_PeerQuorum(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())
	openChannel(h)
	b := newSigner(t, "https://b")
	h.addValidator(b)
	h.reg.Quorum = 2
	h.coord.Active.Add(1)

	assert.Equal(t, Committed, h.coord.ProcessActiveChannel(ctx, 1))
	require.Equal(t, 1, h.reg.ClosingCount())
	signers := recoverSigners(t, crypto.ClosingDigest(1, fundingTx), h.reg.Closings[0].Signatures)
	assert.ElementsMatch(t, []common.Address{h.self.addr, b.addr}, signers)
}
