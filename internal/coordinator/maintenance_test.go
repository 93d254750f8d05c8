package coordinator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/registry"
)

const otherTx = "2222222222222222222222222222222222222222222222222222222222222222"

func profitlessHarness(t *testing.T, autoClose bool) *harness {
	t.Helper()
	cfg := testConfig()
	cfg.AutoCloseChannels = autoClose
	h := newHarness(t, cfg)

	// Channel 1 has no rewards left; channel 2 still earns.
	h.reg.SetChannel(registry.Channel{Index: 1, Status: registry.StatusOpen, ChannelPoint: fundingTx + ":0", RewardAmount: zero()})
	h.reg.SetChannel(registry.Channel{Index: 2, Status: registry.StatusOpen, ChannelPoint: otherTx + ":0", RewardAmount: big.NewInt(10)})
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 1, Status: 1, MakerAddress: h.self.addr, ChannelPoint: fundingTx + ":0", PlennyReward: zero()})
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 2, Status: 1, MakerAddress: h.self.addr, ChannelPoint: otherTx + ":0", PlennyReward: zero()})
	return h
}

func TestCloseProfitless(t *testing.T) {
	h := profitlessHarness(t, true)
	require.NoError(t, h.coord.CloseProfitlessChannels(context.Background()))

	require.Equal(t, 1, h.lnd.CloseCount())
	assert.Equal(t, fundingTx, h.lnd.Closes[0].TxID)
	assert.Equal(t, uint32(0), h.lnd.Closes[0].Index)
}

func TestCloseProfitless_Disabled(t *testing.T) {
	h := profitlessHarness(t, false)
	require.NoError(t, h.coord.CloseProfitlessChannels(context.Background()))
	assert.Zero(t, h.lnd.CloseCount())
}

func TestCloseProfitless_OtherMaker(t *testing.T) {
	h := profitlessHarness(t, true)
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 1, Status: 1, MakerAddress: common.HexToAddress("0x02"), ChannelPoint: fundingTx + ":0"})

	require.NoError(t, h.coord.CloseProfitlessChannels(context.Background()))
	assert.Zero(t, h.lnd.CloseCount())
}

func TestProfitless(t *testing.T) {
	assert.True(t, profitless(nil, nil))
	assert.True(t, profitless(zero(), zero()))
	assert.False(t, profitless(big.NewInt(1), zero()))
	assert.False(t, profitless(nil, big.NewInt(1)))
}
