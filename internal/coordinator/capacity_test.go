package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/lightning"
	"github.com/plenny-labs/dlsp/internal/registry"
)

const (
	peerPub  = "03cccc"
	peerHost = "10.0.0.7:9735"
)

func capacityHarness(t *testing.T) (*harness, chanid.FundingRef) {
	t.Helper()
	h := newHarness(t, testConfig())
	h.reg.SetCapacityRequest(registry.CapacityRequest{
		Index:        1,
		MakerAddress: h.self.addr,
		Capacity:     100000,
		NodeURL:      peerPub + "@" + peerHost,
		PlennyReward: zero(),
	})
	ref := chanid.FundingRef{TxID: fundingTx, Index: 1}
	h.lnd.OpenEvents = []lightning.OpenEvent{{Pending: &ref}}
	return h, ref
}

func TestScanCapacity(t *testing.T) {
	ctx := context.Background()
	h, _ := capacityHarness(t)
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 2, MakerAddress: common.HexToAddress("0x01")})
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 3, MakerAddress: h.self.addr, Status: 1})

	require.NoError(t, h.coord.ScanCapacityRequests(ctx))
	assert.Equal(t, []uint64{1}, h.coord.Capacity.Snapshot())
}

func TestProcessCapacity_OpensAndConfirms(t *testing.T) {
	ctx := context.Background()
	h, ref := capacityHarness(t)
	h.coord.Capacity.Add(1)

	assert.Equal(t, Committed, h.coord.ProcessCapacityRequest(ctx, 1))
	assert.False(t, h.coord.Capacity.Contains(1))

	require.Equal(t, 1, h.lnd.OpenCount())
	assert.Equal(t, peerPub, h.lnd.Opens[0].Peer)
	assert.Equal(t, int64(100000), h.lnd.Opens[0].Capacity)
	assert.Equal(t, []string{peerPub + "@" + peerHost}, h.lnd.Connects)

	require.Equal(t, 1, h.reg.RequestCount())
	assert.Equal(t, uint64(1), h.reg.Requests[0].CapacityIndex)
	assert.Equal(t, ref.String(), h.reg.Requests[0].ChannelPoint)

	_, saved, err := h.coord.records.CapacityPoint(1)
	require.NoError(t, err)
	assert.False(t, saved, "point cleared after confirmation")
}

func TestProcessCapacity_ResumesFromSavedPoint(t *testing.T) {
	ctx := context.Background()
	h, ref := capacityHarness(t)
	require.NoError(t, h.coord.records.SaveCapacityPoint(1, ref))
	h.coord.Capacity.Add(1)

	assert.Equal(t, Committed, h.coord.ProcessCapacityRequest(ctx, 1))
	assert.Zero(t, h.lnd.OpenCount())
	require.Equal(t, 1, h.reg.RequestCount())
	assert.Equal(t, ref.String(), h.reg.Requests[0].ChannelPoint)
}

func TestProcessCapacity_ConfirmFailureKeepsPoint(t *testing.T) {
	ctx := context.Background()
	h, ref := capacityHarness(t)
	h.reg.RequestErr = errors.New("replacement transaction underpriced")
	h.coord.Capacity.Add(1)

	assert.Equal(t, Retry, h.coord.ProcessCapacityRequest(ctx, 1))
	got, saved, err := h.coord.records.CapacityPoint(1)
	require.NoError(t, err)
	require.True(t, saved)
	assert.Equal(t, ref, got)

	h.reg.RequestErr = nil
	assert.Equal(t, Committed, h.coord.ProcessCapacityRequest(ctx, 1))
	assert.Equal(t, 1, h.lnd.OpenCount(), "no second channel is opened")
	assert.Equal(t, 1, h.reg.RequestCount())
}

func TestProcessCapacity_OpenErrorRetries(t *testing.T) {
	ctx := context.Background()
	h, _ := capacityHarness(t)
	h.lnd.OpenEvents = []lightning.OpenEvent{{Err: errors.New("not enough witness outputs")}}
	h.coord.Capacity.Add(1)

	assert.Equal(t, Retry, h.coord.ProcessCapacityRequest(ctx, 1))
	assert.True(t, h.coord.Capacity.Contains(1))
	assert.Zero(t, h.reg.RequestCount())
}

func TestProcessCapacity_StreamEndsWithoutFunding(t *testing.T) {
	ctx := context.Background()
	h, _ := capacityHarness(t)
	h.lnd.OpenEvents = nil
	h.coord.Capacity.Add(1)

	assert.Equal(t, Retry, h.coord.ProcessCapacityRequest(ctx, 1))
	assert.Zero(t, h.reg.RequestCount())
}

func TestProcessCapacity_FulfilledDropsStalePoint(t *testing.T) {
	ctx := context.Background()
	h, ref := capacityHarness(t)
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 1, MakerAddress: h.self.addr, Status: 1})
	require.NoError(t, h.coord.records.SaveCapacityPoint(1, ref))
	h.coord.Capacity.Add(1)

	assert.Equal(t, Dropped, h.coord.ProcessCapacityRequest(ctx, 1))
	_, saved, err := h.coord.records.CapacityPoint(1)
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Zero(t, h.lnd.OpenCount())
}

func TestProcessCapacity_NoHostSkipsConnect(t *testing.T) {
	ctx := context.Background()
	h, _ := capacityHarness(t)
	h.reg.SetCapacityRequest(registry.CapacityRequest{Index: 1, MakerAddress: h.self.addr, Capacity: 20000, NodeURL: peerPub})

	assert.Equal(t, Committed, h.coord.ProcessCapacityRequest(ctx, 1))
	assert.Empty(t, h.lnd.Connects)
}

func TestRunCapacityCycle_OverlappingCyclesOpenOnce(t *testing.T) {
	h, ref := capacityHarness(t)
	h.lnd.OpenDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.coord.RunCapacityCycle(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.lnd.OpenCount())
	require.Equal(t, 1, h.reg.RequestCount())
	assert.Equal(t, ref.String(), h.reg.Requests[0].ChannelPoint)
	assert.False(t, h.coord.Capacity.Contains(1))
}

func TestProcessCapacity_SkipsIndexInProgress(t *testing.T) {
	h, _ := capacityHarness(t)
	require.True(t, h.coord.claim(TaskCapacity, 1))

	assert.Equal(t, Retry, h.coord.ProcessCapacityRequest(context.Background(), 1))
	assert.Zero(t, h.lnd.OpenCount())

	h.coord.release(TaskCapacity, 1)
	assert.Equal(t, Committed, h.coord.ProcessCapacityRequest(context.Background(), 1))
	assert.Equal(t, 1, h.lnd.OpenCount())
}
