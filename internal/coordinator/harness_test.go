package coordinator

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/ledger/ledgertest"
	"github.com/plenny-labs/dlsp/internal/lightning"
	"github.com/plenny-labs/dlsp/internal/lightning/lightningtest"
	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/internal/registry"
	"github.com/plenny-labs/dlsp/internal/registry/registrytest"
	"github.com/plenny-labs/dlsp/internal/storage"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

const (
	fundingTx    = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	coinbaseTx   = "0e3e2357e806b6cdb1f70b54c3a3a17b6714ee1f0e68bebb44a74b1efd512098"
	fundingBlock = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	fundingHgt   = 700000
	node1Pub     = "02aaaa"
	node2Pub     = "03bbbb"
	capacitySats = 50000
)

var channelID = chanid.Compose(fundingHgt, 1, 0)

// signer is a validator identity in tests.
type signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
	url  string
}

func newSigner(t *testing.T, url string) signer {
	t.Helper()
	k, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return signer{key: k, addr: crypto.Address(k), url: url}
}

// fakePeers answers signing requests the way validators do: each URL signs
// the digest matching the posted payload with its own key.
type fakePeers struct {
	mu      sync.Mutex
	keys    map[string]*ecdsa.PrivateKey
	fail    map[string]error
	digests func(peerclient.Payload) []byte
	calls   []string
}

func (p *fakePeers) RequestSignature(_ context.Context, url string, payload peerclient.Payload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, url)
	if err := p.fail[url]; err != nil {
		return "", err
	}
	key, ok := p.keys[url]
	if !ok {
		return "", errors.New("no such validator")
	}
	sig, err := ethcrypto.Sign(p.digests(payload), key)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func (p *fakePeers) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type harness struct {
	self  signer
	reg   *registrytest.Fake
	ledg  *ledgertest.Fake
	lnd   *lightningtest.Fake
	db    storage.DB
	peers *fakePeers
	coord *Coordinator
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = 0
	cfg.ProcessingDelay = 0
	cfg.ItemTimeout = 5 * time.Second
	return cfg
}

// newHarness builds a coordinator whose account is the single elected
// validator, with one requested channel whose funding transaction is
// confirmed at position 1 of its block.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	self := newSigner(t, "https://self")

	reg := registrytest.New(self.addr)
	reg.BlockNumber = 200
	reg.Expire = 6500
	reg.Elected = []common.Address{self.addr}
	reg.SetServiceURL(self.addr, self.url)
	reg.SetChannel(registry.Channel{
		Index:        1,
		Status:       registry.StatusRequested,
		ChannelPoint: fundingTx + ":0",
		AppliedDate:  100,
	})

	ledg := ledgertest.New()
	ledg.AddBlock(fundingBlock, fundingHgt, 6, coinbaseTx, fundingTx)

	lnd := lightningtest.New(node1Pub)
	lnd.AddChannel(lightning.ChannelInfo{
		ChannelID: channelID,
		ChanPoint: fundingTx + ":0",
		Capacity:  capacitySats,
		Node1Pub:  node1Pub,
		Node2Pub:  node2Pub,
	})

	peers := &fakePeers{
		keys:    map[string]*ecdsa.PrivateKey{self.url: self.key},
		fail:    map[string]error{},
		digests: payloadDigest,
	}
	db := storage.NewMemory()

	h := &harness{self: self, reg: reg, ledg: ledg, lnd: lnd, db: db, peers: peers}
	h.coord = New(cfg, Deps{
		Registry:  reg,
		Ledger:    ledg,
		Lightning: lnd,
		DB:        db,
		Peers:     peers,
		Key:       self.key,
	})
	return h
}

// addValidator elects another validator reachable through the fake peers.
func (h *harness) addValidator(s signer) {
	h.reg.Elected = append(h.reg.Elected, s.addr)
	h.reg.SetServiceURL(s.addr, s.url)
	h.peers.keys[s.url] = s.key
}

func payloadDigest(p peerclient.Payload) []byte {
	switch req := p.(type) {
	case peerclient.SignChannelOpeningRequest:
		return crypto.OpeningDigest(req.ChannelIndex, capacitySats, req.ChannelID, node1Pub, node2Pub)
	case peerclient.SignChannelClosingRequest:
		return crypto.ClosingDigest(req.ChannelIndex, req.ClosingTxID)
	}
	return make([]byte, 32)
}

func recoverSigners(t *testing.T, digest []byte, sigs [][]byte) []common.Address {
	t.Helper()
	out := make([]common.Address, len(sigs))
	for i, s := range sigs {
		addr, err := crypto.RecoverAddress(digest, s)
		require.NoError(t, err)
		out[i] = addr
	}
	return out
}

func zero() *big.Int { return new(big.Int) }
