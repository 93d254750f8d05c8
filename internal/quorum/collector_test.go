package quorum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/peerclient"
	"github.com/plenny-labs/dlsp/internal/storage"
	"github.com/plenny-labs/dlsp/pkg/crypto"
)

type validator struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newValidators(t *testing.T, n int) []validator {
	t.Helper()
	vs := make([]validator, n)
	for i := range vs {
		k, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		vs[i] = validator{key: k, addr: crypto.Address(k)}
	}
	return vs
}

func addrs(vs []validator) []common.Address {
	out := make([]common.Address, len(vs))
	for i, v := range vs {
		out[i] = v.addr
	}
	return out
}

// fakePeers signs the digest with the key registered under the service URL.
type fakePeers struct {
	mu     sync.Mutex
	digest []byte
	keys   map[string]*ecdsa.PrivateKey
	fail   map[string]error
	forge  map[string]*ecdsa.PrivateKey // sign with a different key
	calls  []string
}

func (p *fakePeers) RequestSignature(_ context.Context, url string, _ peerclient.Payload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, url)
	if err := p.fail[url]; err != nil {
		return "", err
	}
	key := p.keys[url]
	if k, ok := p.forge[url]; ok {
		key = k
	}
	sig, err := ethcrypto.Sign(p.digest, key)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

type directory map[common.Address]string

func (d directory) ValidatorServiceURL(_ context.Context, addr common.Address) (string, error) {
	if u, ok := d[addr]; ok {
		return u, nil
	}
	return "", errors.New("unknown validator")
}

type harness struct {
	vs    []validator
	peers *fakePeers
	dir   directory
	store *Store
	req   Request
}

func newHarness(t *testing.T, n int) *harness {
	vs := newValidators(t, n)
	digest := crypto.OpeningDigest(1, 100000, 0x0a0000010000, "02aa", "03bb")
	h := &harness{
		vs:    vs,
		peers: &fakePeers{digest: digest, keys: map[string]*ecdsa.PrivateKey{}, fail: map[string]error{}, forge: map[string]*ecdsa.PrivateKey{}},
		dir:   directory{},
		store: NewStore(storage.NewMemory()),
		req: Request{
			Key:     OpeningKey(0x0a0000010000),
			Payload: peerclient.SignChannelOpeningRequest{ChannelIndex: 1, ChannelID: 0x0a0000010000},
			Digest:  digest,
		},
	}
	for i, v := range vs {
		url := fmt.Sprintf("https://v%d.example", i)
		h.dir[v.addr] = url
		h.peers.keys[url] = v.key
	}
	return h
}

func (h *harness) url(i int) string { return h.dir[h.vs[i].addr] }

func TestCollect_StopsAtQuorum(t *testing.T) {
	h := newHarness(t, 4)
	c := NewCollector(h.store, h.peers, h.dir, nil)

	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	require.NoError(t, err)
	assert.Len(t, b, 2)
	assert.Len(t, h.peers.calls, 2)

	stored, err := h.store.Load(h.req.Key)
	require.NoError(t, err)
	assert.Equal(t, b, stored)
}

func TestCollect_AlreadyReached(t *testing.T) {
	h := newHarness(t, 3)
	c := NewCollector(h.store, h.peers, h.dir, nil)

	_, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	require.NoError(t, err)
	h.peers.calls = nil

	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	require.NoError(t, err)
	assert.Len(t, b, 2)
	assert.Empty(t, h.peers.calls)
}

func TestCollect_SkipsPresentValidators(t *testing.T) {
	h := newHarness(t, 3)
	c := NewCollector(h.store, h.peers, h.dir, nil)

	// First pass: only validator 0 reachable.
	h.peers.fail[h.url(1)] = errors.New("timeout")
	h.peers.fail[h.url(2)] = errors.New("timeout")
	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 3)
	require.NoError(t, err)
	assert.Len(t, b, 1)

	// Second pass: the others recover; validator 0 must not be asked again.
	h.peers.fail = map[string]error{}
	h.peers.calls = nil
	b, err = c.Collect(context.Background(), h.req, addrs(h.vs), 3)
	require.NoError(t, err)
	assert.Len(t, b, 3)
	assert.Equal(t, []string{h.url(1), h.url(2)}, h.peers.calls)
	assert.Equal(t, h.vs[0].addr.Hex(), b[0].Address)
}

func TestCollect_PeerFailureDoesNotAbort(t *testing.T) {
	h := newHarness(t, 3)
	h.peers.fail[h.url(0)] = errors.New("connection refused")
	delete(h.dir, h.vs[1].addr) // no service url
	c := NewCollector(h.store, h.peers, h.dir, nil)

	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, h.vs[2].addr.Hex(), b[0].Address)
}

func TestCollect_RejectsForgedSignature(t *testing.T) {
	h := newHarness(t, 2)
	h.peers.forge[h.url(1)] = h.vs[0].key
	c := NewCollector(h.store, h.peers, h.dir, nil)

	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, h.vs[0].addr.Hex(), b[0].Address)
}

func TestCollect_NoDigestAcceptsAnyWellFormed(t *testing.T) {
	h := newHarness(t, 2)
	h.peers.forge[h.url(1)] = h.vs[0].key
	h.req.Digest = nil
	c := NewCollector(h.store, h.peers, h.dir, nil)

	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	require.NoError(t, err)
	assert.Len(t, b, 2)
}

func TestCollect_LocalSignature(t *testing.T) {
	h := newHarness(t, 3)
	self := h.vs[0]
	c := NewCollector(h.store, h.peers, h.dir, self.key)

	b, err := c.Collect(context.Background(), h.req, addrs(h.vs), 1)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, self.addr.Hex(), b[0].Address)
	assert.Empty(t, h.peers.calls)

	canon, err := Canonicalize(b)
	require.NoError(t, err)
	got, err := crypto.RecoverAddress(h.req.Digest, canon[0])
	require.NoError(t, err)
	assert.Equal(t, self.addr, got)
}

// failingDB fails every write.
type failingDB struct{ storage.DB }

func (failingDB) Put([]byte, []byte) error { return errors.New("disk full") }

func TestCollect_PersistFailure(t *testing.T) {
	h := newHarness(t, 2)
	c := NewCollector(NewStore(failingDB{storage.NewMemory()}), h.peers, h.dir, nil)

	_, err := c.Collect(context.Background(), h.req, addrs(h.vs), 2)
	assert.Error(t, err)
}
