package quorum

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenny-labs/dlsp/internal/storage"
)

func sigWithMarker(marker string) string {
	return "0x" + strings.Repeat("ab", 64) + marker
}

func TestIsReached(t *testing.T) {
	b := Bundle{{Address: "0x01", Signature: sigWithMarker("00")}}
	assert.False(t, IsReached(b, 2))

	b = append(b, Entry{Address: "0x02", Signature: sigWithMarker("01")})
	assert.True(t, IsReached(b, 2))

	b = append(b, Entry{Address: "0x03", Signature: sigWithMarker("01")})
	assert.True(t, IsReached(b, 2))
	assert.Len(t, b, 3)

	assert.True(t, IsReached(Bundle{}, 0))
}

func TestCanonicalize(t *testing.T) {
	b := Bundle{
		{Address: "0x01", Signature: sigWithMarker("00")},
		{Address: "0x02", Signature: sigWithMarker("01")},
		{Address: "0x03", Signature: sigWithMarker("07")},
	}
	out, err := Canonicalize(b)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, sig := range out {
		assert.Len(t, sig, 65)
	}
	assert.Equal(t, byte(0x1b), out[0][64])
	assert.Equal(t, byte(0x1c), out[1][64])
	assert.Equal(t, byte(0x1c), out[2][64])
}

func TestCanonicalize_Malformed(t *testing.T) {
	_, err := Canonicalize(Bundle{{Address: "0x01", Signature: "0x1234"}})
	assert.Error(t, err)
}

func TestBundle_Has(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := Bundle{{Address: "0x00000000000000000000000000000000000000AA"}}
	assert.True(t, b.Has(addr))
	assert.False(t, b.Has(common.HexToAddress("0xbb")))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "open_769658110572789761", OpeningKey(769658110572789761))
	assert.Equal(t, "close_12", ClosingKey(12))
}

func TestStore_LoadSave(t *testing.T) {
	s := NewStore(storage.NewMemory())

	b, err := s.Load("open_1")
	require.NoError(t, err)
	assert.Empty(t, b)

	want := Bundle{
		{Address: "0x01", Signature: sigWithMarker("00")},
		{Address: "0x02", Signature: sigWithMarker("01")},
	}
	require.NoError(t, s.Save("open_1", want))

	got, err := s.Load("open_1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_WireFormat(t *testing.T) {
	db := storage.NewMemory()
	s := NewStore(db)
	require.NoError(t, s.Save("close_3", Bundle{{Address: "0xA", Signature: "0xB"}}))

	raw, err := db.Get([]byte("close_3"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"address":"0xA","signature":"0xB"}]`, string(raw))
}

func TestStore_Corrupt(t *testing.T) {
	db := storage.NewMemory()
	require.NoError(t, db.Put([]byte("open_9"), []byte("not json")))
	_, err := NewStore(db).Load("open_9")
	assert.Error(t, err)
}
