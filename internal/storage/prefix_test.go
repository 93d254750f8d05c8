package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixDB(t *testing.T) {
	testDB(t, NewPrefixDB(NewMemory(), []byte("sig/")))
}

func TestPrefixDB_Isolation(t *testing.T) {
	inner := NewMemory()
	sigs := NewPrefixDB(inner, []byte("sig/"))
	state := NewPrefixDB(inner, []byte("state/"))

	require.NoError(t, sigs.Put([]byte("open_1"), []byte("a")))
	require.NoError(t, state.Put([]byte("open_1"), []byte("b")))

	v, err := sigs.Get([]byte("open_1"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(v))

	v, err = inner.Get([]byte("state/open_1"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))

	_, err = inner.Get([]byte("open_1"))
	assert.ErrorIs(t, err, ErrNotFound, "keys only exist under their namespace")

	require.NoError(t, sigs.Close())
	v, err = inner.Get([]byte("sig/open_1"))
	require.NoError(t, err, "closing a namespace leaves the inner DB open")
	assert.Equal(t, "a", string(v))
}
