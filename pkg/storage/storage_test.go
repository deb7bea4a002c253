package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreReadWrite(t *testing.T) {
	s := NewMemStore()
	var b Batch
	b.Put(ColBlockHeaders, []byte("h1"), []byte("header-one"))
	require.NoError(t, s.Write(b))

	v, err := s.Read(ColBlockHeaders, []byte("h1"))
	require.NoError(t, err)
	require.Equal(t, "header-one", string(v))

	_, err = s.Read(ColBlockHeaders, []byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreSnapshotIsolation(t *testing.T) {
	s := NewMemStore()
	var b Batch
	b.Put(ColMeta, []byte("k"), []byte("v1"))
	require.NoError(t, s.Write(b))

	snap, err := s.BeginTransaction()
	require.NoError(t, err)
	defer snap.Release()

	var b2 Batch
	b2.Put(ColMeta, []byte("k"), []byte("v2"))
	require.NoError(t, s.Write(b2))

	v, err := snap.Read(ColMeta, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(v), "snapshot must not observe writes made after it was taken")

	v2, err := s.Read(ColMeta, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v2))
}

func TestOverlayStoreCommit(t *testing.T) {
	under := NewMemStore()
	ov := NewOverlayStore(under)

	var b Batch
	b.Put(ColTransactions, []byte("tx1"), []byte("payload"))
	ov.Stage(b)

	_, err := under.Read(ColTransactions, []byte("tx1"))
	require.ErrorIs(t, err, ErrNotFound, "staged writes must not reach the underlying store before Commit")

	v, err := ov.Read(ColTransactions, []byte("tx1"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(v))

	require.NoError(t, ov.Commit())
	v2, err := under.Read(ColTransactions, []byte("tx1"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(v2))
}

func TestOverlayStoreDiscard(t *testing.T) {
	under := NewMemStore()
	ov := NewOverlayStore(under)
	var b Batch
	b.Put(ColTransactions, []byte("tx1"), []byte("payload"))
	ov.Stage(b)
	ov.Discard()
	require.NoError(t, ov.Commit())
	_, err := under.Read(ColTransactions, []byte("tx1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIterColumnOrdering(t *testing.T) {
	s := NewMemStore()
	var b Batch
	b.Put(ColBlockHashes, []byte("b"), []byte("2"))
	b.Put(ColBlockHashes, []byte("a"), []byte("1"))
	b.Put(ColBlockHashes, []byte("c"), []byte("3"))
	require.NoError(t, s.Write(b))

	var keys []string
	require.NoError(t, s.IterColumn(ColBlockHashes, func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}))
	require.Equal(t, []string{"a", "b", "c"}, keys)
}
