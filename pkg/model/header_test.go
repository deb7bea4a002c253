package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexedHeaderHashStability(t *testing.T) {
	raw := RawHeader{
		Version:    1,
		PrevHash:   ZeroHash,
		MerkleRoot: DoubleHashH([]byte("coinbase")),
		Time:       1231006505,
		Bits:       0x1d00ffff,
		Nonce:      2083236893,
	}
	want := DoubleHashH(raw.Serialize())

	got := NewIndexedHeader(raw)
	require.Equal(t, want, got.Hash)

	// Round trip through DeserializeHeader must reproduce the same bytes,
	// and therefore the same hash.
	back := DeserializeHeader(raw.Serialize())
	require.Equal(t, raw, back)
}

func TestMerkleRootSingleTx(t *testing.T) {
	h := DoubleHashH([]byte("only-tx"))
	require.Equal(t, h, MerkleRoot([]Hash{h}))
}

func TestMerkleRootOddDuplicatesLast(t *testing.T) {
	a := DoubleHashH([]byte("a"))
	b := DoubleHashH([]byte("b"))
	c := DoubleHashH([]byte("c"))

	got := MerkleRoot([]Hash{a, b, c})
	want := MerkleRoot([]Hash{a, b, c, c})
	require.Equal(t, want, got)
}

func TestVerifyMerkleRoot(t *testing.T) {
	tx1 := NewIndexedTransaction(RawTransaction{Version: 1}, []byte("tx1"))
	tx2 := NewIndexedTransaction(RawTransaction{Version: 1}, []byte("tx2"))
	root := MerkleRoot([]Hash{tx1.Hash, tx2.Hash})

	blk := IndexedBlock{
		Header:       NewIndexedHeader(RawHeader{MerkleRoot: root}),
		Transactions: []IndexedTransaction{tx1, tx2},
	}
	require.True(t, blk.VerifyMerkleRoot())

	blk.Header.Raw.MerkleRoot = DoubleHashH([]byte("wrong"))
	require.False(t, blk.VerifyMerkleRoot())
}

func TestWorkOrdering(t *testing.T) {
	easy := BlockWork(0x1d00ffff)
	hard := BlockWork(0x1c00ffff)
	require.Equal(t, -1, easy.Cmp(hard))

	sum := easy.Add(hard)
	require.Equal(t, 1, sum.Cmp(hard))
}
