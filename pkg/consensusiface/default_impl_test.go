package consensusiface

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/btcsync-io/btcsyncd/pkg/model"
)

func mineHeader(t *testing.T, bits uint32, tm uint32) model.IndexedHeader {
	t.Helper()
	for nonce := uint32(0); nonce < 1_000_000; nonce++ {
		raw := model.RawHeader{Version: 1, Time: tm, Bits: bits, Nonce: nonce}
		h := model.NewIndexedHeader(raw)
		if model.HashMeetsTarget(h.Hash, bits) {
			return h
		}
	}
	t.Fatal("failed to mine a header meeting the easy test target")
	return model.IndexedHeader{}
}

func TestVerifyHeaderProofOfWork(t *testing.T) {
	v := NewDefault()
	v.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	easyBits := uint32(0x207fffff) // regtest-style trivial target
	h := mineHeader(t, easyBits, 1_900_000_000)

	require.NoError(t, v.VerifyHeader(h, Context{Level: Full}))

	bad := h
	bad.Raw.Nonce++
	bad = model.NewIndexedHeader(bad.Raw)
	err := v.VerifyHeader(bad, Context{Level: Full})
	if model.HashMeetsTarget(bad.Hash, easyBits) {
		t.Skip("nonce+1 coincidentally also met target")
	}
	require.ErrorIs(t, err, ErrInvalidProofOfWork)
}

func TestVerifyHeaderFutureDrift(t *testing.T) {
	v := NewDefault()
	now := time.Unix(1_000_000, 0)
	v.Now = func() time.Time { return now }

	h := mineHeader(t, 0x207fffff, uint32(now.Add(3*time.Hour).Unix()))
	err := v.VerifyHeader(h, Context{Level: Full})
	require.ErrorIs(t, err, ErrTimeOutOfRange)
}

func TestVerifyHeaderSkippedAtNoVerification(t *testing.T) {
	v := NewDefault()
	h := model.NewIndexedHeader(model.RawHeader{Bits: 0x1d00ffff}) // almost certainly fails PoW
	require.NoError(t, v.VerifyHeader(h, Context{Level: NoVerification}))
}

func TestVerifyBlockMerkleRoot(t *testing.T) {
	v := NewDefault()
	tx := model.NewIndexedTransaction(model.RawTransaction{Version: 1}, []byte("tx"))
	blk := model.IndexedBlock{
		Header:       model.NewIndexedHeader(model.RawHeader{MerkleRoot: tx.Hash}),
		Transactions: []model.IndexedTransaction{tx},
	}
	require.NoError(t, v.VerifyBlock(blk, Context{Level: Full}))

	blk.Header.Raw.MerkleRoot = model.DoubleHashH([]byte("wrong"))
	err := v.VerifyBlock(blk, Context{Level: Full})
	require.ErrorIs(t, err, ErrMerkleRootMismatch)
}

type fakeUTXO map[model.OutPoint]model.TxOut

func (f fakeUTXO) Output(op model.OutPoint) (model.TxOut, bool) {
	out, ok := f[op]
	return out, ok
}

func TestVerifyTransactionUnknownOutput(t *testing.T) {
	v := NewDefault()
	op := model.OutPoint{Hash: model.DoubleHashH([]byte("prev")), Index: 0}
	tx := model.NewIndexedTransaction(model.RawTransaction{Inputs: []model.TxIn{{PreviousOutput: op}}}, []byte("tx"))

	require.ErrorIs(t, v.VerifyTransaction(tx, fakeUTXO{}, Context{Level: Full}), ErrUnknownOutput)
	require.NoError(t, v.VerifyTransaction(tx, fakeUTXO{op: {Value: 1}}, Context{Level: Full}))
}

func TestVerifyTransactionWitnessPubKeyShape(t *testing.T) {
	v := NewDefault()
	op := model.OutPoint{Hash: model.DoubleHashH([]byte("prev")), Index: 0}
	utxo := fakeUTXO{op: {Value: 1}}

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	validPubKey := priv.PubKey().SerializeCompressed()

	good := model.NewIndexedTransaction(model.RawTransaction{
		Inputs: []model.TxIn{{PreviousOutput: op, Witness: [][]byte{{0x01}, validPubKey}}},
	}, []byte("good"))
	require.NoError(t, v.VerifyTransaction(good, utxo, Context{Level: Full}))

	garbage := make([]byte, 33)
	bad := model.NewIndexedTransaction(model.RawTransaction{
		Inputs: []model.TxIn{{PreviousOutput: op, Witness: [][]byte{{0x01}, garbage}}},
	}, []byte("bad"))
	require.ErrorIs(t, v.VerifyTransaction(bad, utxo, Context{Level: Full}), ErrMalformedWitnessPubKey)
}
