package verifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

const easyBits = 0x207fffff

func mineHeader(t *testing.T, prev model.Hash, nonceSeed uint32) model.IndexedHeader {
	t.Helper()
	raw := model.RawHeader{Version: 1, PrevHash: prev, Bits: easyBits, Time: 1_600_000_000, Nonce: nonceSeed}
	for n := nonceSeed; n < nonceSeed+2_000_000; n++ {
		raw.Nonce = n
		h := model.NewIndexedHeader(raw)
		if model.HashMeetsTarget(h.Hash, easyBits) {
			return h
		}
	}
	t.Fatal("failed to mine header meeting easy target")
	return model.IndexedHeader{}
}

// blockFor pairs h with txs as-is; whether the transactions merkle to the
// header's declared root is up to the caller.
func blockFor(h model.IndexedHeader, txs ...model.IndexedTransaction) model.IndexedBlock {
	return model.IndexedBlock{Header: h, Transactions: txs}
}

type recordingSink struct {
	mu      sync.Mutex
	results map[model.Hash]error
	calls   int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{results: make(map[model.Hash]error)}
}

func (s *recordingSink) OnVerificationResult(hash model.Hash, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[hash] = err
	s.calls++
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *recordingSink) errFor(hash model.Hash) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.results[hash]
	return err, ok
}

func TestSubmitDeliversSuccessToSink(t *testing.T) {
	sink := newRecordingSink()
	v := New(consensusiface.NewDefault(), sink, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx, 1)

	genesis := mineHeader(t, model.ZeroHash, 0)
	h1 := mineHeader(t, genesis.Hash, 1_000_000)
	// At Header level VerifyBlock is a no-op regardless of transactions.
	v.Submit(blockFor(h1), consensusiface.Header)

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, time.Millisecond)

	err, ok := sink.errFor(h1.Hash)
	require.True(t, ok)
	require.NoError(t, err)
}

func TestSubmitReportsMerkleMismatchAtFullLevel(t *testing.T) {
	sink := newRecordingSink()
	v := New(consensusiface.NewDefault(), sink, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx, 1)

	genesis := mineHeader(t, model.ZeroHash, 0)
	h1 := mineHeader(t, genesis.Hash, 1_000_000)
	// h1's declared merkle root is the zero hash (no transactions were
	// folded in when mined); submitting a block with a transaction at
	// Full level must fail the merkle check.
	tx := model.IndexedTransaction{Hash: model.Hash{0x01}}
	v.Submit(blockFor(h1, tx), consensusiface.Full)

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, time.Millisecond)

	err, ok := sink.errFor(h1.Hash)
	require.True(t, ok)
	require.ErrorIs(t, err, consensusiface.ErrMerkleRootMismatch)
}

func TestMultipleWorkersDrainConcurrently(t *testing.T) {
	sink := newRecordingSink()
	v := New(consensusiface.NewDefault(), sink, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx, 4)

	genesis := mineHeader(t, model.ZeroHash, 0)
	const n = 20
	prev := genesis.Hash
	for i := 0; i < n; i++ {
		h := mineHeader(t, prev, uint32(i+1)*1_000_000)
		v.Submit(blockFor(h), consensusiface.Header)
		prev = h.Hash
	}

	require.Eventually(t, func() bool {
		return sink.count() == n
	}, 2*time.Second, time.Millisecond)
}

type recordingPersister struct {
	mu        sync.Mutex
	persisted []model.Hash
}

func (p *recordingPersister) Persist(b model.IndexedBlock) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = append(p.persisted, b.Header.Hash)
	return nil
}

func (p *recordingPersister) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.persisted)
}

// TestPersisterWritesOnSuccessOnly checks a Persister is called for a
// block that passes verification, and not for one that fails it (a failed
// merkle check must never reach durable storage).
func TestPersisterWritesOnSuccessOnly(t *testing.T) {
	sink := newRecordingSink()
	v := New(consensusiface.NewDefault(), sink, nil, nil, 0)
	persister := &recordingPersister{}
	v.SetPersister(persister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx, 1)

	genesis := mineHeader(t, model.ZeroHash, 0)
	ok1 := mineHeader(t, genesis.Hash, 1_000_000)
	v.Submit(blockFor(ok1), consensusiface.Header)

	bad := mineHeader(t, ok1.Hash, 2_000_000)
	tx := model.IndexedTransaction{Hash: model.Hash{0x01}}
	v.Submit(blockFor(bad, tx), consensusiface.Full)

	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, time.Second, time.Millisecond)

	require.Equal(t, 1, persister.len())
	err, ok := sink.errFor(bad.Hash)
	require.True(t, ok)
	require.ErrorIs(t, err, consensusiface.ErrMerkleRootMismatch)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	sink := newRecordingSink()
	v := New(consensusiface.NewDefault(), sink, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx, 2) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
