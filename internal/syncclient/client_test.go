package syncclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/peers"
	"github.com/btcsync-io/btcsyncd/internal/tasks"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

const testEasyBits = 0x207fffff

func mineTestHeader(t *testing.T, prev model.Hash, bits uint32, nonceSeed uint32) model.IndexedHeader {
	t.Helper()
	raw := model.RawHeader{Version: 1, PrevHash: prev, Bits: bits, Time: 1_600_000_000, Nonce: nonceSeed}
	for n := nonceSeed; n < nonceSeed+2_000_000; n++ {
		raw.Nonce = n
		h := model.NewIndexedHeader(raw)
		if model.HashMeetsTarget(h.Hash, bits) {
			return h
		}
	}
	t.Fatal("failed to mine header meeting easy target")
	return model.IndexedHeader{}
}

type fakeVerifier struct {
	client *Client
	fail   map[model.Hash]bool
}

func (f *fakeVerifier) Submit(b model.IndexedBlock, level consensusiface.VerificationLevel) {
	var err error
	if f.fail[b.Header.Hash] {
		err = require.AnError
	}
	f.client.apply(VerificationResultEvent{Hash: b.Header.Hash, Err: err})
}

type fakeMempool struct {
	reorgsSeen [][]model.Hash
}

func (f *fakeMempool) Reorg(displaced []model.Hash) {
	f.reorgsSeen = append(f.reorgsSeen, displaced)
}

type fakeListener struct {
	syncSwitches []bool
	storedHashes []model.Hash
}

func (f *fakeListener) OnSyncStateSwitched(isSynchronizing bool) {
	f.syncSwitches = append(f.syncSwitches, isSynchronizing)
}

func (f *fakeListener) OnBestStorageBlockInserted(hash model.Hash) {
	f.storedHashes = append(f.storedHashes, hash)
}

func newTestClient(t *testing.T) (*Client, model.IndexedHeader, *fakeVerifier, *fakeMempool, *fakeListener) {
	t.Helper()
	genesis := mineTestHeader(t, model.ZeroHash, testEasyBits, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	reg := peers.NewRegistry(nil)
	sched := tasks.NewScheduler(tasks.DefaultMaxInFlightBlocksPerPeer, tasks.DefaultMaxInFlightHeaderRequests)
	mp := &fakeMempool{}
	listener := &fakeListener{}

	cl := New(Config{RequiredBlockServices: peers.ServiceNetwork, CloseConnectionOnBadBlock: true}, c, reg, sched, nil, mp, listener, nil)
	verifier := &fakeVerifier{client: cl, fail: make(map[model.Hash]bool)}
	cl.verifier = verifier
	return cl, genesis, verifier, mp, listener
}

func TestOnConnectedTransitionsToSynchronizing(t *testing.T) {
	cl, _, _, _, listener := newTestClient(t)
	cl.apply(ConnectedEvent{Peer: 1, TipHeight: 50})

	require.Equal(t, Synchronizing, cl.State())
	require.Equal(t, []bool{true}, listener.syncSwitches)
}

func TestOnConnectedWithinHysteresisStaysSaturated(t *testing.T) {
	cl, _, _, _, listener := newTestClient(t)
	cl.apply(ConnectedEvent{Peer: 1, TipHeight: 5})

	require.Equal(t, Saturated, cl.State())
	require.Empty(t, listener.syncSwitches)
}

func TestOnBlockFlowStoresAndNotifiesListener(t *testing.T) {
	cl, genesis, _, _, listener := newTestClient(t)
	h1 := mineTestHeader(t, genesis.Hash, testEasyBits, 1_000_000)

	cl.apply(HeadersEvent{Peer: 1, Headers: []model.IndexedHeader{h1}})
	cl.apply(BlockEvent{Peer: 1, Block: model.IndexedBlock{Header: h1}})

	require.Equal(t, []model.Hash{h1.Hash}, listener.storedHashes)
	hash, height := cl.chain.BestStorageBlock()
	require.Equal(t, h1.Hash, hash)
	require.Equal(t, model.Height(1), height)
}

func TestOnHeadersPenalizesConsensusInvalidHeader(t *testing.T) {
	cl, genesis, _, _, _ := newTestClient(t)
	cl.registry.Add(7, peers.ServiceNetwork, peers.Capabilities{})

	cl.scheduler.Enqueue(genesis.Hash, tasks.KindHeader)
	assigned := cl.scheduler.Assign(time.Now(), []*peers.Record{mustGet(t, cl.registry, 7)})
	require.Len(t, assigned, 1)

	badHeader := model.NewIndexedHeader(model.RawHeader{
		Version:  1,
		PrevHash: genesis.Hash,
		Bits:     0x1d00ffff, // mainnet-hard target: an unmined nonce essentially never satisfies it.
		Time:     1_600_000_000,
		Nonce:    0,
	})

	cl.apply(HeadersEvent{Peer: 7, Headers: []model.IndexedHeader{badHeader}})

	_, known := cl.chain.HeaderByHash(badHeader.Hash)
	require.False(t, known)

	// The ban must actually disconnect peer 7: removed from the registry,
	// and its in-flight header request requeued rather than left stuck.
	_, ok := cl.registry.Get(7)
	require.False(t, ok)
	require.Equal(t, 1, cl.scheduler.PendingCount())
}

func TestOnVerificationErrorMarksDeadEndAndPenalizesSupplier(t *testing.T) {
	cl, genesis, verifier, _, _ := newTestClient(t)
	cl.registry.Add(1, peers.ServiceNetwork, peers.Capabilities{})
	h1 := mineTestHeader(t, genesis.Hash, testEasyBits, 1_000_000)
	verifier.fail[h1.Hash] = true

	cl.apply(HeadersEvent{Peer: 1, Headers: []model.IndexedHeader{h1}})
	cl.chain.SetRequested(h1.Hash, 1, chain.State{})
	cl.apply(BlockEvent{Peer: 1, Block: model.IndexedBlock{Header: h1}})

	require.Equal(t, chain.DeadEnd, cl.chain.StateOf(h1.Hash).Kind)

	// The ban must disconnect the supplying peer, not just log it.
	_, ok := cl.registry.Get(1)
	require.False(t, ok)
}

func TestOnPeerDisconnectRequeuesWork(t *testing.T) {
	cl, genesis, _, _, _ := newTestClient(t)
	h1 := mineTestHeader(t, genesis.Hash, testEasyBits, 1_000_000)
	cl.apply(HeadersEvent{Peer: 1, Headers: []model.IndexedHeader{h1}})
	// Register the peer only now, so the headers event's own scheduling
	// pass finds no eligible peer and h1 stays pending for Assign below.
	cl.registry.Add(1, peers.ServiceNetwork, peers.Capabilities{})

	cl.scheduler.Enqueue(h1.Hash, tasks.KindBlock)
	assigned := cl.scheduler.Assign(time.Now(), []*peers.Record{mustGet(t, cl.registry, 1)})
	require.Len(t, assigned, 1)

	cl.apply(PeerDisconnectEvent{Peer: 1})
	require.Equal(t, 1, cl.scheduler.PendingCount())
	_, ok := cl.registry.Get(1)
	require.False(t, ok)
}

func mustGet(t *testing.T, reg *peers.Registry, id chain.PeerID) *peers.Record {
	t.Helper()
	rec, ok := reg.Get(id)
	require.True(t, ok)
	return rec
}
