package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/peers"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/storage"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
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

type fakeTxSource struct {
	txs map[model.Hash]model.IndexedTransaction
}

func (f *fakeTxSource) Transaction(hash model.Hash) (model.IndexedTransaction, bool) {
	tx, ok := f.txs[hash]
	return tx, ok
}

func (f *fakeTxSource) Hashes() []model.Hash {
	out := make([]model.Hash, 0, len(f.txs))
	for h := range f.txs {
		out = append(out, h)
	}
	return out
}

func newTestServer(t *testing.T) (*Server, model.IndexedHeader, *chain.Chain, *BlockStore) {
	t.Helper()
	genesis := mineHeader(t, model.ZeroHash, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	blocks := NewBlockStore(storage.NewMemStore())
	reg := peers.NewRegistry(nil)
	s := New(c, blocks, &fakeTxSource{txs: make(map[model.Hash]model.IndexedTransaction)}, reg, nil, nil)
	return s, genesis, c, blocks
}

func TestHandleGetHeadersReturnsHeadersAfterLocator(t *testing.T) {
	s, genesis, c, _ := newTestServer(t)
	h1 := mineHeader(t, genesis.Hash, 1_000_000)
	h2 := mineHeader(t, h1.Hash, 2_000_000)
	_, _, _, err := c.InsertHeader(h1)
	require.NoError(t, err)
	_, _, _, err = c.InsertHeader(h2)
	require.NoError(t, err)

	resp, err := s.HandleGetHeaders(chain.PeerID(1), wire.MsgGetHeaders{Locator: wire.Locator{Hashes: []model.Hash{genesis.Hash}}})
	require.NoError(t, err)
	require.Len(t, resp.Headers, 2)
	require.Equal(t, h1.Hash, resp.Headers[0].Hash)
	require.Equal(t, h2.Hash, resp.Headers[1].Hash)
}

func TestHandleGetDataReturnsBlockAndCoalescesNotFound(t *testing.T) {
	s, genesis, c, blocks := newTestServer(t)
	h1 := mineHeader(t, genesis.Hash, 1_000_000)
	_, _, _, err := c.InsertHeader(h1)
	require.NoError(t, err)
	blk := model.IndexedBlock{Header: h1}
	require.NoError(t, blocks.Put(blk, 1, model.Work{}))

	missingHash := model.Hash{0xFF}
	resp, err := s.HandleGetData(chain.PeerID(1), wire.MsgGetData{Items: []wire.InventoryVector{
		wire.Block(h1.Hash),
		wire.Block(missingHash),
	}})
	require.NoError(t, err)
	require.Len(t, resp, 2)

	_, isBlock := resp[0].(wire.MsgBlock)
	require.True(t, isBlock)
	nf, isNotFound := resp[1].(wire.MsgNotFound)
	require.True(t, isNotFound)
	require.Len(t, nf.Items, 1)
	require.Equal(t, missingHash, nf.Items[0].Hash)
}

func TestHandleGetDataRejectsOversizedRequestAndPenalizes(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	s.reg.Add(chain.PeerID(9), peers.ServiceNetwork, peers.Capabilities{})

	items := make([]wire.InventoryVector, wire.InvMaxInventoryLen+1)
	for i := range items {
		items[i] = wire.Block(model.Hash{byte(i)})
	}
	_, err := s.HandleGetData(chain.PeerID(9), wire.MsgGetData{Items: items})
	require.Error(t, err)

	rec, ok := s.reg.Get(chain.PeerID(9))
	require.True(t, ok)
	require.Greater(t, rec.Score(time.Now()), float64(0))
}

func TestHandleMempoolReturnsPoolInventory(t *testing.T) {
	genesis := mineHeader(t, model.ZeroHash, 0)
	c := chain.New(genesis, consensusiface.NewDefault(), 0, nil)
	blocks := NewBlockStore(storage.NewMemStore())
	reg := peers.NewRegistry(nil)
	txHash := model.Hash{0x01}
	s := New(c, blocks, &fakeTxSource{txs: map[model.Hash]model.IndexedTransaction{
		txHash: {Hash: txHash},
	}}, reg, nil, nil)

	resp, err := s.HandleMempool(chain.PeerID(2))
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.Equal(t, txHash, resp.Items[0].Hash)
}

func TestAcceptInboundEnforcesSlotBudget(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	s.SetMaxInboundConnections(1)

	require.NoError(t, s.AcceptInbound(chain.PeerID(1), peers.ServiceNetwork, peers.Capabilities{}))
	err := s.AcceptInbound(chain.PeerID(2), peers.ServiceNetwork, peers.Capabilities{})
	require.ErrorIs(t, err, ErrTooManyInboundPeers)
}

func TestRateLimitRejectsBurstAboveBudget(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	peer := chain.PeerID(5)

	var lastErr error
	for i := 0; i < DefaultRequestBurst+5; i++ {
		_, lastErr = s.HandleMempool(peer)
		if lastErr != nil {
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrRateLimited)
}
