package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

const easyBits = 0x207fffff

func mineHeader(t *testing.T, prev model.Hash, bits uint32, nonceSeed uint32) model.IndexedHeader {
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

func genesisHeader(t *testing.T) model.IndexedHeader {
	return mineHeader(t, model.ZeroHash, easyBits, 0)
}

// buildChain mines n headers atop genesis, returning them in order.
func buildChain(t *testing.T, genesis model.IndexedHeader, n int, nonceBase uint32) []model.IndexedHeader {
	t.Helper()
	out := make([]model.IndexedHeader, 0, n)
	prev := genesis.Hash
	for i := 0; i < n; i++ {
		h := mineHeader(t, prev, easyBits, nonceBase+uint32(i)*1_000_000)
		out = append(out, h)
		prev = h.Hash
	}
	return out
}

func newTestChain(t *testing.T) (*Chain, model.IndexedHeader) {
	t.Helper()
	genesis := genesisHeader(t)
	c := New(genesis, consensusiface.NewDefault(), 0, nil)
	return c, genesis
}

func storeBlock(t *testing.T, c *Chain, h model.IndexedHeader) {
	t.Helper()
	blk := model.IndexedBlock{Header: h}
	res, err := c.InsertBlock(blk)
	require.NoError(t, err)
	if res.Action == ActionEnqueueVerification {
		ready := c.OnBlockStored(h.Hash)
		for _, r := range ready {
			storeReady(t, c, r)
		}
	}
}

// storeReady drains a block that InsertBlock had held pending its parent.
func storeReady(t *testing.T, c *Chain, b model.IndexedBlock) {
	t.Helper()
	ready := c.OnBlockStored(b.Header.Hash)
	for _, r := range ready {
		storeReady(t, c, r)
	}
}

func TestLinearSync(t *testing.T) {
	c, genesis := newTestChain(t)
	headers := buildChain(t, genesis, 5, 1)

	for _, h := range headers {
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}

	for _, h := range headers {
		storeBlock(t, c, h)
	}

	tipHash, tipHeight := c.BestStorageBlock()
	require.Equal(t, headers[len(headers)-1].Hash, tipHash)
	require.Equal(t, model.Height(5), tipHeight)
}

func TestOutOfOrderBlocksStoreInOrder(t *testing.T) {
	c, genesis := newTestChain(t)
	headers := buildChain(t, genesis, 3, 1)
	for _, h := range headers {
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}

	// Blocks arrive 3, 1, 2.
	res3, err := c.InsertBlock(model.IndexedBlock{Header: headers[2]})
	require.NoError(t, err)
	require.Equal(t, ActionHeld, res3.Action)
	require.Equal(t, Scheduled, c.StateOf(headers[1].Hash).Kind) // header known, block not yet received

	res1, err := c.InsertBlock(model.IndexedBlock{Header: headers[0]})
	require.NoError(t, err)
	require.Equal(t, ActionEnqueueVerification, res1.Action)

	require.Equal(t, Verifying, c.StateOf(headers[2].Hash).Kind) // still held, untouched by block 1

	ready1 := c.OnBlockStored(headers[0].Hash)
	require.Empty(t, ready1) // block 2 hasn't arrived yet

	bestHash, bestHeight := c.BestStorageBlock()
	require.Equal(t, headers[0].Hash, bestHash)
	require.Equal(t, model.Height(1), bestHeight)

	res2, err := c.InsertBlock(model.IndexedBlock{Header: headers[1]})
	require.NoError(t, err)
	require.Equal(t, ActionEnqueueVerification, res2.Action) // parent (block 1) now Stored

	ready2 := c.OnBlockStored(headers[1].Hash)
	require.Len(t, ready2, 1)
	require.Equal(t, headers[2].Hash, ready2[0].Header.Hash)

	ready3 := c.OnBlockStored(headers[2].Hash)
	require.Empty(t, ready3)

	bestHash, bestHeight = c.BestStorageBlock()
	require.Equal(t, headers[2].Hash, bestHash)
	require.Equal(t, model.Height(3), bestHeight)
}

func TestInvalidBlockMidChainBecomesDeadEnd(t *testing.T) {
	c, genesis := newTestChain(t)
	h1 := mineHeader(t, genesis.Hash, easyBits, 1_000_000)
	_, _, _, err := c.InsertHeader(h1)
	require.NoError(t, err)

	// A header that doesn't meet its own declared target is
	// consensus-invalid and rejected by InsertHeader itself (a real
	// node would never let it become a chain entry at all), so the
	// "invalid block mid-chain" scenario is modeled by inserting a
	// structurally valid h2 and then having the verifier reject its body
	// (e.g. bad merkle root), which is the path MarkDeadEnd exists for.
	h2 := mineHeader(t, h1.Hash, easyBits, 2_000_000)
	_, _, _, err = c.InsertHeader(h2)
	require.NoError(t, err)

	affected := c.MarkDeadEnd(h2.Hash)
	require.Contains(t, affected, h2.Hash)
	require.Equal(t, DeadEnd, c.StateOf(h2.Hash).Kind)

	storeBlock(t, c, h1)
	bestHash, bestHeight := c.BestStorageBlock()
	require.Equal(t, h1.Hash, bestHash)
	require.Equal(t, model.Height(1), bestHeight)

	_, err = c.InsertBlock(model.IndexedBlock{Header: h2})
	require.Error(t, err)
}

func TestMarkDeadEndPropagatesToDescendants(t *testing.T) {
	c, genesis := newTestChain(t)
	chain := buildChain(t, genesis, 4, 1)
	for _, h := range chain {
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}

	affected := c.MarkDeadEnd(chain[1].Hash)
	require.ElementsMatch(t, []model.Hash{chain[1].Hash, chain[2].Hash, chain[3].Hash}, affected)
	for _, h := range chain[1:] {
		require.Equal(t, DeadEnd, c.StateOf(h.Hash).Kind)
	}
}

func TestReorgAdoptsHigherWorkBranch(t *testing.T) {
	c, genesis := newTestChain(t)

	aChain := buildChain(t, genesis, 5, 1)
	for _, h := range aChain {
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}
	for _, h := range aChain {
		storeBlock(t, c, h)
	}
	tipHash, tipHeight := c.BestStorageBlock()
	require.Equal(t, aChain[4].Hash, tipHash)
	require.Equal(t, model.Height(5), tipHeight)

	bChain := buildChain(t, genesis, 6, 50_000_000)
	var displaced, added []model.Hash
	for _, h := range bChain {
		d, a, _, err := c.InsertHeader(h)
		require.NoError(t, err)
		displaced = append(displaced, d...)
		added = append(added, a...)
	}
	require.ElementsMatch(t, []model.Hash{aChain[0].Hash, aChain[1].Hash, aChain[2].Hash, aChain[3].Hash, aChain[4].Hash}, displaced)
	require.Len(t, added, 6)

	for _, h := range bChain {
		storeBlock(t, c, h)
	}

	tipHash, tipHeight = c.BestStorageBlock()
	require.Equal(t, bChain[5].Hash, tipHash)
	require.Equal(t, model.Height(6), tipHeight)

	// A1..A5's headers remain known even though they're off the best
	// chain; their block state (Stored) is untouched, only bestIndex
	// membership changed, matching §8 scenario 4's "data remains
	// recoverable from the store".
	for _, h := range aChain {
		require.Equal(t, Stored, c.StateOf(h.Hash).Kind)
		_, known := c.HeaderByHash(h.Hash)
		require.True(t, known)
	}
}

func TestOrphanHeaderCapBoundary(t *testing.T) {
	c, _ := newTestChain(t)
	unknownParent := model.Hash{0xAB}

	for i := 0; i < MaxOrphanHeaders; i++ {
		h := mineHeader(t, unknownParent, easyBits, uint32(i)*1_000)
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}
	require.Equal(t, MaxOrphanHeaders, c.orphanHeaders.Len())

	overflow := mineHeader(t, unknownParent, easyBits, uint32(MaxOrphanHeaders)*1_000)
	_, _, _, err := c.InsertHeader(overflow)
	require.Error(t, err)
}

func TestOrphanHeaderPromotionOnParentArrival(t *testing.T) {
	c, genesis := newTestChain(t)
	h1 := mineHeader(t, genesis.Hash, easyBits, 1)
	h2 := mineHeader(t, h1.Hash, easyBits, 2_000_000)

	// h2 arrives first, with h1 (its parent) unknown: orphaned.
	_, _, _, err := c.InsertHeader(h2)
	require.NoError(t, err)
	require.Equal(t, 1, c.orphanHeaders.Len())
	_, known := c.HeaderByHash(h2.Hash)
	require.False(t, known)

	// h1 arrives: both h1 and h2 should now be linked in order.
	_, _, _, err = c.InsertHeader(h1)
	require.NoError(t, err)
	require.Equal(t, 0, c.orphanHeaders.Len())

	_, known = c.HeaderByHash(h1.Hash)
	require.True(t, known)
	_, known = c.HeaderByHash(h2.Hash)
	require.True(t, known)

	tip, height := c.BestHeaderChainTip()
	require.Equal(t, h2.Hash, tip)
	require.Equal(t, model.Height(2), height)
}

func TestOrphanBlockReparentedOnHeaderArrival(t *testing.T) {
	c, genesis := newTestChain(t)
	h1 := mineHeader(t, genesis.Hash, easyBits, 1)

	// The block body arrives before its own header: buffered as an
	// orphan block, not surfaced as a pending-verify child of anything.
	res, err := c.InsertBlock(model.IndexedBlock{Header: h1})
	require.NoError(t, err)
	require.Equal(t, ActionOrphaned, res.Action)
	require.Equal(t, 1, c.orphanBlocks.Len())
	require.Equal(t, State{}, c.StateOf(h1.Hash))

	// The header now arrives. Since h1's parent (genesis) is already
	// Stored, the previously-orphaned block should be reparented and come
	// back as ready for immediate verification, not left buffered.
	_, _, ready, err := c.InsertHeader(h1)
	require.NoError(t, err)
	require.Equal(t, 0, c.orphanBlocks.Len())
	require.Len(t, ready, 1)
	require.Equal(t, h1.Hash, ready[0].Header.Hash)
	require.Equal(t, Verifying, c.StateOf(h1.Hash).Kind)
}

func TestOrphanBlockHeldWhenParentNotYetStored(t *testing.T) {
	c, genesis := newTestChain(t)
	h1 := mineHeader(t, genesis.Hash, easyBits, 1)
	h2 := mineHeader(t, h1.Hash, easyBits, 2_000_000)

	// h2's body arrives orphaned (its header is unknown); h1's and h2's
	// headers arrive next but h1 itself isn't Stored yet, so reparented h2
	// should move to Held, not straight to ready.
	_, err := c.InsertBlock(model.IndexedBlock{Header: h2})
	require.NoError(t, err)
	require.Equal(t, 1, c.orphanBlocks.Len())

	_, _, _, err = c.InsertHeader(h1)
	require.NoError(t, err)
	_, _, ready, err := c.InsertHeader(h2)
	require.NoError(t, err)
	require.Equal(t, 0, c.orphanBlocks.Len())
	require.Empty(t, ready)
	// Held blocks carry Kind Verifying too (§3's state value has no
	// separate "Held" tag); InsertionResult.Action is what distinguished
	// it at insertion time, which storeBlock below drains via the
	// pendingVerifyChildren/heldBlocks bookkeeping.
	require.Equal(t, Verifying, c.StateOf(h2.Hash).Kind)

	storeBlock(t, c, h1)
	require.Equal(t, Stored, c.StateOf(h2.Hash).Kind)
}

func TestInsertBlockPreservesRequestedPeer(t *testing.T) {
	c, genesis := newTestChain(t)
	h1 := mineHeader(t, genesis.Hash, easyBits, 1)
	_, _, _, err := c.InsertHeader(h1)
	require.NoError(t, err)

	c.SetRequested(h1.Hash, PeerID(9), State{})
	_, err = c.InsertBlock(model.IndexedBlock{Header: h1})
	require.NoError(t, err)

	require.Equal(t, PeerID(9), c.StateOf(h1.Hash).Peer)
	require.Equal(t, Verifying, c.StateOf(h1.Hash).Kind)
}

func TestScheduleBlocksReturnsScheduledInHeightOrder(t *testing.T) {
	c, genesis := newTestChain(t)
	headers := buildChain(t, genesis, 4, 1)
	for _, h := range headers {
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}

	scheduled := c.ScheduleBlocks(2)
	require.Equal(t, []model.Hash{headers[0].Hash, headers[1].Hash}, scheduled)

	storeBlock(t, c, headers[0])
	scheduled = c.ScheduleBlocks(10)
	require.Equal(t, []model.Hash{headers[1].Hash, headers[2].Hash, headers[3].Hash}, scheduled)
}

func TestHashAtHeightAndWorkOf(t *testing.T) {
	c, genesis := newTestChain(t)
	headers := buildChain(t, genesis, 3, 1)
	for _, h := range headers {
		_, _, _, err := c.InsertHeader(h)
		require.NoError(t, err)
	}
	for _, h := range headers {
		storeBlock(t, c, h)
	}

	hash, ok := c.HashAtHeight(0)
	require.True(t, ok)
	require.Equal(t, genesis.Hash, hash)

	hash, ok = c.HashAtHeight(2)
	require.True(t, ok)
	require.Equal(t, headers[1].Hash, hash)

	_, ok = c.HashAtHeight(99)
	require.False(t, ok)

	genesisWork, ok := c.WorkOf(genesis.Hash)
	require.True(t, ok)
	tipWork, ok := c.WorkOf(headers[2].Hash)
	require.True(t, ok)
	require.Equal(t, 1, tipWork.Cmp(genesisWork))

	_, ok = c.WorkOf(model.Hash{0xFF})
	require.False(t, ok)
}
