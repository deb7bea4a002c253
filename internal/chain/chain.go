package chain

import (
	"sync"

	"github.com/btcsync-io/btcsyncd/internal/syncerr"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// Action classifies what the caller of InsertBlock should do next.
type Action int

const (
	// ActionEnqueueVerification: the block's parent is already Stored; the
	// caller must hand Block to the Async Verifier now, preserving
	// consensus ordering (§4.4).
	ActionEnqueueVerification Action = iota
	// ActionHeld: the parent isn't Stored yet; the block is buffered as
	// "unordered verify-pending" (§4.1) and will be returned by
	// OnBlockStored once the parent finishes.
	ActionHeld
	// ActionOrphaned: the block's header itself is unknown; buffered in
	// the orphan block pool.
	ActionOrphaned
)

// InsertionResult is InsertBlock's return value.
type InsertionResult struct {
	Action Action
	Block  model.IndexedBlock
}

// Information is a point-in-time summary, exposed for status reporting and
// tests (§4.1's information()).
type Information struct {
	BestHeight        model.Height
	BestWork          model.Work
	BestStorageHeight model.Height
	OrphanHeaders     int
	OrphanBlocks      int
	HeldBlocks        int
}

// Chain is the Sync Chain (C1). Confined to the client thread (§5) except
// for the read-only accessors noted on each method.
type Chain struct {
	mu sync.RWMutex

	verifier consensusiface.Verifier
	edge     model.Height
	log      xlog.Logger

	headers map[model.Hash]model.IndexedHeader
	heightO map[model.Hash]model.Height
	workOf  map[model.Hash]model.Work
	// reducedVerified marks headers whose block was (or will be) verified
	// at a level below Full because their height was <= edge at the time.
	// Consulted by reorgToLocked to implement Open Question #2: a block crossing
	// back onto the best chain deeper than the edge must be re-verified at
	// Full even if it was already marked Stored under a reduced level.
	reducedVerified map[model.Hash]bool
	childrenOf      map[model.Hash][]model.Hash

	blockStates map[model.Hash]State

	bestChain      []model.Hash
	bestIndex      map[model.Hash]int
	bestStoredIdx  int // index into bestChain of the highest contiguous Stored entry

	orphanHeaders *orphanHeaderPool
	orphanBlocks  *orphanBlockPool

	// heldBlocks/pendingVerifyChildren implement the "unordered
	// verify-pending" buffer of §4.1: a block whose parent hasn't finished
	// verification yet waits here instead of racing the verifier queue.
	heldBlocks            map[model.Hash]model.IndexedBlock
	pendingVerifyChildren map[model.Hash][]model.Hash
}

// New constructs a Chain rooted at genesis, already Stored at height 0.
func New(genesis model.IndexedHeader, verifier consensusiface.Verifier, edge model.Height, log xlog.Logger) *Chain {
	if log == nil {
		log = xlog.Discard
	}
	c := &Chain{
		verifier:              verifier,
		edge:                  edge,
		log:                   log,
		headers:                map[model.Hash]model.IndexedHeader{genesis.Hash: genesis},
		heightO:                map[model.Hash]model.Height{genesis.Hash: 0},
		workOf:                 map[model.Hash]model.Work{genesis.Hash: model.BlockWork(genesis.Raw.Bits)},
		reducedVerified:        make(map[model.Hash]bool),
		childrenOf:             make(map[model.Hash][]model.Hash),
		blockStates:            map[model.Hash]State{genesis.Hash: {Kind: Stored}},
		bestChain:              []model.Hash{genesis.Hash},
		bestIndex:              map[model.Hash]int{genesis.Hash: 0},
		bestStoredIdx:          0,
		orphanHeaders:          newOrphanHeaderPool(),
		orphanBlocks:           newOrphanBlockPool(),
		heldBlocks:             make(map[model.Hash]model.IndexedBlock),
		pendingVerifyChildren:  make(map[model.Hash][]model.Hash),
	}
	return c
}

// InsertHeader validates and inserts h, per §4.1. Returns (reorgDisplaced,
// reorgAdded, readyBlocks, err): non-nil displaced/added slices report a
// reorg the insertion triggered, in case the caller needs to react (e.g.
// having the mempool re-validate its resident entries and evict those that
// no longer resolve, per SPEC_FULL.md's Open Question #1 decision).
// readyBlocks lists any block that arrived
// before its header (buffered in the orphan block pool) and is now both
// reparented and immediately verifiable because its own parent is already
// Stored — the caller must submit these for verification itself, the same
// way it does with OnBlockStored's return value.
func (c *Chain) InsertHeader(h model.IndexedHeader) (displaced, added []model.Hash, readyBlocks []model.IndexedBlock, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertHeaderLocked(h)
}

func (c *Chain) insertHeaderLocked(h model.IndexedHeader) (displaced, added []model.Hash, readyBlocks []model.IndexedBlock, err error) {
	if _, known := c.headers[h.Hash]; known {
		return nil, nil, nil, nil
	}

	parentHeight, parentKnown := c.heightO[h.Raw.PrevHash]
	if !parentKnown {
		if addErr := c.orphanHeaders.Add(h); addErr != nil {
			return nil, nil, nil, addErr
		}
		return nil, nil, nil, nil
	}

	if verifyErr := c.verifier.VerifyHeader(h, consensusiface.Context{Level: consensusiface.Header}); verifyErr != nil {
		return nil, nil, nil, syncerr.Wrap(syncerr.ErrConsensusInvalid, verifyErr.Error())
	}

	height := parentHeight + 1
	work := c.workOf[h.Raw.PrevHash].Add(model.BlockWork(h.Raw.Bits))

	c.headers[h.Hash] = h
	c.heightO[h.Hash] = height
	c.workOf[h.Hash] = work
	c.blockStates[h.Hash] = State{Kind: Scheduled}
	c.childrenOf[h.Raw.PrevHash] = append(c.childrenOf[h.Raw.PrevHash], h.Hash)

	currentTip := c.bestChain[len(c.bestChain)-1]
	if work.Cmp(c.workOf[currentTip]) > 0 {
		displaced, added = c.reorgToLocked(h.Hash)
	}

	// h's header may be the missing piece a previously-orphaned block body
	// was waiting on (block arrived before its header, §3). Reparent it
	// now rather than leaving it buffered until cap-driven eviction.
	if orphanBlock, ok := c.orphanBlocks.Take(h.Hash); ok {
		if result, insErr := c.insertBlockLocked(orphanBlock); insErr == nil && result.Action == ActionEnqueueVerification {
			readyBlocks = append(readyBlocks, result.Block)
		}
	}

	for _, child := range c.orphanHeaders.ChildrenOf(h.Hash) {
		d2, a2, r2, _ := c.insertHeaderLocked(child)
		displaced = append(displaced, d2...)
		added = append(added, a2...)
		readyBlocks = append(readyBlocks, r2...)
	}

	return displaced, added, readyBlocks, nil
}

// InsertBlock implements §4.1's block insertion state transition.
func (c *Chain) InsertBlock(b model.IndexedBlock) (InsertionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertBlockLocked(b)
}

func (c *Chain) insertBlockLocked(b model.IndexedBlock) (InsertionResult, error) {
	hash := b.Header.Hash
	if _, known := c.headers[hash]; !known {
		if err := c.orphanBlocks.Add(b); err != nil {
			return InsertionResult{}, err
		}
		return InsertionResult{Action: ActionOrphaned}, nil
	}

	if st := c.blockStates[hash]; st.Kind == DeadEnd {
		return InsertionResult{}, syncerr.Wrap(syncerr.ErrConsensusInvalid, "block is on a known dead-end branch")
	}

	parentHash := b.Header.Raw.PrevHash
	// Preserve Peer: it identifies who supplied this block (set earlier by
	// SetRequested), which onVerificationResult's failure path needs to
	// penalize the right peer. Deadline is no longer meaningful once a
	// response has arrived, so it is not carried forward.
	c.blockStates[hash] = State{Kind: Verifying, Peer: c.blockStates[hash].Peer}

	if level, levelOK := c.levelForLocked(hash); levelOK && level <= consensusiface.Header {
		c.reducedVerified[hash] = true
	}

	if ps := c.blockStates[parentHash]; ps.Kind == Stored {
		return InsertionResult{Action: ActionEnqueueVerification, Block: b}, nil
	}

	c.heldBlocks[hash] = b
	c.pendingVerifyChildren[parentHash] = append(c.pendingVerifyChildren[parentHash], hash)
	return InsertionResult{Action: ActionHeld}, nil
}

// levelForLocked returns the VerificationLevel a block at hash's height
// should use: Full beyond the edge, Header at or below it (§4.4).
func (c *Chain) levelForLocked(hash model.Hash) (consensusiface.VerificationLevel, bool) {
	height, ok := c.heightO[hash]
	if !ok {
		return consensusiface.Full, false
	}
	if height > c.edge {
		return consensusiface.Full, true
	}
	return consensusiface.Header, true
}

// LevelFor is the exported, locked form of levelForLocked, used by the
// Async Verifier to decide how thoroughly to check a given block (§4.4).
func (c *Chain) LevelFor(hash model.Hash) consensusiface.VerificationLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lvl, ok := c.levelForLocked(hash)
	if !ok {
		return consensusiface.Full
	}
	return lvl
}

// OnBlockStored transitions hash to Stored and drains any children that
// were held waiting on it, returning them ready for verification in FIFO
// submission order (§4.3's on_verification_result handling, §4.4's
// consensus ordering obligation).
func (c *Chain) OnBlockStored(hash model.Hash) []model.IndexedBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blockStates[hash] = State{Kind: Stored}
	c.advanceBestStoredLocked()

	children := c.pendingVerifyChildren[hash]
	delete(c.pendingVerifyChildren, hash)
	if len(children) == 0 {
		return nil
	}
	ready := make([]model.IndexedBlock, 0, len(children))
	for _, child := range children {
		if blk, ok := c.heldBlocks[child]; ok {
			delete(c.heldBlocks, child)
			ready = append(ready, blk)
		}
	}
	return ready
}

func (c *Chain) advanceBestStoredLocked() {
	for c.bestStoredIdx+1 < len(c.bestChain) {
		next := c.bestChain[c.bestStoredIdx+1]
		if c.blockStates[next].Kind != Stored {
			break
		}
		c.bestStoredIdx++
	}
}

// MarkDeadEnd marks hash, and every known descendant of it, DeadEnd (§4.3's
// on_verification_result error path: "mark DeadEnd for the hash and its
// descendants"). Held/pending bookkeeping for the affected hashes is
// discarded since they can never be verified.
func (c *Chain) MarkDeadEnd(hash model.Hash) []model.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	var affected []model.Hash
	queue := []model.Hash{hash}
	seen := map[model.Hash]bool{}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}
		seen[h] = true
		c.blockStates[h] = State{Kind: DeadEnd}
		affected = append(affected, h)
		delete(c.heldBlocks, h)
		delete(c.pendingVerifyChildren, h)
		queue = append(queue, c.childrenOf[h]...)
	}
	return affected
}

// BestStorageBlock returns the highest Stored block on the current best
// chain (§4.1). Read-locked so the Server (§4.6) can call it concurrently
// with client-thread writes.
func (c *Chain) BestStorageBlock() (model.Hash, model.Height) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bestChain[c.bestStoredIdx], model.Height(c.bestStoredIdx)
}

// BestHeaderChainTip returns the tip of the best known header chain, which
// may be ahead of BestStorageBlock while blocks are still downloading.
func (c *Chain) BestHeaderChainTip() (model.Hash, model.Height) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tip := c.bestChain[len(c.bestChain)-1]
	return tip, c.heightO[tip]
}

// Information returns a point-in-time summary (§4.1).
func (c *Chain) Information() Information {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tip := c.bestChain[len(c.bestChain)-1]
	return Information{
		BestHeight:        c.heightO[tip],
		BestWork:          c.workOf[tip],
		BestStorageHeight: model.Height(c.bestStoredIdx),
		OrphanHeaders:     c.orphanHeaders.Len(),
		OrphanBlocks:      c.orphanBlocks.Len(),
		HeldBlocks:        len(c.heldBlocks),
	}
}

// StateOf returns the current Block State for hash (Unknown if never seen).
func (c *Chain) StateOf(hash model.Hash) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.blockStates[hash]; ok {
		return st
	}
	return State{Kind: Unknown}
}

// HeaderByHash returns the indexed header for hash, if known (any branch).
func (c *Chain) HeaderByHash(hash model.Hash) (model.IndexedHeader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.headers[hash]
	return h, ok
}

// HeightOf returns hash's height, if known.
func (c *Chain) HeightOf(hash model.Hash) (model.Height, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.heightO[hash]
	return h, ok
}

// HashAtHeight returns the best chain's hash at height, if that height is
// within the best chain's current span (0..tip inclusive).
func (c *Chain) HashAtHeight(height model.Height) (model.Hash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(height) < 0 || int(height) >= len(c.bestChain) {
		return model.Hash{}, false
	}
	return c.bestChain[height], true
}

// WorkOf returns the cumulative chain work accumulated up to and including
// hash, if hash's header is known.
func (c *Chain) WorkOf(hash model.Hash) (model.Work, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workOf[hash]
	return w, ok
}

// SetRequested transitions hash to Requested(peer, deadline); Peer Tasks
// (C3) calls this when it assigns the item to a peer.
func (c *Chain) SetRequested(hash model.Hash, peer PeerID, st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Kind = Requested
	st.Peer = peer
	c.blockStates[hash] = st
}

// ScheduleBlocks returns up to n hashes currently Scheduled along the best
// chain, in height order starting just after the stored tip (§4.1).
func (c *Chain) ScheduleBlocks(n int) []model.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Hash, 0, n)
	for i := c.bestStoredIdx + 1; i < len(c.bestChain) && len(out) < n; i++ {
		hash := c.bestChain[i]
		if c.blockStates[hash].Kind == Scheduled {
			out = append(out, hash)
		}
	}
	return out
}

// BestChainLocator returns a sparse locator (GLOSSARY) for the current best
// chain: the tip, then exponentially-spaced ancestors, ending in genesis —
// the standard Bitcoin Core locator construction.
func (c *Chain) BestChainLocator() []model.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var locator []model.Hash
	step := 1
	i := len(c.bestChain) - 1
	for i >= 0 {
		locator = append(locator, c.bestChain[i])
		if len(locator) >= 10 {
			step *= 2
		}
		i -= step
	}
	if locator[len(locator)-1] != c.bestChain[0] {
		locator = append(locator, c.bestChain[0])
	}
	return locator
}

// HeadersAfterLocator answers §4.6's getheaders: up to max headers
// following the highest locator hash present on our best chain.
func (c *Chain) HeadersAfterLocator(locatorHashes []model.Hash, stop model.Hash, max int) []model.IndexedHeader {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	for _, h := range locatorHashes {
		if idx, ok := c.bestIndex[h]; ok && idx+1 > start {
			start = idx + 1
		}
	}
	out := make([]model.IndexedHeader, 0, max)
	for i := start; i < len(c.bestChain) && len(out) < max; i++ {
		hash := c.bestChain[i]
		out = append(out, c.headers[hash])
		if hash == stop {
			break
		}
	}
	return out
}

// BlockInventoriesAfterLocator answers §4.6's getblocks: up to max block
// inventories following the highest locator hash present on our chain.
func (c *Chain) BlockInventoriesAfterLocator(locatorHashes []model.Hash, stop model.Hash, max int) []model.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	for _, h := range locatorHashes {
		if idx, ok := c.bestIndex[h]; ok && idx+1 > start {
			start = idx + 1
		}
	}
	out := make([]model.Hash, 0, max)
	for i := start; i < len(c.bestChain) && len(out) < max; i++ {
		out = append(out, c.bestChain[i])
		if c.bestChain[i] == stop {
			break
		}
	}
	return out
}
