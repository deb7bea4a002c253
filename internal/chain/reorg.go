package chain

import (
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// reorgToLocked switches the best chain to the branch ending at newTip,
// which the caller has already verified carries more cumulative work than
// the current tip (§4.1's reorg trigger). Must be called with c.mu held.
//
// Returns displaced (the old best-chain hashes now off the active branch,
// lowest first) and added (the new branch's hashes, genesis-ward first)
// so the caller can react: SPEC_FULL.md's Open Question #1 decision has
// the Mempool evict transactions conservatively rather than attempt to
// resurrect them from displaced blocks, and Open Question #2's decision
// has any re-admitted block deeper than the verification edge re-verified
// at Full even if a reduced level had already marked it Stored.
func (c *Chain) reorgToLocked(newTip model.Hash) (displaced, added []model.Hash) {
	// Walk from newTip back to the first ancestor already indexed on the
	// current best chain (the common ancestor); collect the new segment in
	// reverse (tip-to-ancestor), then flip it.
	var newSegment []model.Hash
	cursor := newTip
	for {
		if _, onBest := c.bestIndex[cursor]; onBest {
			break
		}
		newSegment = append(newSegment, cursor)
		cursor = c.headers[cursor].Raw.PrevHash
	}
	commonAncestor := cursor
	for i, j := 0, len(newSegment)-1; i < j; i, j = i+1, j-1 {
		newSegment[i], newSegment[j] = newSegment[j], newSegment[i]
	}

	ancestorIdx := c.bestIndex[commonAncestor]
	displaced = append(displaced, c.bestChain[ancestorIdx+1:]...)
	for _, h := range displaced {
		delete(c.bestIndex, h)
	}

	c.bestChain = append(c.bestChain[:ancestorIdx+1:ancestorIdx+1], newSegment...)
	for i := ancestorIdx + 1; i < len(c.bestChain); i++ {
		c.bestIndex[c.bestChain[i]] = i
	}
	added = newSegment

	// Re-derive bestStoredIdx: the highest-height contiguous prefix of the
	// new best chain whose blocks are already Stored. A displaced branch
	// and its replacement can share a Stored prefix up to the common
	// ancestor, so this never regresses past what was already durable.
	c.bestStoredIdx = 0
	for i := 1; i < len(c.bestChain); i++ {
		if c.blockStates[c.bestChain[i]].Kind != Stored {
			break
		}
		c.bestStoredIdx = i
	}

	// Open Question #2: a block re-admitted onto the best chain deeper
	// than the verification edge, but previously marked Stored under a
	// reduced level, must be re-verified at Full before it can count as
	// Stored again.
	for _, h := range added {
		if !c.reducedVerified[h] {
			continue
		}
		if c.heightO[h] <= c.edge {
			continue
		}
		if c.blockStates[h].Kind == Stored {
			c.blockStates[h] = State{Kind: Verifying}
			if c.bestStoredIdx >= c.bestIndex[h] {
				c.bestStoredIdx = c.bestIndex[h] - 1
			}
		}
		delete(c.reducedVerified, h)
	}

	// Displaced blocks keep their Stored Kind (their data remains
	// recoverable from the store per §8 scenario 4); they simply fall off
	// bestIndex above, so BestStorageBlock/ScheduleBlocks no longer see
	// them. Verifying/Requested/Scheduled displaced blocks have no
	// in-flight record tied to the old branch identity worth preserving,
	// since Peer Tasks (C3) keys in-flight state by hash and will simply
	// stop hearing about them.
	return displaced, added
}
