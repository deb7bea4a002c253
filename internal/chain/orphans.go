package chain

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/btcsync-io/btcsyncd/internal/syncerr"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// Orphan caps from §3.
const (
	MaxOrphanHeaders = 1024
	MaxOrphanBlocks  = 512
)

// orphanHeaderPool buffers headers whose parent is not yet known. It is a
// hard cap, not a silent LRU replace: once full, Add returns
// syncerr.ErrOrphanCapExceeded (§3, §8 scenario 5) rather than evicting the
// oldest entry to make room. EvictOldest is exposed separately for the
// discretionary LRU-by-insertion-time eviction §4.1 describes (used when a
// caller explicitly wants to make room, e.g. before a bulk getheaders
// response is about to add many more).
type orphanHeaderPool struct {
	cache     *lru.Cache[model.Hash, orphanHeader]
	byParent  map[model.Hash]map[model.Hash]struct{}
	insertSeq []model.Hash // oldest-first, for EvictOldest
}

type orphanHeader struct {
	header   model.IndexedHeader
	insertAt time.Time
}

func newOrphanHeaderPool() *orphanHeaderPool {
	c, _ := lru.New[model.Hash, orphanHeader](MaxOrphanHeaders)
	return &orphanHeaderPool{cache: c, byParent: make(map[model.Hash]map[model.Hash]struct{})}
}

func (p *orphanHeaderPool) Len() int { return p.cache.Len() }

// Add inserts h as an orphan, keyed by its own hash and indexed by parent
// hash. Returns an OrphanCapExceeded fault if the pool is already at cap.
func (p *orphanHeaderPool) Add(h model.IndexedHeader) error {
	if _, ok := p.cache.Get(h.Hash); ok {
		return nil
	}
	if p.cache.Len() >= MaxOrphanHeaders {
		return syncerr.Wrap(syncerr.ErrOrphanCapExceeded, "orphan header pool full")
	}
	p.cache.Add(h.Hash, orphanHeader{header: h, insertAt: time.Now()})
	if p.byParent[h.Raw.PrevHash] == nil {
		p.byParent[h.Raw.PrevHash] = make(map[model.Hash]struct{})
	}
	p.byParent[h.Raw.PrevHash][h.Hash] = struct{}{}
	p.insertSeq = append(p.insertSeq, h.Hash)
	return nil
}

// ChildrenOf returns, and removes from the pool, every orphan header whose
// PrevHash is parent — the "promote in order" step of §8's orphan scenario.
func (p *orphanHeaderPool) ChildrenOf(parent model.Hash) []model.IndexedHeader {
	children := p.byParent[parent]
	if len(children) == 0 {
		return nil
	}
	out := make([]model.IndexedHeader, 0, len(children))
	for hash := range children {
		if v, ok := p.cache.Get(hash); ok {
			out = append(out, v.header)
			p.remove(hash)
		}
	}
	delete(p.byParent, parent)
	return out
}

func (p *orphanHeaderPool) remove(hash model.Hash) {
	p.cache.Remove(hash)
	for i, h := range p.insertSeq {
		if h == hash {
			p.insertSeq = append(p.insertSeq[:i], p.insertSeq[i+1:]...)
			break
		}
	}
}

// EvictOldest removes and returns the n longest-resident orphan headers.
func (p *orphanHeaderPool) EvictOldest(n int) []model.Hash {
	if n > len(p.insertSeq) {
		n = len(p.insertSeq)
	}
	evicted := append([]model.Hash(nil), p.insertSeq[:n]...)
	for _, hash := range evicted {
		if v, ok := p.cache.Get(hash); ok {
			delete(p.byParent[v.header.Raw.PrevHash], hash)
		}
		p.cache.Remove(hash)
	}
	p.insertSeq = p.insertSeq[n:]
	return evicted
}

// orphanBlockPool is the block-body analogue of orphanHeaderPool, keyed by
// hash, capped at MaxOrphanBlocks.
type orphanBlockPool struct {
	cache     *lru.Cache[model.Hash, model.IndexedBlock]
	insertSeq []model.Hash
}

func newOrphanBlockPool() *orphanBlockPool {
	c, _ := lru.New[model.Hash, model.IndexedBlock](MaxOrphanBlocks)
	return &orphanBlockPool{cache: c}
}

func (p *orphanBlockPool) Len() int { return p.cache.Len() }

func (p *orphanBlockPool) Add(b model.IndexedBlock) error {
	if _, ok := p.cache.Get(b.Header.Hash); ok {
		return nil
	}
	if p.cache.Len() >= MaxOrphanBlocks {
		return syncerr.Wrap(syncerr.ErrOrphanCapExceeded, "orphan block pool full")
	}
	p.cache.Add(b.Header.Hash, b)
	p.insertSeq = append(p.insertSeq, b.Header.Hash)
	return nil
}

func (p *orphanBlockPool) Take(hash model.Hash) (model.IndexedBlock, bool) {
	b, ok := p.cache.Get(hash)
	if ok {
		p.cache.Remove(hash)
		for i, h := range p.insertSeq {
			if h == hash {
				p.insertSeq = append(p.insertSeq[:i], p.insertSeq[i+1:]...)
				break
			}
		}
	}
	return b, ok
}
