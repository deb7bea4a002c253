// Package mempool implements the Memory Pool (C9, §4.8): a map from
// tx_hash to entry plus secondary orderings by fee-rate and ancestor
// fee-rate, with incremental ancestor/descendant bookkeeping. Grounded on
// the teacher's core/txpool/legacypool test files for the list/heap-by-fee
// idiom (the priced list ordering a pool by a comparable score, evicting
// from the bottom), crossed with original_source's parity-bitcoin
// MemoryPool (in particular its accept_zero_fee_transactions policy toggle,
// §C.2).
package mempool

import (
	"container/heap"
	"sync"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// ErrZeroFee is returned by Insert when a zero-fee transaction is rejected
// by policy (§C.2: enabled on regtest, rejected elsewhere by default).
var ErrZeroFee = errors.New("mempool: zero-fee transaction rejected by policy")

// ErrAlreadyKnown is returned by Insert for a transaction already resident.
var ErrAlreadyKnown = errors.New("mempool: transaction already in pool")

// ErrConflict is returned by Insert when an input is already spent by a
// different resident transaction (§3's "Memory Pool Entry" model doesn't
// support replace-by-fee; the first spender wins).
var ErrConflict = errors.New("mempool: conflicts with a resident transaction")

// ErrPoolFull is returned by Insert when admitting tx would push the
// pool's total weight past Config.MaxWeight. Insert fails closed rather
// than evicting on the caller's behalf; the caller is expected to call
// EvictLowest first if it wants to make room (a MaxWeight of 0 disables
// this check entirely).
var ErrPoolFull = errors.New("mempool: pool is at its configured weight limit")

// entry is a Memory Pool Entry (§3): a transaction plus the fee/size facts
// and ancestor aggregates needed for fee-rate ordering and eviction.
type entry struct {
	tx            model.IndexedTransaction
	fee           btcutil.Amount
	weight        int
	insertionTime time.Time

	ancestorsFee   btcutil.Amount
	ancestorsWeight int

	heapIndex int // maintained by container/heap
}

// feeRate is the entry's own fee-rate in satoshis per virtual byte.
func (e *entry) feeRate() float64 {
	return satPerVByte(e.fee, e.weight)
}

// ancestorFeeRate is the package-wide relay/priority metric: the fee-rate
// of the entry's whole unconfirmed ancestor package including itself,
// which is what get_transactions_for_block actually orders by so that a
// low-fee transaction sponsored by a high-fee child still stands a chance.
func (e *entry) ancestorFeeRate() float64 {
	return satPerVByte(e.fee+e.ancestorsFee, e.weight+e.ancestorsWeight)
}

func satPerVByte(fee btcutil.Amount, weight int) float64 {
	if weight <= 0 {
		return 0
	}
	vsize := float64(weight) / 4
	return float64(fee) / vsize
}

// Pool is the Memory Pool (C9). Safe for concurrent use: the Server reads
// it concurrently with the client thread's writes (§5), so every exported
// method takes the reader/writer lock appropriately.
type Pool struct {
	mu sync.RWMutex

	byHash    map[model.Hash]*entry
	byPrevout map[model.OutPoint]model.Hash

	// parents/children record in-mempool ancestry only: an input whose
	// prevout isn't itself a resident transaction is assumed already
	// confirmed and isn't tracked here.
	parents  map[model.Hash]map[model.Hash]struct{}
	children map[model.Hash]map[model.Hash]struct{}

	lowest *feeRateHeap

	utxo consensusiface.UTXOView
	log  xlog.Logger

	acceptZeroFee bool
	maxWeight     int
	totalWeight   int
}

// Config carries the policy toggles Pool needs at construction.
type Config struct {
	// AcceptZeroFee enables zero-fee transaction acceptance (§C.2),
	// normally only set true on regtest.
	AcceptZeroFee bool
	// MaxWeight bounds the pool's total transaction weight; Insert past
	// this bound returns ErrPoolFull rather than evicting to make room
	// (mirrors the original's size-based trimming rather than an
	// automatic eviction-on-insert policy, so callers can log what was
	// dropped before calling EvictLowest themselves). Zero disables the
	// check.
	MaxWeight int
}

// New constructs an empty Pool. utxo may be nil, in which case Reorg is a
// no-op (there is nothing to re-validate resident entries against).
func New(cfg Config, utxo consensusiface.UTXOView, log xlog.Logger) *Pool {
	if log == nil {
		log = xlog.Discard
	}
	return &Pool{
		byHash:    make(map[model.Hash]*entry),
		byPrevout: make(map[model.OutPoint]model.Hash),
		parents:   make(map[model.Hash]map[model.Hash]struct{}),
		children:  make(map[model.Hash]map[model.Hash]struct{}),
		lowest:    newFeeRateHeap(),
		utxo:      utxo,
		log:       log,

		acceptZeroFee: cfg.AcceptZeroFee,
		maxWeight:     cfg.MaxWeight,
	}
}

// Insert adds tx to the pool (§4.8's `insert`). fee is the transaction's
// total fee, already computed by the caller against a UTXO view (the pool
// itself only resolves in-mempool ancestors, never confirmed outputs).
func (p *Pool) Insert(tx model.IndexedTransaction, fee btcutil.Amount) error {
	full, legacy := wire.EncodeTransaction(tx.Raw)
	weight := model.Weight(len(legacy), len(full)-len(legacy))

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byHash[tx.Hash]; ok {
		return ErrAlreadyKnown
	}
	if fee <= 0 && !p.acceptZeroFee {
		return ErrZeroFee
	}
	for _, in := range tx.Raw.Inputs {
		if conflict, ok := p.byPrevout[in.PreviousOutput]; ok {
			return errors.Wrapf(ErrConflict, "input %s already spent by %s", in.PreviousOutput.Hash, conflict)
		}
	}
	if p.maxWeight > 0 && p.totalWeight+weight > p.maxWeight {
		return errors.Wrapf(ErrPoolFull, "total weight %d + %d exceeds max %d", p.totalWeight, weight, p.maxWeight)
	}

	e := &entry{tx: tx, fee: fee, weight: weight, insertionTime: time.Now(), heapIndex: -1}

	parentSet := make(map[model.Hash]struct{})
	for _, in := range tx.Raw.Inputs {
		if _, resident := p.byHash[in.PreviousOutput.Hash]; resident {
			parentSet[in.PreviousOutput.Hash] = struct{}{}
		}
	}
	if len(parentSet) > 0 {
		p.parents[tx.Hash] = parentSet
		for parent := range parentSet {
			if p.children[parent] == nil {
				p.children[parent] = make(map[model.Hash]struct{})
			}
			p.children[parent][tx.Hash] = struct{}{}
		}
	}
	e.ancestorsFee, e.ancestorsWeight = p.sumAncestors(tx.Hash)

	p.byHash[tx.Hash] = e
	for _, in := range tx.Raw.Inputs {
		p.byPrevout[in.PreviousOutput] = tx.Hash
	}
	heap.Push(p.lowest, e)
	p.totalWeight += weight
	return nil
}

// sumAncestors walks the in-mempool ancestor set of hash (already linked
// via p.parents) and returns its aggregate fee and weight, deduplicating
// diamond-shaped ancestry so a shared grandparent is only counted once.
func (p *Pool) sumAncestors(hash model.Hash) (btcutil.Amount, int) {
	seen := make(map[model.Hash]struct{})
	var fee btcutil.Amount
	var weight int
	var walk func(model.Hash)
	walk = func(h model.Hash) {
		for parent := range p.parents[h] {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			if pe, ok := p.byHash[parent]; ok {
				fee += pe.fee
				weight += pe.weight
			}
			walk(parent)
		}
	}
	walk(hash)
	return fee, weight
}

// Remove drops hash from the pool (§4.8's `remove`), recomputing the
// ancestor aggregates of every descendant still resident since one of
// their ancestors just disappeared.
func (p *Pool) Remove(hash model.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(hash)
}

func (p *Pool) removeLocked(hash model.Hash) bool {
	e, ok := p.byHash[hash]
	if !ok {
		return false
	}
	for _, in := range e.tx.Raw.Inputs {
		delete(p.byPrevout, in.PreviousOutput)
	}
	for parent := range p.parents[hash] {
		delete(p.children[parent], hash)
		if len(p.children[parent]) == 0 {
			delete(p.children, parent)
		}
	}
	delete(p.parents, hash)

	descendants := p.children[hash]
	delete(p.children, hash)

	heap.Remove(p.lowest, e.heapIndex)
	delete(p.byHash, hash)
	p.totalWeight -= e.weight

	var refresh func(children map[model.Hash]struct{})
	refresh = func(children map[model.Hash]struct{}) {
		for child := range children {
			if ce, ok := p.byHash[child]; ok {
				ce.ancestorsFee, ce.ancestorsWeight = p.sumAncestors(child)
				heap.Fix(p.lowest, ce.heapIndex)
			}
			refresh(p.children[child])
		}
	}
	refresh(descendants)
	return true
}

// RemoveByPrevout evicts whichever resident transaction spends op, if any
// (§4.8's `remove_by_prevout`): used when a newly connected block confirms
// a conflicting spend of the same outpoint.
func (p *Pool) RemoveByPrevout(op model.OutPoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hash, ok := p.byPrevout[op]
	if !ok {
		return false
	}
	return p.removeLocked(hash)
}

// EvictLowest removes up to n entries with the lowest ancestor fee-rate
// (§4.8's `evict_lowest`). Eviction only ever removes a mempool leaf (an
// entry with no in-mempool children): removing an interior entry would
// orphan its children's ancestor linkage, so a low-fee parent sponsored by
// a high-fee child survives until the child is evicted first — the same
// property ancestorFeeRate exists to express. Returns the hashes evicted.
func (p *Pool) EvictLowest(n int) []model.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []model.Hash
	for len(evicted) < n && p.lowest.Len() > 0 {
		victim := p.lowestEvictableLocked()
		if victim == nil {
			break
		}
		p.removeLocked(victim.tx.Hash)
		evicted = append(evicted, victim.tx.Hash)
	}
	if len(evicted) > 0 {
		p.log.Debug("mempool evicted lowest fee-rate entries", "count", len(evicted))
	}
	return evicted
}

// lowestEvictableLocked scans the heap for the lowest-ancestor-fee-rate
// entry that is currently a leaf. The heap itself is ordered by
// ancestorFeeRate but may have non-leaf entries above a leaf, so this scans
// every heap entry rather than assuming the heap root is evictable. Equal
// rates are broken by tieBreakKey, the same order the heap uses.
func (p *Pool) lowestEvictableLocked() *entry {
	var best *entry
	for _, e := range p.lowest.items {
		if len(p.children[e.tx.Hash]) > 0 {
			continue
		}
		if best == nil || e.ancestorFeeRate() < best.ancestorFeeRate() ||
			(e.ancestorFeeRate() == best.ancestorFeeRate() && tieBreakKey(e.tx.Hash) < tieBreakKey(best.tx.Hash)) {
			best = e
		}
	}
	return best
}

// GetTransactionsForBlock returns a candidate set for block assembly
// (§4.8's `get_transactions_for_block(max_weight)`): a greedy, highest
// ancestor-fee-rate-first selection that never selects a child before its
// in-mempool parents, skipping any entry that would push the total past
// maxWeight.
func (p *Pool) GetTransactionsForBlock(maxWeight int) []model.IndexedTransaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	candidates := make([]*entry, 0, len(p.byHash))
	for _, e := range p.byHash {
		candidates = append(candidates, e)
	}
	sortByAncestorFeeRateDesc(candidates)

	// A single fee-rate-ordered pass can reach a high-fee child before its
	// low-fee-rate parent (the parent's own ancestorFeeRate only reflects
	// its own ancestors, not the child sponsoring it), so this keeps
	// making passes over the remaining candidates until one adds nothing,
	// which guarantees every selected entry's in-mempool parents are
	// selected first regardless of where they fall in the fee ordering.
	selected := make(map[model.Hash]struct{}, len(candidates))
	var out []model.IndexedTransaction
	var used int
	for {
		progressed := false
		for _, e := range candidates {
			if _, ok := selected[e.tx.Hash]; ok {
				continue
			}
			if !p.parentsSelected(e.tx.Hash, selected) {
				continue
			}
			if used+e.weight > maxWeight {
				continue
			}
			selected[e.tx.Hash] = struct{}{}
			used += e.weight
			out = append(out, e.tx)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

func (p *Pool) parentsSelected(hash model.Hash, selected map[model.Hash]struct{}) bool {
	for parent := range p.parents[hash] {
		if _, ok := selected[parent]; !ok {
			return false
		}
	}
	return true
}

func sortByAncestorFeeRateDesc(entries []*entry) {
	// Insertion sort is adequate here: block assembly runs once per
	// template, not on the hot event-processing path, and pool sizes in
	// this core are modest (§4.8 doesn't specify a pool capacity beyond
	// MaxWeight).
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].ancestorFeeRate() > entries[j-1].ancestorFeeRate(); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Reorg implements syncclient.MempoolReorgHandler, applying Open Question
// #1's conservative policy: displaced-block transactions are never
// resurrected (the pool never retained their bodies to begin with), and
// every resident entry is re-checked against the configured UTXOView,
// evicting any whose input no longer resolves to an unspent output under
// the new best chain rather than assuming it is still valid.
func (p *Pool) Reorg(displacedBlocks []model.Hash) {
	if p.utxo == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []model.Hash
	for hash, e := range p.byHash {
		for _, in := range e.tx.Raw.Inputs {
			if _, resident := p.byHash[in.PreviousOutput.Hash]; resident {
				continue // resolved within the pool, not a confirmed-chain input
			}
			if _, unspent := p.utxo.Output(in.PreviousOutput); !unspent {
				stale = append(stale, hash)
				break
			}
		}
	}
	for _, hash := range stale {
		p.removeLocked(hash)
	}
	if len(stale) > 0 {
		p.log.Debug("mempool evicted entries invalidated by reorg", "count", len(stale), "displaced_blocks", len(displacedBlocks))
	}
}

// Transaction implements server.TransactionSource.
func (p *Pool) Transaction(hash model.Hash) (model.IndexedTransaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return model.IndexedTransaction{}, false
	}
	return e.tx, true
}

// Hashes implements server.TransactionSource.
func (p *Pool) Hashes() []model.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Hash, 0, len(p.byHash))
	for h := range p.byHash {
		out = append(out, h)
	}
	return out
}

// Len reports how many transactions are currently resident.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// TotalWeight reports the pool's current aggregate transaction weight.
func (p *Pool) TotalWeight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalWeight
}

// feeRateHeap is a container/heap.Interface min-heap over ancestorFeeRate,
// used to find eviction candidates without a full O(n log n) sort on every
// EvictLowest call. Ties are broken by an xxhash of the tx hash rather than
// insertion order, which Go map iteration doesn't preserve anyway, so
// eviction order among same-fee-rate entries is still deterministic given
// the same pool contents.
type feeRateHeap struct {
	items []*entry
}

func newFeeRateHeap() *feeRateHeap { return &feeRateHeap{} }

func (h *feeRateHeap) Len() int { return len(h.items) }

func (h *feeRateHeap) Less(i, j int) bool {
	ri, rj := h.items[i].ancestorFeeRate(), h.items[j].ancestorFeeRate()
	if ri != rj {
		return ri < rj
	}
	return tieBreakKey(h.items[i].tx.Hash) < tieBreakKey(h.items[j].tx.Hash)
}

func (h *feeRateHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}

func (h *feeRateHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(h.items)
	h.items = append(h.items, e)
}

func (h *feeRateHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	h.items = old[:n-1]
	return e
}

func tieBreakKey(hash model.Hash) uint64 {
	return xxhash.Sum64(hash[:])
}
