// Package verifier implements the Async Verifier (C5, §4.4): a queue of
// blocks awaiting consensus verification, drained by one or more worker
// goroutines so the Client Core's event loop never blocks on proof-of-work
// or merkle-root checking. Grounded on original_source/sync/src/lib.rs's
// wiring of AsyncVerifier (chain_verifier, db, memory_pool, verifier_sink,
// verification_params) and on the teacher's eth/downloader result-queue
// idiom of decoupling "things arrived" from "things were checked".
package verifier

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// Sink is what the Async Verifier reports results to: the Client Core
// (internal/syncclient.Client) satisfies this structurally via its
// OnVerificationResult method, so neither package imports the other.
type Sink interface {
	OnVerificationResult(hash model.Hash, err error)
}

// TipSource supplies the current storage height for
// consensusiface.Context, which the Verifier itself has no way to derive.
// internal/chain.Chain satisfies this structurally. Context.MedianTimePast
// is not supplied and stays zero.
type TipSource interface {
	BestStorageBlock() (model.Hash, model.Height)
}

// Persister durably writes a block's body once it has passed consensus
// verification. cmd/btcsyncd wires internal/server.BlockStore (for the
// bytes) together with internal/chain.Chain's HeightOf/WorkOf (for the
// height/work BlockStore.Put needs) behind a small adapter satisfying
// this, so neither internal/server nor internal/chain needs to know
// about the Verifier.
type Persister interface {
	Persist(b model.IndexedBlock) error
}

// DefaultQueueSize bounds how many submitted-but-unverified blocks the
// Verifier will buffer before Submit starts applying backpressure to its
// caller; the Client Core's own MaxInFlightVerifyingBlocks cap (§4.3) keeps
// this from growing unbounded in practice, so this is a second line of
// defense rather than the primary limiter.
const DefaultQueueSize = 256

type job struct {
	block model.IndexedBlock
	level consensusiface.VerificationLevel
}

// Verifier is the Async Verifier. It implements syncclient.Verifier
// structurally via Submit.
type Verifier struct {
	consensus consensusiface.Verifier
	sink      Sink
	tip       TipSource
	persist   Persister
	log       xlog.Logger

	jobs chan job
}

// SetPersister installs p as where successfully verified blocks get
// written durably, before the result reaches the sink. Optional: a nil
// Persister (the default) leaves persistence to the caller, which is
// what internal/blockswriter's synchronous bulk-import path already does
// on its own.
func (v *Verifier) SetPersister(p Persister) {
	v.persist = p
}

// New constructs a Verifier. tip may be nil, in which case VerifyBlock is
// called with a zero-value Context.TipHeight (the default consensus rules
// don't use it, but a stricter Verifier implementation might).
func New(consensus consensusiface.Verifier, sink Sink, tip TipSource, log xlog.Logger, queueSize int) *Verifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = xlog.Discard
	}
	return &Verifier{
		consensus: consensus,
		sink:      sink,
		tip:       tip,
		log:       log,
		jobs:      make(chan job, queueSize),
	}
}

// Submit implements internal/syncclient.Verifier. It blocks if the queue is
// full, which is the intended backpressure path: a saturated Verifier
// should stall new submissions rather than grow its queue unboundedly.
func (v *Verifier) Submit(b model.IndexedBlock, level consensusiface.VerificationLevel) {
	v.jobs <- job{block: b, level: level}
}

// Run starts workers consumers draining the job queue until ctx is
// cancelled. §4.4 allows multiple verification workers: results are
// delivered to the sink in whatever order individual jobs complete, and
// it's the Sync Chain's held/pendingVerifyChildren bookkeeping (not this
// package) that enforces parent-before-child storage order, so workers
// don't need to coordinate with each other.
func (v *Verifier) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return v.worker(ctx)
		})
	}
	return g.Wait()
}

func (v *Verifier) worker(ctx context.Context) error {
	for {
		select {
		case j := <-v.jobs:
			v.process(j)
		case <-ctx.Done():
			return nil
		}
	}
}

func (v *Verifier) process(j job) {
	vctx := consensusiface.Context{Level: j.level}
	if v.tip != nil {
		_, height := v.tip.BestStorageBlock()
		vctx.TipHeight = height
	}

	err := v.consensus.VerifyBlock(j.block, vctx)
	if err != nil {
		v.log.Debug("block failed verification", "hash", j.block.Header.Hash, "err", err)
	} else if v.persist != nil {
		if perr := v.persist.Persist(j.block); perr != nil {
			v.log.Warn("failed to persist verified block", "hash", j.block.Header.Hash, "err", perr)
			err = perr
		}
	}
	v.sink.OnVerificationResult(j.block.Header.Hash, err)
}

// PendingCount returns the number of jobs queued but not yet picked up by a
// worker, for status reporting.
func (v *Verifier) PendingCount() int {
	return len(v.jobs)
}
