// Package syncclient implements the Client Core (C4, §4.3): the
// Saturated/Synchronizing/NearlySaturated sync state machine that
// ingests peer events, drives the Sync Chain and Peer Tasks, and
// enforces the in-flight-verifying backpressure cap. Grounded on
// original_source/sync/src/lib.rs's SynchronizationClient and
// SynchronizationState, with the event-loop idiom borrowed from the
// teacher's eth/fetcher (a channel-driven fetch/verify loop).
package syncclient

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/peers"
	"github.com/btcsync-io/btcsyncd/internal/syncerr"
	"github.com/btcsync-io/btcsyncd/internal/tasks"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/synclistener"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// SyncState is the state machine of §4.3.
type SyncState int

const (
	Saturated SyncState = iota
	Synchronizing
	NearlySaturated
)

func (s SyncState) String() string {
	switch s {
	case Saturated:
		return "Saturated"
	case Synchronizing:
		return "Synchronizing"
	case NearlySaturated:
		return "NearlySaturated"
	default:
		return "?"
	}
}

// NearTipHysteresis is §4.3's "transition hysteresis = 10 blocks".
const NearTipHysteresis = model.Height(10)

// DefaultMaxInFlightVerifyingBlocks is §4.3's backpressure cap.
const DefaultMaxInFlightVerifyingBlocks = 128

// Verifier is what the Client Core needs from the Async Verifier (C5): a
// non-blocking submission point. Defined here, implemented there, so
// neither package imports the other's internals.
type Verifier interface {
	Submit(b model.IndexedBlock, level consensusiface.VerificationLevel)
}

// MempoolReorgHandler is what the Client Core needs from the Memory Pool
// (C9) to apply Open Question #1's decision: evict conservatively rather
// than attempt to resurrect displaced transactions.
type MempoolReorgHandler interface {
	Reorg(displacedBlocks []model.Hash)
}

// Dispatcher is what the Client Core needs from the Executor (C6): turning
// decided work into outbound protocol messages. Dispatcher may be left nil
// (e.g. in unit tests exercising state transitions only), in which case
// scheduled work accumulates in Peer Tasks but is never actually sent.
type Dispatcher interface {
	RequestHeaders(peer chain.PeerID) error
	Execute(assignments []tasks.Assignment) error
}

// Config bundles the Client Core's tunables (mirrors internal/config's
// relevant fields so this package doesn't import internal/config and
// invert the dependency direction).
type Config struct {
	MaxInFlightVerifyingBlocks int
	RequiredBlockServices      peers.Service
	CloseConnectionOnBadBlock  bool
}

// Client is the Client Core. Owns Sync Chain and Peers mutable state and
// processes events serially from its input queue (§5): all public state
// mutation happens through Submit, consumed one at a time by Run.
type Client struct {
	cfg Config
	log xlog.Logger

	chain     *chain.Chain
	registry  *peers.Registry
	scheduler *tasks.Scheduler
	verifier   Verifier
	mempool    MempoolReorgHandler
	listener   synclistener.Listener
	dispatcher Dispatcher

	speed *AverageSpeedMeter

	events chan Event

	state          SyncState
	peerTips       map[chain.PeerID]model.Height
	verifyingCount int
}

// New constructs a Client wired to its collaborators. listener may be nil.
func New(cfg Config, c *chain.Chain, registry *peers.Registry, scheduler *tasks.Scheduler, verifier Verifier, mempool MempoolReorgHandler, listener synclistener.Listener, log xlog.Logger) *Client {
	if cfg.MaxInFlightVerifyingBlocks == 0 {
		cfg.MaxInFlightVerifyingBlocks = DefaultMaxInFlightVerifyingBlocks
	}
	if log == nil {
		log = xlog.Discard
	}
	if listener == nil {
		listener = synclistener.Multi(nil)
	}
	return &Client{
		cfg:           cfg,
		log:           log,
		chain:         c,
		registry:      registry,
		scheduler:     scheduler,
		verifier:      verifier,
		mempool:       mempool,
		listener:      listener,
		speed:         NewAverageSpeedMeter(),
		events:   make(chan Event, 4096),
		peerTips: make(map[chain.PeerID]model.Height),
	}
}

// Submit enqueues ev for processing by Run's event loop. Returns
// ErrShuttingDown if ctx is done before the event is accepted.
func (c *Client) Submit(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return syncerr.Wrap(syncerr.ErrShuttingDown, "client core shutting down")
	}
}

// Run drains the event queue until ctx is cancelled, processing shutdown
// per §5: "process shutdown drains the client queue then the verifier
// queue" — Run returns once the queue is drained and ctx is done.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case ev := <-c.events:
				c.apply(ev)
			case <-ctx.Done():
				c.drain()
				return nil
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.checkTimeouts(time.Now())
			case <-ctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

// drain processes queued events before shutdown finalizes, returning as
// soon as the queue is empty; the number of events it handles is not capped.
func (c *Client) drain() {
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
		default:
			return
		}
	}
}

func (c *Client) apply(ev Event) {
	switch e := ev.(type) {
	case ConnectedEvent:
		c.onConnected(e.Peer, e.TipHeight)
	case HeadersEvent:
		c.onHeaders(e.Peer, e.Headers)
	case InventoryEvent:
		c.onInventory(e.Peer, e.Inv)
	case BlockEvent:
		c.onBlock(e.Peer, e.Block)
	case VerificationResultEvent:
		c.onVerificationResult(e.Hash, e.Err)
	case PeerDisconnectEvent:
		c.onPeerDisconnect(e.Peer)
	default:
		c.log.Warn("unknown event type", "type", ev)
	}
}

func (c *Client) onConnected(peer chain.PeerID, tipHeight model.Height) {
	c.peerTips[peer] = tipHeight
	c.recomputeState()
	if c.dispatcher != nil {
		if err := c.dispatcher.RequestHeaders(peer); err != nil {
			c.log.Warn("failed to request headers from new peer", "peer", peer, "err", err)
		}
	}
	c.scheduleMore()
}

// onHeaders validates continuity by simply feeding each header to the
// Sync Chain (which itself rejects anything whose parent is unknown into
// the orphan pool, or penalizes consensus-invalid shape) — append order
// follows the Sync Chain's own insertion semantics (§4.3).
func (c *Client) onHeaders(peer chain.PeerID, headers []model.IndexedHeader) {
	for _, h := range headers {
		displaced, _, ready, err := c.chain.InsertHeader(h)
		if err != nil {
			delta := peers.ScoreInvalidMessageShape
			switch {
			case errors.Is(err, syncerr.ErrOrphanCapExceeded):
				delta = peers.ScoreOrphanCapExceeded
			case errors.Is(err, syncerr.ErrConsensusInvalid):
				delta = peers.ScoreBlockConsensusFail
			}
			banned := c.registry.Penalize(peer, delta)
			if banned && c.cfg.CloseConnectionOnBadBlock {
				c.log.Info("disconnecting peer for invalid header", "peer", peer)
				c.dropPeer(peer)
			}
			continue
		}
		if len(displaced) > 0 && c.mempool != nil {
			c.mempool.Reorg(displaced)
		}
		for _, b := range ready {
			c.submitForVerification(b)
		}
	}
	c.recomputeState()
	c.scheduleMore()
}

// onInventory filters for unknown hashes and schedules block fetches
// (§4.3). Block inventories whose header we already know (the common
// headers-first case) and whose block is still Unknown or Scheduled (not
// yet Requested, Verifying, Stored or DeadEnd) are queued directly; everything else — unknown headers, transaction
// inventories — is left for the headers-sync / mempool paths, matching
// the boundary behavior note that unsolicited large invs are a peer
// penalty, not a work item, once they exceed InvMaxInventoryLen (enforced
// by pkg/wire at decode time, not here).
func (c *Client) onInventory(_ chain.PeerID, inv []wire.InventoryVector) {
	for _, item := range inv {
		if !item.Type.IsBlockKind() {
			continue
		}
		if _, known := c.chain.HeaderByHash(item.Hash); !known {
			continue
		}
		switch c.chain.StateOf(item.Hash).Kind {
		case chain.Unknown, chain.Scheduled:
			c.scheduler.Enqueue(item.Hash, tasks.KindBlock)
		}
	}
	c.scheduleMore()
}

func (c *Client) onBlock(peer chain.PeerID, block model.IndexedBlock) {
	result, err := c.chain.InsertBlock(block)
	if err != nil {
		if errors.Is(err, syncerr.ErrOrphanCapExceeded) {
			c.registry.Penalize(peer, peers.ScoreOrphanCapExceeded)
		}
		return
	}
	c.scheduler.OnResponse(block.Header.Hash)
	switch result.Action {
	case chain.ActionEnqueueVerification:
		c.submitForVerification(block)
	case chain.ActionHeld, chain.ActionOrphaned:
		// Waits on its parent (Held) or its header (Orphaned); nothing
		// more to do until that arrives.
	}
	c.scheduleMore()
}

func (c *Client) submitForVerification(b model.IndexedBlock) {
	level := c.chain.LevelFor(b.Header.Hash)
	c.verifyingCount++
	c.verifier.Submit(b, level)
}

// onVerificationResult is §4.3's on_verification_result(hash, ok|err): on
// ok, transition to Stored then drain unordered-verify children; on err,
// mark DeadEnd for the hash and its descendants, penalize the source peer.
func (c *Client) onVerificationResult(hash model.Hash, verifyErr error) {
	if c.verifyingCount > 0 {
		c.verifyingCount--
	}

	if verifyErr != nil {
		supplier := c.chain.StateOf(hash).Peer
		affected := c.chain.MarkDeadEnd(hash)
		if supplier != 0 {
			banned := c.registry.Penalize(supplier, peers.ScoreBlockConsensusFail)
			if banned && c.cfg.CloseConnectionOnBadBlock {
				c.log.Info("disconnecting peer for consensus-invalid block", "peer", supplier)
				c.dropPeer(supplier)
			}
		}
		c.log.Warn("block failed verification", "hash", hash, "err", verifyErr, "descendants_marked_dead", len(affected)-1)
		c.recomputeState()
		return
	}

	c.speed.Checkpoint(time.Now())
	ready := c.chain.OnBlockStored(hash)
	_, height := c.chain.BestStorageBlock()
	c.listener.OnBestStorageBlockInserted(hash)
	c.log.Debug("block stored", "hash", hash, "height", height)

	for _, r := range ready {
		c.submitForVerification(r)
	}
	c.recomputeState()
	c.scheduleMore()
}

// dropPeer un-assigns peer's outstanding work and removes it from the
// registry — the repair half of "peer punished, state repaired" (§7):
// a ban that doesn't also do this leaves the peer's in-flight items stuck
// and BlockEligiblePeers still willing to hand it more.
func (c *Client) dropPeer(peer chain.PeerID) {
	requeued := c.scheduler.OnPeerDisconnect(peer)
	for _, item := range requeued {
		c.scheduler.Enqueue(item.Hash, item.Kind)
	}
	delete(c.peerTips, peer)
	c.registry.Remove(peer)
}

func (c *Client) onPeerDisconnect(peer chain.PeerID) {
	c.dropPeer(peer)
	c.recomputeState()
	c.scheduleMore()
}

func (c *Client) checkTimeouts(now time.Time) {
	requeued, exhausted, timedOutPeers := c.scheduler.CheckTimeouts(now)
	for _, peer := range timedOutPeers {
		c.registry.Penalize(peer, peers.ScoreRequestTimeout)
	}
	for _, item := range requeued {
		c.scheduler.Enqueue(item.Hash, item.Kind)
	}
	if len(exhausted) > 0 {
		c.log.Warn("items exhausted retries, backing off", "count", len(exhausted))
	}
	c.scheduleMore()
}

// scheduleMore feeds Sync Chain's next scheduled blocks into Peer Tasks,
// subject to the backpressure cap (§4.3) and the service-bit filter
// (§4.2).
func (c *Client) scheduleMore() {
	room := c.cfg.MaxInFlightVerifyingBlocks - c.verifyingCount - c.scheduler.InFlightCount()
	if room <= 0 {
		return
	}
	for _, hash := range c.chain.ScheduleBlocks(room) {
		c.scheduler.Enqueue(hash, tasks.KindBlock)
	}
	eligible := c.registry.BlockEligiblePeers(c.cfg.RequiredBlockServices)
	assignments := c.scheduler.Assign(time.Now(), eligible)
	for _, a := range assignments {
		if a.Kind == tasks.KindBlock {
			c.chain.SetRequested(a.Hash, a.Peer, chain.State{Deadline: a.Deadline})
		}
	}
	if len(assignments) > 0 && c.dispatcher != nil {
		if err := c.dispatcher.Execute(assignments); err != nil {
			c.log.Warn("failed to dispatch scheduled work", "err", err)
		}
	}
}

func (c *Client) recomputeState() {
	_, ourHeight := c.chain.BestHeaderChainTip()
	var bestPeerTip model.Height
	for _, h := range c.peerTips {
		if h > bestPeerTip {
			bestPeerTip = h
		}
	}

	var next SyncState
	switch {
	case bestPeerTip > ourHeight+NearTipHysteresis:
		next = Synchronizing
	case bestPeerTip > ourHeight:
		next = NearlySaturated
	default:
		next = Saturated
	}

	if next != c.state {
		c.state = next
		c.listener.OnSyncStateSwitched(next != Saturated)
	}
}

// OnVerificationResult implements internal/verifier.Sink structurally (no
// import needed in either direction): the Async Verifier's worker
// goroutines call this from outside the client thread, so it only ever
// hands the result off through the event channel rather than processing
// it inline, preserving §5's single-owner-thread confinement.
func (c *Client) OnVerificationResult(hash model.Hash, err error) {
	c.events <- VerificationResultEvent{Hash: hash, Err: err}
}

// State returns the current sync state, for status reporting.
func (c *Client) State() SyncState { return c.state }

// SpeedMeter exposes the rolling block-storage throughput meter.
func (c *Client) SpeedMeter() *AverageSpeedMeter { return c.speed }

// SetDispatcher wires the Executor after construction, since cmd/btcsyncd
// builds the Executor with a reference to this same Client's Sync Chain,
// making the two awkward to construct in a single step.
func (c *Client) SetDispatcher(d Dispatcher) { c.dispatcher = d }

// SetVerifier wires the Async Verifier after construction: the Verifier
// itself needs this Client as its Sink, so the two can't be built in a
// single step either (the same circularity SetDispatcher resolves).
func (c *Client) SetVerifier(v Verifier) { c.verifier = v }
