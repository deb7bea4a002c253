// Package executor implements the Executor (C6, §4.6): the stateless
// translator from scheduled work (internal/tasks.Assignment) into outbound
// wire messages. It owns no synchronization state of its own — everything
// it needs (the locator, which hashes to request) is read from the Sync
// Chain at call time — so it can be driven directly from the Client Core's
// event-processing goroutine without its own lock.
// Grounded on original_source/sync/src/lib.rs's
// LocalSynchronizationTaskExecutor: a thin layer between "what to fetch
// next" and the peer connections that actually carry the request.
package executor

import (
	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/tasks"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// MaxHeadersPerGetHeaders bounds how many headers a single getheaders
// round trip is expected to return (§4.6). Nothing in this module reads
// it: outbound locators come from chain.Chain.BestChainLocator, and the
// receive-side cap is wire.MaxHeadersResult, checked by wire.DecodeHeaders.
const MaxHeadersPerGetHeaders = 2000

// getHeadersVersion is the protocol version advertised in outbound
// getheaders messages; it only needs to be high enough that peers don't
// downgrade their response, so it's a fixed constant rather than plumbed
// through from the handshake.
const getHeadersVersion = 70016

// PeerSender is what the Executor needs from the connection layer: a way
// to hand an encoded message to a specific peer. A real node's connection
// manager implements this; nothing in this module depends on the other
// direction.
type PeerSender interface {
	SendMessage(peer chain.PeerID, msg wire.Message) error
}

// Executor dispatches scheduled work as outbound protocol messages.
type Executor struct {
	sender PeerSender
	chain  *chain.Chain
	log    xlog.Logger
}

// New constructs an Executor.
func New(sender PeerSender, c *chain.Chain, log xlog.Logger) *Executor {
	if log == nil {
		log = xlog.Discard
	}
	return &Executor{sender: sender, chain: c, log: log}
}

// RequestHeaders sends a getheaders built from the current best-chain
// locator (§4.6's "headers-first" sync step).
func (e *Executor) RequestHeaders(peer chain.PeerID) error {
	locator := e.chain.BestChainLocator()
	msg := wire.MsgGetHeaders{
		Version: getHeadersVersion,
		Locator: wire.Locator{Hashes: locator, StopHash: model.ZeroHash},
	}
	if err := e.sender.SendMessage(peer, msg); err != nil {
		return err
	}
	e.log.Debug("sent getheaders", "peer", peer, "locator_len", len(locator))
	return nil
}

// Execute turns a batch of Peer Tasks assignments into the corresponding
// getdata requests, one message per peer, batching every block hash
// assigned to the same peer into a single getdata the way a real node's
// connection would coalesce them for one round trip.
func (e *Executor) Execute(assignments []tasks.Assignment) error {
	byPeer := make(map[chain.PeerID][]wire.InventoryVector)
	for _, a := range assignments {
		if a.Kind != tasks.KindBlock {
			continue
		}
		byPeer[a.Peer] = append(byPeer[a.Peer], wire.WitnessBlock(a.Hash))
	}
	for peer, items := range byPeer {
		if err := e.sender.SendMessage(peer, wire.MsgGetData{Items: items}); err != nil {
			return err
		}
		e.log.Debug("sent getdata", "peer", peer, "count", len(items))
	}
	return nil
}

// RequestMempool sends a mempool message (§4.6's initial mempool sync),
// used when a newly-connected peer advertises mempool support.
func (e *Executor) RequestMempool(peer chain.PeerID) error {
	return e.sender.SendMessage(peer, wire.MsgMempool{})
}

// Ping sends a keepalive ping, used by the connection layer's idle timer;
// the Executor just owns message construction, not the timer itself.
func (e *Executor) Ping(peer chain.PeerID, nonce uint64) error {
	return e.sender.SendMessage(peer, wire.MsgPing{Nonce: nonce})
}
