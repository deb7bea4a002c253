package syncclient

import (
	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// Event is a typed message the Client Core consumes from its input queue
// (§9's design note: "each component consumes typed events from a channel
// and produces typed commands to another channel"). Per-peer ingress tasks
// are the producers (§5).
type Event interface{ isEvent() }

// ConnectedEvent is §4.3's on_connected(peer): the peer's advertised tip.
type ConnectedEvent struct {
	Peer      chain.PeerID
	TipHeight model.Height
}

// HeadersEvent is §4.3's on_headers(peer, [headers]).
type HeadersEvent struct {
	Peer    chain.PeerID
	Headers []model.IndexedHeader
}

// InventoryEvent is §4.3's on_inventory(peer, [inv]).
type InventoryEvent struct {
	Peer chain.PeerID
	Inv  []wire.InventoryVector
}

// BlockEvent is §4.3's on_block(peer, block).
type BlockEvent struct {
	Peer  chain.PeerID
	Block model.IndexedBlock
}

// VerificationResultEvent is §4.3's on_verification_result(hash, ok|err).
type VerificationResultEvent struct {
	Hash model.Hash
	Err  error
}

// PeerDisconnectEvent is §4.3's on_peer_disconnect(peer).
type PeerDisconnectEvent struct {
	Peer chain.PeerID
}

func (ConnectedEvent) isEvent()            {}
func (HeadersEvent) isEvent()              {}
func (InventoryEvent) isEvent()            {}
func (BlockEvent) isEvent()                {}
func (VerificationResultEvent) isEvent()   {}
func (PeerDisconnectEvent) isEvent()       {}
