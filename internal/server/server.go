// Package server implements the Server (C7, §4.6): answers inbound
// getheaders/getblocks/getdata/mempool requests from local state. It
// mutates nothing in the Sync Chain; its only Peers Registry writes are
// registering accepted inbound peers and penalizing peers that exceed
// request limits. Both expose their own internal locking, so Server methods can be
// called from as many connection-handling goroutines as the transport
// layer runs, concurrently with the single client thread's writes.
// Grounded on original_source/sync/src/lib.rs's Server/ServerTask split
// and on §4.6's per-message response shapes.
package server

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/peers"
	"github.com/btcsync-io/btcsyncd/internal/syncerr"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/wire"
)

// Per-request rate limit (§4.6 protects the server from being used as a
// free amplification source): each peer gets its own token bucket.
const (
	DefaultRequestsPerSecond = 10
	DefaultRequestBurst      = 20
)

// DefaultMaxInboundConnections bounds how many inbound peers AcceptInbound
// admits before refusing new ones, mirroring Bitcoin Core's conventional
// default peer-slot budget.
const DefaultMaxInboundConnections = 125

// ErrTooManyInboundPeers is returned by AcceptInbound once the inbound
// slot budget is exhausted.
var ErrTooManyInboundPeers = errors.New("server: inbound connection slots exhausted")

// ErrRateLimited is returned by the request handlers when a peer exceeds
// its request-rate budget; unlike a malformed/oversized request, this is
// not itself cause for a misbehavior penalty — it only protects our own
// resources.
var ErrRateLimited = errors.New("server: request rate exceeded")

// TransactionSource is what the Server needs from the Memory Pool (C9) to
// answer `mempool` and transaction-kind `getdata` requests. Declared here
// (the consumer), implemented there, to avoid an import cycle.
type TransactionSource interface {
	Transaction(hash model.Hash) (model.IndexedTransaction, bool)
	Hashes() []model.Hash
}

// Server answers inbound protocol requests from the Sync Chain, a
// BlockStore, and a TransactionSource.
type Server struct {
	chain   *chain.Chain
	blocks  *BlockStore
	mempool TransactionSource
	reg     *peers.Registry
	log     xlog.Logger

	maxInbound int

	mu       sync.Mutex
	limiters map[chain.PeerID]*rate.Limiter

	rejections *prometheus.CounterVec
}

// New constructs a Server. mempool may be nil, in which case mempool-kind
// requests are answered as empty/not-found rather than erroring, so the
// Server remains usable before C9 is wired up. promReg may be nil to skip
// Prometheus registration (e.g. in tests).
func New(c *chain.Chain, blocks *BlockStore, mempool TransactionSource, reg *peers.Registry, promReg prometheus.Registerer, log xlog.Logger) *Server {
	if log == nil {
		log = xlog.Discard
	}
	s := &Server{
		chain:      c,
		blocks:     blocks,
		mempool:    mempool,
		reg:        reg,
		log:        log,
		maxInbound: DefaultMaxInboundConnections,
		limiters:   make(map[chain.PeerID]*rate.Limiter),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "btcsyncd",
			Subsystem: "server",
			Name:      "rejected_requests_total",
			Help:      "Inbound requests rejected by the Server, by reason.",
		}, []string{"reason"}),
	}
	if promReg != nil {
		promReg.MustRegister(s.rejections)
	}
	return s
}

func (s *Server) limiterFor(peer chain.PeerID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[peer]
	if !ok {
		l = rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultRequestBurst)
		s.limiters[peer] = l
	}
	return l
}

func (s *Server) allow(peer chain.PeerID) bool {
	if s.limiterFor(peer).Allow() {
		return true
	}
	s.rejections.WithLabelValues("rate_limited").Inc()
	return false
}

// forgetPeer drops a disconnected peer's limiter so the map doesn't grow
// unboundedly over a long-running node's connection churn.
func (s *Server) forgetPeer(peer chain.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, peer)
}

// OnPeerDisconnect releases per-peer server-side bookkeeping.
func (s *Server) OnPeerDisconnect(peer chain.PeerID) {
	s.forgetPeer(peer)
}

// HandleGetHeaders answers §4.6's getheaders: up to MaxHeadersResult
// headers following the highest locator hash present in our chain.
func (s *Server) HandleGetHeaders(peer chain.PeerID, req wire.MsgGetHeaders) (wire.MsgHeaders, error) {
	if !s.allow(peer) {
		return wire.MsgHeaders{}, ErrRateLimited
	}
	if err := s.checkLocatorSize(peer, len(req.Locator.Hashes)); err != nil {
		return wire.MsgHeaders{}, err
	}
	headers := s.chain.HeadersAfterLocator(req.Locator.Hashes, req.Locator.StopHash, wire.MaxHeadersResult)
	return wire.MsgHeaders{Headers: headers}, nil
}

// HandleGetBlocks answers §4.6's getblocks: up to MaxGetBlocksResult block
// inventories following the highest locator hash present in our chain. The
// response is an inv, not the blocks themselves — the peer follows up with
// getdata for whichever it wants.
func (s *Server) HandleGetBlocks(peer chain.PeerID, req wire.MsgGetBlocks) (wire.MsgInv, error) {
	if !s.allow(peer) {
		return wire.MsgInv{}, ErrRateLimited
	}
	if err := s.checkLocatorSize(peer, len(req.Locator.Hashes)); err != nil {
		return wire.MsgInv{}, err
	}
	hashes := s.chain.BlockInventoriesAfterLocator(req.Locator.Hashes, req.Locator.StopHash, wire.MaxGetBlocksResult)
	items := make([]wire.InventoryVector, len(hashes))
	for i, h := range hashes {
		items[i] = wire.Block(h)
	}
	return wire.MsgInv{Items: items}, nil
}

// checkLocatorSize defends in depth against an oversized locator even
// though pkg/wire's decoder already caps it at MaxLocatorHashes — a
// malicious or buggy transport implementation might hand the Server a
// locator that bypassed that decode path.
func (s *Server) checkLocatorSize(peer chain.PeerID, n int) error {
	if n <= wire.MaxLocatorHashes {
		return nil
	}
	s.penalizeOversized(peer)
	return syncerr.Wrap(syncerr.ErrMalformed, "locator exceeds MaxLocatorHashes")
}

func (s *Server) penalizeOversized(peer chain.PeerID) {
	s.rejections.WithLabelValues("oversized").Inc()
	if s.reg == nil {
		return
	}
	s.reg.Penalize(peer, peers.ScoreInvalidMessageShape)
}

// HandleGetData answers §4.6's getdata: blocks and transactions we have,
// one response message per found item, plus a single coalesced notfound
// for everything we don't.
func (s *Server) HandleGetData(peer chain.PeerID, req wire.MsgGetData) ([]wire.Message, error) {
	if !s.allow(peer) {
		return nil, ErrRateLimited
	}
	if len(req.Items) > wire.InvMaxInventoryLen {
		s.penalizeOversized(peer)
		return nil, syncerr.Wrap(syncerr.ErrMalformed, "getdata exceeds InvMaxInventoryLen")
	}

	var out []wire.Message
	var missing []wire.InventoryVector
	for _, item := range req.Items {
		switch {
		case item.Type.IsBlockKind():
			block, found, err := s.lookupBlock(item.Hash)
			if err != nil {
				return nil, err
			}
			if !found {
				missing = append(missing, item)
				continue
			}
			out = append(out, wire.MsgBlock{Block: block})
		case item.Type.IsTxKind():
			tx, found := s.lookupTransaction(item.Hash)
			if !found {
				missing = append(missing, item)
				continue
			}
			out = append(out, wire.MsgTx{Tx: tx})
		default:
			missing = append(missing, item)
		}
	}
	if len(missing) > 0 {
		out = append(out, wire.MsgNotFound{Items: missing})
	}
	return out, nil
}

func (s *Server) lookupBlock(hash model.Hash) (model.IndexedBlock, bool, error) {
	if s.blocks == nil {
		return model.IndexedBlock{}, false, nil
	}
	return s.blocks.Get(hash)
}

// lookupTransaction only ever answers from the mempool: this module
// doesn't keep a txindex over confirmed transactions (consistent with
// Bitcoin Core's default, non-txindex behavior), so a getdata for a
// confirmed transaction's hash alone comes back notfound.
func (s *Server) lookupTransaction(hash model.Hash) (model.IndexedTransaction, bool) {
	if s.mempool == nil {
		return model.IndexedTransaction{}, false
	}
	return s.mempool.Transaction(hash)
}

// HandleMempool answers §4.6's mempool: an inv of every transaction
// currently held in the pool.
func (s *Server) HandleMempool(peer chain.PeerID) (wire.MsgInv, error) {
	if !s.allow(peer) {
		return wire.MsgInv{}, ErrRateLimited
	}
	if s.mempool == nil {
		return wire.MsgInv{}, nil
	}
	hashes := s.mempool.Hashes()
	items := make([]wire.InventoryVector, len(hashes))
	for i, h := range hashes {
		items[i] = wire.Tx(h)
	}
	return wire.MsgInv{Items: items}, nil
}

// InboundAcceptor is the narrow interface the transport layer is expected
// to drive when it accepts a new inbound connection (§C.4's supplemented
// "inbound connection factory"): Server stays otherwise transport-agnostic.
type InboundAcceptor interface {
	AcceptInbound(peer chain.PeerID, services peers.Service, caps peers.Capabilities) error
}

// AcceptInbound implements InboundAcceptor: registers peer if the inbound
// slot budget allows it.
func (s *Server) AcceptInbound(peer chain.PeerID, services peers.Service, caps peers.Capabilities) error {
	if s.reg.Len() >= s.maxInbound {
		return ErrTooManyInboundPeers
	}
	s.reg.Add(peer, services, caps)
	return nil
}

// SetMaxInboundConnections overrides the default inbound slot budget.
func (s *Server) SetMaxInboundConnections(n int) { s.maxInbound = n }
