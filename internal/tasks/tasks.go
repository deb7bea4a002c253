// Package tasks implements Peer Tasks (C3, §4.2): assignment of
// outstanding header/block requests to peers, round-robin by availability,
// subject to per-peer in-flight caps, with timeout-driven reassignment.
// Grounded on the teacher's eth/downloader request-queue idiom (the
// downloader's queue is the closest teacher analogue to a per-peer task
// scheduler), ported to a container/heap deadline queue the way
// eth/downloader/queue.go tracks per-request deadlines.
package tasks

import (
	"container/heap"
	"time"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/peers"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// Kind distinguishes a header request from a block request; each carries
// its own per-peer in-flight cap (§4.2).
type Kind int

const (
	KindHeader Kind = iota
	KindBlock
)

// Default per-peer in-flight caps and timeout constants (§4.2, §5).
const (
	DefaultMaxInFlightBlocksPerPeer  = 16
	DefaultMaxInFlightHeaderRequests = 1
	HeaderRequestTimeout             = 15 * time.Second
	blockBaseTimeout                 = 5 * time.Second
	// MaxTimeoutRetries is §7's "retried with different peer up to 3x
	// before scheduling backoff".
	MaxTimeoutRetries = 3
)

// Item is one outstanding (hash, kind) unit of work (§4.2).
type Item struct {
	Hash model.Hash
	Kind Kind
}

// Assignment pairs an Item with the peer it was handed to and the deadline
// by which a response is expected.
type Assignment struct {
	Item
	Peer     chain.PeerID
	Deadline time.Time
}

type pendingEntry struct {
	item    Item
	retries int
}

type inFlightEntry struct {
	item     Item
	peer     chain.PeerID
	deadline time.Time
	retries  int
	heapIdx  int
}

// Scheduler is the Peer Tasks component. Confined to the client thread
// like Sync Chain (§5); not safe for concurrent use.
type Scheduler struct {
	maxBlocksPerPeer  int
	maxHeadersPerPeer int

	pending   []pendingEntry
	inFlight  map[model.Hash]*inFlightEntry
	byPeer    map[chain.PeerID]map[model.Hash]struct{}
	deadlines deadlineHeap

	rrCursor int
}

// NewScheduler constructs a Scheduler with the given per-peer caps.
func NewScheduler(maxBlocksPerPeer, maxHeadersPerPeer int) *Scheduler {
	return &Scheduler{
		maxBlocksPerPeer:  maxBlocksPerPeer,
		maxHeadersPerPeer: maxHeadersPerPeer,
		inFlight:          make(map[model.Hash]*inFlightEntry),
		byPeer:            make(map[chain.PeerID]map[model.Hash]struct{}),
	}
}

// Enqueue adds hash/kind to the pending pool if it isn't already pending
// or in flight.
func (s *Scheduler) Enqueue(hash model.Hash, kind Kind) {
	if _, inflight := s.inFlight[hash]; inflight {
		return
	}
	for _, p := range s.pending {
		if p.item.Hash == hash {
			return
		}
	}
	s.pending = append(s.pending, pendingEntry{item: Item{Hash: hash, Kind: kind}})
}

// Assign hands out as many pending items as the eligible peer set's
// available capacity allows, round-robin, and returns the resulting
// assignments so the caller (Client Core, §4.3) can drive the Executor
// (C6) to send the actual wire requests.
func (s *Scheduler) Assign(now time.Time, eligible []*peers.Record) []Assignment {
	if len(eligible) == 0 || len(s.pending) == 0 {
		return nil
	}

	var out []Assignment
	remaining := s.pending[:0:0]
	attempts := 0
	peerCount := len(eligible)

	for _, entry := range s.pending {
		assigned := false
		for i := 0; i < peerCount; i++ {
			peer := eligible[(s.rrCursor+i)%peerCount]
			if s.capFor(entry.item.Kind, peer) {
				deadline := s.deadlineFor(entry.item.Kind, now, peer)
				s.assignLocked(entry, peer.ID, deadline)
				out = append(out, Assignment{
					Item:     entry.item,
					Peer:     peer.ID,
					Deadline: deadline,
				})
				s.rrCursor = (s.rrCursor + i + 1) % peerCount
				assigned = true
				attempts++
				break
			}
		}
		if !assigned {
			remaining = append(remaining, entry)
		}
	}
	s.pending = remaining
	return out
}

// capFor reports whether peer has spare per-kind in-flight capacity.
func (s *Scheduler) capFor(kind Kind, peer *peers.Record) bool {
	have := 0
	for hash := range s.byPeer[peer.ID] {
		if s.inFlight[hash].item.Kind == kind {
			have++
		}
	}
	switch kind {
	case KindBlock:
		return have < s.maxBlocksPerPeer
	default:
		return have < s.maxHeadersPerPeer
	}
}

func (s *Scheduler) deadlineFor(kind Kind, now time.Time, peer *peers.Record) time.Time {
	if kind == KindHeader {
		return now.Add(HeaderRequestTimeout)
	}
	latency := peer.AvgResponseLatency()
	coefficient := float64(latency) / float64(time.Second)
	return now.Add(blockBaseTimeout + time.Duration(coefficient*float64(blockBaseTimeout)))
}

func (s *Scheduler) assignLocked(entry pendingEntry, peer chain.PeerID, deadline time.Time) {
	e := &inFlightEntry{item: entry.item, peer: peer, deadline: deadline, retries: entry.retries}
	s.inFlight[entry.item.Hash] = e
	if s.byPeer[peer] == nil {
		s.byPeer[peer] = make(map[model.Hash]struct{})
	}
	s.byPeer[peer][entry.item.Hash] = struct{}{}
	heap.Push(&s.deadlines, e)
}

// OnResponse clears the in-flight record for hash, the caller having
// received a satisfying response.
func (s *Scheduler) OnResponse(hash model.Hash) {
	e, ok := s.inFlight[hash]
	if !ok {
		return
	}
	s.removeInFlight(e)
}

func (s *Scheduler) removeInFlight(e *inFlightEntry) {
	delete(s.inFlight, e.item.Hash)
	delete(s.byPeer[e.peer], e.item.Hash)
	if e.heapIdx >= 0 && e.heapIdx < len(s.deadlines) && s.deadlines[e.heapIdx] == e {
		heap.Remove(&s.deadlines, e.heapIdx)
	}
}

// CheckTimeouts pops every in-flight item whose deadline has passed,
// returning the items that should be requeued (still under
// MaxTimeoutRetries) as `requeued` and those that exhausted their retries
// as `exhausted` (§7's "retried up to 3x before scheduling backoff"). Both
// categories are items whose peer should be penalized by the caller with
// ScoreRequestTimeout.
func (s *Scheduler) CheckTimeouts(now time.Time) (requeued []Item, exhausted []Item, timedOutPeers []chain.PeerID) {
	for len(s.deadlines) > 0 && !s.deadlines[0].deadline.After(now) {
		e := heap.Pop(&s.deadlines).(*inFlightEntry)
		delete(s.inFlight, e.item.Hash)
		delete(s.byPeer[e.peer], e.item.Hash)
		timedOutPeers = append(timedOutPeers, e.peer)

		if e.retries+1 >= MaxTimeoutRetries {
			exhausted = append(exhausted, e.item)
			continue
		}
		s.pending = append(s.pending, pendingEntry{item: e.item, retries: e.retries + 1})
		requeued = append(requeued, e.item)
	}
	return requeued, exhausted, timedOutPeers
}

// OnPeerDisconnect requeues every item in flight to peer (§4.3's
// on_peer_disconnect: "requeue its in-flight requests").
func (s *Scheduler) OnPeerDisconnect(peer chain.PeerID) []Item {
	hashes := s.byPeer[peer]
	if len(hashes) == 0 {
		return nil
	}
	out := make([]Item, 0, len(hashes))
	for hash := range hashes {
		e := s.inFlight[hash]
		out = append(out, e.item)
		s.removeInFlight(e)
		s.pending = append(s.pending, pendingEntry{item: e.item, retries: e.retries})
	}
	delete(s.byPeer, peer)
	return out
}

// InFlightCount returns the total number of outstanding requests across
// all peers.
func (s *Scheduler) InFlightCount() int { return len(s.inFlight) }

// PendingCount returns the number of items not yet assigned to a peer.
func (s *Scheduler) PendingCount() int { return len(s.pending) }

// deadlineHeap is a container/heap priority queue ordered by Deadline,
// the textbook stdlib use DESIGN.md documents as not needing a
// third-party replacement.
type deadlineHeap []*inFlightEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*inFlightEntry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}
