// Package chain implements the Sync Chain (C1, §4.1): the in-memory model
// of headers, requested/scheduled/verifying blocks, and the orphan pool.
// Grounded on original_source/sync/src/lib.rs's synchronization_chain
// module. Every exported Chain method takes Chain's mutex (the read lock
// for queries such as BestStorageBlock/Information), so the Server, §4.6,
// can query concurrently with the client thread that drives all writes.
package chain

import (
	"time"

	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// Kind is the tag of a Block State value (§3).
type Kind int

const (
	Unknown Kind = iota
	Scheduled
	Requested
	Verifying
	Stored
	DeadEnd
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case Scheduled:
		return "Scheduled"
	case Requested:
		return "Requested"
	case Verifying:
		return "Verifying"
	case Stored:
		return "Stored"
	case DeadEnd:
		return "DeadEnd"
	default:
		return "?"
	}
}

// PeerID identifies a connected peer; defined here (rather than imported
// from internal/peers) to avoid a dependency cycle, since internal/peers
// does not need to know about Chain.
type PeerID uint64

// State is a tagged Block State value per hash (§3).
type State struct {
	Kind Kind
	// Peer is populated for Kind == Requested and carried into Verifying
	// (the supplier a failed verification penalizes); Deadline is
	// populated only for Kind == Requested.
	Peer     PeerID
	Deadline time.Time
}

// HeaderEntry is one position on a chain (best or side branch): the header
// itself plus derived height and cumulative work, so reorg comparisons
// never need to walk the chain to recompute them.
type HeaderEntry struct {
	Hash   model.Hash
	Height model.Height
	Work   model.Work
	Header model.IndexedHeader
}
