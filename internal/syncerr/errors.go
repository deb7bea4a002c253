// Package syncerr declares the error taxonomy of §7: sentinel errors for
// each category, wrapped with github.com/cockroachdb/errors so call sites
// can classify with errors.Is while still carrying a human-readable chain
// of context via errors.Wrap.
package syncerr

import "github.com/cockroachdb/errors"

// The six taxonomy entries of §7. Each is a sentinel; concrete occurrences
// are always produced via Wrap so the message chain reads naturally
// ("inv list length 50001 exceeds cap 50000: malformed").
var (
	// ErrMalformed: wire/codec violation; always peer-fatal.
	ErrMalformed = errors.New("malformed")
	// ErrConsensusInvalid: block or transaction fails consensus rules.
	ErrConsensusInvalid = errors.New("consensus invalid")
	// ErrOrphanCapExceeded: TooManyOrphanBlocks.
	ErrOrphanCapExceeded = errors.New("too many orphan blocks")
	// ErrStorage: durable-store I/O failure; fatal to the sync process.
	ErrStorage = errors.New("storage error")
	// ErrTimeout: request deadline exceeded.
	ErrTimeout = errors.New("timeout")
	// ErrShuttingDown: graceful drain signal.
	ErrShuttingDown = errors.New("shutting down")
)

// Wrap attaches msg as context to sentinel, the one spelling used
// throughout this module so call sites stay consistent and
// errors.Is(err, syncerr.ErrX) keeps working through the wrap.
func Wrap(sentinel error, msg string) error {
	return errors.Wrap(sentinel, msg)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(sentinel error, format string, args ...any) error {
	return errors.Wrapf(sentinel, format, args...)
}

// PeerFault wraps an error with the misbehavior-score delta §4.2 and §7
// prescribe for it, so a call site that catches an error can mechanically
// penalize the offending peer without re-deriving the score from the error
// category.
type PeerFault struct {
	cause      error
	ScoreDelta int
	// Disconnect is true when the fault is immediately connection-fatal
	// (§4.2: reaching 100 disconnects; Malformed and ConsensusInvalid are
	// always +100 and therefore always immediately fatal).
	Disconnect bool
}

// NewPeerFault wraps cause with the scoring consequence it carries.
func NewPeerFault(cause error, scoreDelta int, disconnect bool) *PeerFault {
	return &PeerFault{cause: cause, ScoreDelta: scoreDelta, Disconnect: disconnect}
}

func (p *PeerFault) Error() string { return p.cause.Error() }
func (p *PeerFault) Unwrap() error { return p.cause }

// Score deltas named by §4.2.
const (
	ScoreInvalidMessageShape = 100
	ScoreBlockConsensusFail  = 100
	ScoreUnsolicitedLargeInv = 10
	ScoreRequestTimeout      = 5
	ScoreOrphanCapExceeded   = 10
	// ScoreBanThreshold is the score at which §4.2 disconnects a peer.
	ScoreBanThreshold = 100
	// ScoreDecayPerMinute is how fast an idle peer's score decays (§4.2).
	ScoreDecayPerMinute = 1
)

// MalformedFault builds the peer fault for a wire/codec violation: +100,
// immediate ban, per §7.
func MalformedFault(cause error) *PeerFault {
	return NewPeerFault(Wrap(ErrMalformed, cause.Error()), ScoreInvalidMessageShape, true)
}

// ConsensusInvalidFault builds the peer fault for a block failing
// consensus: +100, per §7 (spec.md's §4.2 table).
func ConsensusInvalidFault(cause error) *PeerFault {
	return NewPeerFault(Wrap(ErrConsensusInvalid, cause.Error()), ScoreBlockConsensusFail, true)
}

// OrphanCapExceededFault builds the peer fault for §8 scenario 5: +10, not
// immediately disconnecting.
func OrphanCapExceededFault() *PeerFault {
	return NewPeerFault(ErrOrphanCapExceeded, ScoreOrphanCapExceeded, false)
}

// TimeoutFault builds the peer fault for a request deadline miss: +5.
func TimeoutFault(cause error) *PeerFault {
	return NewPeerFault(Wrap(ErrTimeout, cause.Error()), ScoreRequestTimeout, false)
}
