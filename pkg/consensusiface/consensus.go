// Package consensusiface declares the consensus verifier external
// collaborator (§6.3): stateless and contextual rules that judge a header,
// block, or transaction valid. This core only depends on the interface;
// concrete rule enforcement (script execution, full contextual validation)
// is out of scope per spec.md's Non-goals ("script execution policy beyond
// what consensus requires"). The default implementation here covers the
// subset of rules the synchronization core itself must be able to exercise
// in tests without a full node's rule engine: proof-of-work-meets-bits and
// timestamp bounds for headers, merkle-root consistency for blocks.
package consensusiface

import (
	"time"

	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// VerificationLevel mirrors original_source/sync/src/lib.rs's
// VerificationParameters: how thoroughly a block is checked, used to
// support trusted-checkpoint fast-sync (§4.4).
type VerificationLevel int

const (
	// Full verification: every consensus rule, every transaction.
	Full VerificationLevel = iota
	// Header verification: only the header's own rules (PoW, timestamp).
	Header
	// NoVerification: accepted on the strength of a trusted checkpoint.
	NoVerification
)

// Context supplies the contextual inputs a stateless verifier call cannot
// derive on its own: chain tip height, median-time-past, and the
// verification level to apply (§6.3).
type Context struct {
	TipHeight      model.Height
	MedianTimePast time.Time
	Level          VerificationLevel
}

// UTXOView resolves previous outputs for transaction verification; both the
// memory pool and the store provide one (§4.4).
type UTXOView interface {
	// Output returns the referenced output and whether it is unspent and
	// known.
	Output(op model.OutPoint) (model.TxOut, bool)
}

// Verifier is the consensus verifier collaborator (§6.3).
type Verifier interface {
	VerifyHeader(h model.IndexedHeader, ctx Context) error
	VerifyBlock(b model.IndexedBlock, ctx Context) error
	VerifyTransaction(tx model.IndexedTransaction, utxo UTXOView, ctx Context) error
}

// Default is the built-in Verifier: proof-of-work and timestamp checks for
// headers, merkle-root consistency for blocks, and a minimal structural
// check for transactions (existence of referenced outputs). It exists so
// this module compiles and tests end-to-end without requiring a full
// script-interpreting verifier, which is explicitly out of scope.
type Default struct {
	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// NewDefault returns a Default verifier using the real clock.
func NewDefault() *Default {
	return &Default{Now: time.Now}
}

func (d *Default) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
