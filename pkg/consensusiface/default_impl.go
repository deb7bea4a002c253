package consensusiface

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// ErrInvalidProofOfWork is returned when a header's hash does not meet the
// target its own "bits" field encodes.
var ErrInvalidProofOfWork = errors.New("consensus: invalid proof of work")

// ErrTimeOutOfRange is returned when a header's timestamp violates the
// median-time-past or future-drift bound.
var ErrTimeOutOfRange = errors.New("consensus: timestamp out of range")

// ErrMerkleRootMismatch is returned when a block's transactions don't hash
// to the header's declared merkle root.
var ErrMerkleRootMismatch = errors.New("consensus: merkle root mismatch")

// ErrUnknownOutput is returned when a transaction spends an output the
// supplied UTXOView does not know about.
var ErrUnknownOutput = errors.New("consensus: spends unknown or already-spent output")

// ErrMalformedWitnessPubKey is returned when a witness stack's final element
// has a compressed or uncompressed pubkey length (33 or 65 bytes) but does
// not decode to a point on secp256k1. Full script execution is out of scope
// (Non-goal); this is the shape-only sanity check that substitutes for it.
var ErrMalformedWitnessPubKey = errors.New("consensus: witness pubkey does not decode to a valid secp256k1 point")

// maxFutureDrift is the "time in range" bound of §4.1: a header's time must
// not be more than two hours ahead of the verifying node's clock, matching
// Bitcoin Core's MAX_FUTURE_BLOCK_TIME.
const maxFutureDrift = 2 * time.Hour

// VerifyHeader implements the stateless header rules of §4.1.
func (d *Default) VerifyHeader(h model.IndexedHeader, ctx Context) error {
	if ctx.Level == NoVerification {
		return nil
	}
	if !model.HashMeetsTarget(h.Hash, h.Raw.Bits) {
		return errors.Wrapf(ErrInvalidProofOfWork, "header %s", h.Hash)
	}
	t := time.Unix(int64(h.Raw.Time), 0)
	if !ctx.MedianTimePast.IsZero() && !t.After(ctx.MedianTimePast) {
		return errors.Wrapf(ErrTimeOutOfRange, "header %s time %s not after median-time-past %s", h.Hash, t, ctx.MedianTimePast)
	}
	if t.After(d.now().Add(maxFutureDrift)) {
		return errors.Wrapf(ErrTimeOutOfRange, "header %s time %s too far in the future", h.Hash, t)
	}
	return nil
}

// VerifyBlock implements §4.1's block-body rule: the merkle root invariant.
// At VerificationLevel Header, the body is not checked at all (the spec's
// trusted fast-sync path); at Full and above the merkle root must match and
// every transaction must individually verify against utxo supplied by the
// caller — VerifyBlock itself only checks the merkle invariant, consistent
// with a consensus verifier that delegates per-transaction checks to
// VerifyTransaction so the async verifier (§4.4) can interleave them with
// mempool admission.
func (d *Default) VerifyBlock(b model.IndexedBlock, ctx Context) error {
	if ctx.Level == NoVerification || ctx.Level == Header {
		return nil
	}
	if !b.VerifyMerkleRoot() {
		return errors.Wrapf(ErrMerkleRootMismatch, "block %s", b.Header.Hash)
	}
	return nil
}

// VerifyTransaction checks that every input's previous output resolves in
// utxo. Fee/standardness/dust policy (§4.4's mempool admission policy) is
// layered on top by internal/mempool, not here: this is the consensus-level
// check, which only cares whether the spend is structurally resolvable.
func (d *Default) VerifyTransaction(tx model.IndexedTransaction, utxo UTXOView, ctx Context) error {
	if ctx.Level == NoVerification {
		return nil
	}
	for _, in := range tx.Raw.Inputs {
		if _, ok := utxo.Output(in.PreviousOutput); !ok {
			return errors.Wrapf(ErrUnknownOutput, "tx %s input %s:%d", tx.Hash, in.PreviousOutput.Hash, in.PreviousOutput.Index)
		}
		if err := verifyWitnessPubKeyShape(in.Witness); err != nil {
			return errors.Wrapf(err, "tx %s input %s:%d", tx.Hash, in.PreviousOutput.Hash, in.PreviousOutput.Index)
		}
	}
	return nil
}

// verifyWitnessPubKeyShape checks the final element of a witness stack, when
// it is pubkey-sized, actually decodes to a secp256k1 point. This is not
// full script execution (Non-goal) — it only rejects the cheap, common case
// of a corrupt or truncated pubkey pushed where a valid one is expected.
func verifyWitnessPubKeyShape(witness [][]byte) error {
	if len(witness) == 0 {
		return nil
	}
	last := witness[len(witness)-1]
	if len(last) != 33 && len(last) != 65 {
		return nil
	}
	if _, err := btcec.ParsePubKey(last); err != nil {
		return ErrMalformedWitnessPubKey
	}
	return nil
}
