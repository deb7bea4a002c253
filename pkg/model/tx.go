package model

// OutPoint references a prior transaction output by hash and index (§3).
type OutPoint struct {
	Hash  Hash
	Index uint32
}

// TxIn is a transaction input: the outpoint it spends plus its unlocking
// script and witness stack. Script execution policy is out of scope
// (Non-goal); these fields are carried opaquely for hashing and relay.
type TxIn struct {
	PreviousOutput  OutPoint
	SignatureScript []byte
	Sequence        uint32
	Witness         [][]byte
}

// TxOut is a transaction output.
type TxOut struct {
	Value        int64
	PubKeyScript []byte
}

// RawTransaction is the wire-independent transaction body.
type RawTransaction struct {
	Version  int32
	Inputs   []TxIn
	Outputs  []TxOut
	LockTime uint32
}

// HasWitness reports whether any input carries segregated witness data;
// callers use it to pick the witness vs. legacy serialization/hash path.
func (t RawTransaction) HasWitness() bool {
	for _, in := range t.Inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

// Weight approximates BIP-141 transaction weight: legacy bytes * 4 plus
// witness bytes * 1. serializedLegacy/serializedWitness are supplied by the
// wire codec, which owns the actual byte layout; this package only combines
// the two counts the way policy (mempool inclusion, block assembly) needs.
func Weight(serializedLegacyLen, serializedWitnessLen int) int {
	return serializedLegacyLen*4 + serializedWitnessLen
}

// IndexedTransaction pairs a RawTransaction with its content hash, mirroring
// original_source/chain/src/indexed_transaction.rs's IndexedTransaction.
type IndexedTransaction struct {
	Hash Hash
	Raw  RawTransaction
}

// NewIndexedTransaction hashes serialized (the wire-codec encoding of raw,
// excluding witness data per BIP-141 txid rules) and returns the indexed
// form. The caller (pkg/wire) supplies the serialization since this package
// must not depend on the codec.
func NewIndexedTransaction(raw RawTransaction, serializedForTxid []byte) IndexedTransaction {
	return IndexedTransaction{Hash: DoubleHashH(serializedForTxid), Raw: raw}
}
