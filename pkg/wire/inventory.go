package wire

import (
	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// InventoryType is the u32 type tag of an inventory vector entry (§6.1),
// grounded on original_source/message/src/common/inventory.rs's
// InventoryType enum — values reused verbatim.
type InventoryType uint32

const (
	InvError                InventoryType = 0
	InvTx                   InventoryType = 1
	InvBlock                InventoryType = 2
	InvFilteredBlock        InventoryType = 3
	InvCompactBlock         InventoryType = 4
	InvWitnessTx            InventoryType = 0x40000001
	InvWitnessBlock         InventoryType = 0x40000002
	InvWitnessFilteredBlock InventoryType = 0x40000003
)

func (t InventoryType) valid() bool {
	switch t {
	case InvError, InvTx, InvBlock, InvFilteredBlock, InvCompactBlock,
		InvWitnessTx, InvWitnessBlock, InvWitnessFilteredBlock:
		return true
	default:
		return false
	}
}

// IsBlockKind reports whether t refers to a full or witness block.
func (t InventoryType) IsBlockKind() bool {
	return t == InvBlock || t == InvWitnessBlock
}

// IsTxKind reports whether t refers to a transaction, witness or not.
func (t InventoryType) IsTxKind() bool {
	return t == InvTx || t == InvWitnessTx
}

// InventoryVector announces or requests one known item by hash and kind.
type InventoryVector struct {
	Type InventoryType
	Hash model.Hash
}

// Tx builds a non-witness transaction inventory vector.
func Tx(h model.Hash) InventoryVector { return InventoryVector{Type: InvTx, Hash: h} }

// WitnessTx builds a witness transaction inventory vector.
func WitnessTx(h model.Hash) InventoryVector { return InventoryVector{Type: InvWitnessTx, Hash: h} }

// Block builds a non-witness block inventory vector.
func Block(h model.Hash) InventoryVector { return InventoryVector{Type: InvBlock, Hash: h} }

// WitnessBlock builds a witness block inventory vector.
func WitnessBlock(h model.Hash) InventoryVector {
	return InventoryVector{Type: InvWitnessBlock, Hash: h}
}

func (v InventoryVector) encode(w *Writer) {
	w.putUint32(uint32(v.Type))
	w.PutHash(v.Hash)
}

func decodeInventoryVector(r *Reader) (InventoryVector, error) {
	t, err := r.Uint32()
	if err != nil {
		return InventoryVector{}, err
	}
	if !InventoryType(t).valid() {
		return InventoryVector{}, errors.Wrapf(ErrMalformed, "unknown inventory type %#x", t)
	}
	h, err := r.Hash()
	if err != nil {
		return InventoryVector{}, err
	}
	return InventoryVector{Type: InventoryType(t), Hash: h}, nil
}

// InvMaxInventoryLen is §4.6's INV_MAX_INVENTORY_LEN: an inv/getdata
// message whose count exceeds this is malformed and penalizes the sender.
const InvMaxInventoryLen = 50_000

// EncodeInventoryVectors writes a bounded list of inventory vectors.
func EncodeInventoryVectors(w *Writer, items []InventoryVector) {
	WriteList(w, items, func(w *Writer, v InventoryVector) { v.encode(w) })
}

// DecodeInventoryVectors reads a bounded list of inventory vectors,
// enforcing InvMaxInventoryLen.
func DecodeInventoryVectors(r *Reader) ([]InventoryVector, error) {
	return ReadListMax(r, InvMaxInventoryLen, decodeInventoryVector)
}
