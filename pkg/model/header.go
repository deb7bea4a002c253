package model

import (
	"bytes"
	"encoding/binary"
)

// RawHeader is the 80-byte Bitcoin block header (§3).
type RawHeader struct {
	Version    int32
	PrevHash   Hash
	MerkleRoot Hash
	Time       uint32
	Bits       uint32
	Nonce      uint32
}

// Serialize writes the header in the fixed little-endian wire layout that
// IndexedHeader.Hash is computed over. Kept independent of pkg/wire (which
// imports this package) to avoid an import cycle while still giving every
// caller — including pkg/wire itself — one canonical byte layout.
func (h RawHeader) Serialize() []byte {
	buf := make([]byte, 0, 80)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(h.Version))
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Time)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Bits)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.Nonce)
	buf = append(buf, tmp[:]...)
	return buf
}

// DeserializeHeader is the inverse of Serialize; it returns an error-free
// zero value if b is short, callers are expected to have length-checked
// already (pkg/wire does, via ReadListMax/fixed reads).
func DeserializeHeader(b []byte) RawHeader {
	var h RawHeader
	if len(b) < 80 {
		return h
	}
	r := bytes.NewReader(b)
	var version uint32
	binary.Read(r, binary.LittleEndian, &version)
	h.Version = int32(version)
	io := make([]byte, 32)
	r.Read(io)
	copy(h.PrevHash[:], io)
	r.Read(io)
	copy(h.MerkleRoot[:], io)
	binary.Read(r, binary.LittleEndian, &h.Time)
	binary.Read(r, binary.LittleEndian, &h.Bits)
	binary.Read(r, binary.LittleEndian, &h.Nonce)
	return h
}

// IndexedHeader pairs a RawHeader with its content hash (§3). The invariant
// Hash == SHA256D(Serialize(Raw)) is established by NewIndexedHeader and
// never by direct struct construction elsewhere in this module.
type IndexedHeader struct {
	Hash Hash
	Raw  RawHeader
}

// NewIndexedHeader hashes raw and returns the indexed form.
func NewIndexedHeader(raw RawHeader) IndexedHeader {
	return IndexedHeader{Hash: DoubleHashH(raw.Serialize()), Raw: raw}
}

// Target expands the compact "bits" field into a 256-bit target threshold.
// A header's hash, interpreted as a big-endian integer, must be <= Target
// for its proof-of-work to be valid.
func (h RawHeader) Target() Work {
	return compactToTarget(h.Bits)
}
