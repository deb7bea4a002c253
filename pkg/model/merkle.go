package model

// MerkleRoot computes the Bitcoin merkle root over transaction hashes,
// pairing and double-hashing levels bottom-up, duplicating the final
// element of an odd-length level (the historical, CVE-2012-2459-prone but
// still consensus-mandated behavior).
func MerkleRoot(txHashes []Hash) Hash {
	if len(txHashes) == 0 {
		return ZeroHash
	}
	level := make([]Hash, len(txHashes))
	copy(level, txHashes)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := range next {
			var buf [64]byte
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = DoubleHashH(buf[:])
		}
		level = next
	}
	return level[0]
}

// IndexedBlock pairs a header with its transactions (§3). The invariant
// Header.Raw.MerkleRoot == MerkleRoot(txHashes) is checked by
// VerifyMerkleRoot, not by construction, so that partially-received blocks
// (still being reassembled by the executor) can exist transiently.
type IndexedBlock struct {
	Header       IndexedHeader
	Transactions []IndexedTransaction
}

// VerifyMerkleRoot reports whether b's header merkle root matches the
// merkle root computed over b's transaction hashes, in order.
func (b IndexedBlock) VerifyMerkleRoot() bool {
	hashes := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash
	}
	return MerkleRoot(hashes) == b.Header.Raw.MerkleRoot
}

// Height is an in-chain block height; genesis is height 0.
type Height uint32
