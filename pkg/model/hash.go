// Package model defines the wire-independent data model of §3: hashes,
// indexed headers, transactions and blocks, and the block-state lattice the
// synchronization chain tracks per hash.
package model

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash is a 32-byte double-SHA-256 digest. It aliases chainhash.Hash so that
// this module's hashes interoperate directly with btcsuite's hashing and
// hex-encoding helpers rather than re-implementing them.
type Hash = chainhash.Hash

// ZeroHash is the all-zero hash used as the "no parent" sentinel for the
// genesis header and as the stop-hash wildcard in getheaders/getblocks.
var ZeroHash = Hash{}

// DoubleHashH returns SHA256D(b) as a Hash. It is the canonical hashing
// operation of every Indexed* invariant in this package.
func DoubleHashH(b []byte) Hash {
	return chainhash.DoubleHashH(b)
}
