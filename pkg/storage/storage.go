// Package storage declares the durable key/value store external
// collaborator (§6.2): the blockchain exposed as indexed columns. It
// provides a MemStore for tests, a LevelStore durable engine, and an
// OverlayStore that buffers writes until Commit, mirroring
// original_source/db/src/kv/mod.rs's memorydb/diskdb/overlaydb split.
package storage

import (
	"github.com/cockroachdb/errors"
)

// Column identifies one of the column families of §6.2.
type Column string

const (
	ColMeta                Column = "meta"
	ColBlockHeaders         Column = "block_headers"
	ColBlockHashes          Column = "block_hashes"          // by height
	ColBlockTransactions    Column = "block_transactions"    // block-hash -> [tx-hash]
	ColTransactions         Column = "transactions"
	ColTransactionsMeta     Column = "transactions_meta"     // spentness
	ColBlockMeta            Column = "block_meta"            // height, work
)

// ErrNotFound is returned by Read when the key is absent from the column.
var ErrNotFound = errors.New("storage: key not found")

// Op is a single write within a Batch: a Put (Value != nil) or a Delete
// (Value == nil).
type Op struct {
	Column Column
	Key    []byte
	Value  []byte
}

// Batch is an ordered group of writes applied atomically by Write.
type Batch struct {
	Ops []Op
}

// Put appends a Put operation.
func (b *Batch) Put(col Column, key, value []byte) {
	b.Ops = append(b.Ops, Op{Column: col, Key: key, Value: value})
}

// Delete appends a Delete operation.
func (b *Batch) Delete(col Column, key []byte) {
	b.Ops = append(b.Ops, Op{Column: col, Key: key, Value: nil})
}

// Snapshot is a consistent, read-only view of a Store at a point in time
// (§5's "storage is shared via a handle that offers snapshot-consistent
// reads"). The verifier worker(s) read exclusively through Snapshots; only
// the client thread calls Write on the underlying Store.
type Snapshot interface {
	Read(col Column, key []byte) ([]byte, error)
	IterColumn(col Column, fn func(key, value []byte) bool) error
	Release()
}

// Store is the full storage collaborator (§6.2): begin_transaction, write,
// read, iter_column, best_block.
type Store interface {
	// BeginTransaction opens a snapshot-consistent read view.
	BeginTransaction() (Snapshot, error)
	// Write applies batch atomically. Only the client thread (§5) calls
	// this, so Store implementations need not guard Write against
	// concurrent Write callers — only against concurrent BeginTransaction.
	Write(batch Batch) error
	// Read is a convenience direct read outside of an explicit snapshot,
	// for call sites (the Server, §4.6) that want read-committed rather
	// than a pinned snapshot.
	Read(col Column, key []byte) ([]byte, error)
	// IterColumn walks all key/value pairs of col in key order, stopping
	// early if fn returns false.
	IterColumn(col Column, fn func(key, value []byte) bool) error
	// BestBlock returns the column-store's notion of the current best
	// block hash/height, as last recorded under ColMeta.
	BestBlock() (hash []byte, height uint32, ok bool)
	// Close releases the underlying engine.
	Close() error
}

// MetaKeyBestBlock is the ColMeta key holding the serialized best-block
// pointer (32-byte hash || 4-byte little-endian height).
const MetaKeyBestBlock = "best_block"
