package main

import (
	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/internal/server"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/storage"
)

// ErrHeightNotRecorded is returned when rollback-to targets a height this
// store never persisted a block at.
var ErrHeightNotRecorded = errors.New("btcsyncd: no block recorded at that height")

// rollbackTo discards every stored block above height and repoints
// storage's best-block meta pointer at height's hash. It operates purely
// against storage.ColBlockMeta (the height index BlockStore.Put maintains)
// and never needs a live internal/chain.Chain, which is why this command
// can run standalone against a store left behind by a previous `start` or
// `import` invocation.
func rollbackTo(store storage.Store, height model.Height) (removed int, err error) {
	blocks := server.NewBlockStore(store)

	hash, _, found, err := blocks.HashAtHeight(height)
	if err != nil {
		return 0, errors.Wrapf(err, "reading block_meta at height %d", height)
	}
	if !found {
		return 0, errors.Wrapf(ErrHeightNotRecorded, "height %d", height)
	}

	removed, err = blocks.TruncateAbove(height)
	if err != nil {
		return 0, errors.Wrap(err, "truncating blocks above rollback target")
	}
	if err := writeBestBlock(store, hash, height); err != nil {
		return removed, errors.Wrap(err, "repointing best-block meta")
	}
	return removed, nil
}
