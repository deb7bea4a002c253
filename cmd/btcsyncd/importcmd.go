package main

import (
	"os"

	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/internal/blockswriter"
	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/config"
	"github.com/btcsync-io/btcsyncd/internal/server"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/storage"
)

// runImport drives the Blocks Writer (C8) end to end against a length-
// prefixed block stream file, mutually exclusive with `start` by virtue of
// being a wholly separate subcommand invocation (see
// internal/blockswriter's package doc).
func runImport(cfg config.Config, store storage.Store, log xlog.Logger, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "opening import file %s", path)
	}
	defer f.Close()

	consensus := consensusiface.NewDefault()
	genesis := genesisHeader(cfg.Network)
	c := chain.New(genesis, consensus, model.Height(cfg.VerificationEdgeHeight), log)

	blocks := server.NewBlockStore(store)
	genesisWork, _ := c.WorkOf(genesis.Hash)
	if err := blocks.Put(model.IndexedBlock{Header: genesis}, 0, genesisWork); err != nil {
		return 0, errors.Wrap(err, "persisting genesis block")
	}

	writer := blockswriter.New(blocks, consensus, log)
	src := blockswriter.NewStreamSource(f)

	imported, err := writer.Import(src, c)
	if err != nil {
		return imported, errors.Wrap(err, "importing block stream")
	}

	tipHash, tipHeight := c.BestStorageBlock()
	if err := writeBestBlock(store, tipHash, tipHeight); err != nil {
		return imported, errors.Wrap(err, "recording best block after import")
	}
	return imported, nil
}
