package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/config"
	"github.com/btcsync-io/btcsyncd/internal/executor"
	"github.com/btcsync-io/btcsyncd/internal/mempool"
	"github.com/btcsync-io/btcsyncd/internal/peers"
	"github.com/btcsync-io/btcsyncd/internal/server"
	"github.com/btcsync-io/btcsyncd/internal/syncclient"
	"github.com/btcsync-io/btcsyncd/internal/tasks"
	"github.com/btcsync-io/btcsyncd/internal/verifier"
	"github.com/btcsync-io/btcsyncd/internal/xlog"
	"github.com/btcsync-io/btcsyncd/pkg/consensusiface"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/storage"
)

// node bundles every live-sync component for the `start` subcommand
// (chain -> blocks -> peers -> tasks -> mempool -> server -> executor ->
// syncclient -> verifier, wired together the way original_source/sync/src/lib.rs's
// create_sync wires its own equivalents).
type node struct {
	cfg   config.Config
	log   xlog.Logger
	store storage.Store

	chain     *chain.Chain
	registry  *peers.Registry
	scheduler *tasks.Scheduler
	blocks    *server.BlockStore
	pool      *mempool.Pool
	srv       *server.Server
	vf        *verifier.Verifier
	exec      *executor.Executor
	client    *syncclient.Client
}

// newNode constructs every component but starts nothing; callers drive it
// with Start.
func newNode(cfg config.Config, store storage.Store, log xlog.Logger) *node {
	consensus := consensusiface.NewDefault()
	genesis := genesisHeader(cfg.Network)

	c := chain.New(genesis, consensus, model.Height(cfg.VerificationEdgeHeight), log)

	blocks := server.NewBlockStore(store)
	genesisWork, _ := c.WorkOf(genesis.Hash)
	if err := blocks.Put(model.IndexedBlock{Header: genesis}, 0, genesisWork); err != nil {
		log.Warn("failed to persist genesis block", "err", err)
	}

	registry := peers.NewRegistry(nil)
	scheduler := tasks.NewScheduler(cfg.MaxInFlightBlocksPerPeer, cfg.MaxInFlightHeaderRequests)
	pool := mempool.New(mempool.Config{AcceptZeroFee: cfg.AcceptZeroFeeTransactions}, nil, log)
	srv := server.New(c, blocks, pool, registry, nil, log)

	sender := newLogOnlySender(log)
	exec := executor.New(sender, c, log)

	listener := &bestBlockRecorder{store: store, chain: c}

	clientCfg := syncclient.Config{
		MaxInFlightVerifyingBlocks: cfg.MaxInFlightVerifyingBlocks,
		RequiredBlockServices:      cfg.RequiredBlockServices,
		CloseConnectionOnBadBlock:  cfg.CloseConnectionOnBadBlock,
	}
	client := syncclient.New(clientCfg, c, registry, scheduler, nil, pool, listener, log)
	client.SetDispatcher(exec)

	vf := verifier.New(consensus, client, c, log, verifier.DefaultQueueSize)
	vf.SetPersister(&blockPersister{blocks: blocks, chain: c})
	client.SetVerifier(vf)

	return &node{
		cfg:       cfg,
		log:       log,
		store:     store,
		chain:     c,
		registry:  registry,
		scheduler: scheduler,
		blocks:    blocks,
		pool:      pool,
		srv:       srv,
		vf:        vf,
		exec:      exec,
		client:    client,
	}
}

// Start runs the Async Verifier's worker pool and the Client Core's event
// loop until ctx is cancelled. Nothing currently feeds the Client events
// (no live connection manager is wired: see logOnlySender), so a running
// node idles at the genesis tip until a future transport layer starts
// calling client.Submit from accepted connections.
func (n *node) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.vf.Run(ctx, n.cfg.VerifierWorkers)
	})
	g.Go(func() error {
		return n.client.Run(ctx)
	})
	n.log.Info("node started", "network", n.cfg.Network, "datadir", n.cfg.DataDir)
	return g.Wait()
}
