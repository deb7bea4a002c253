package main

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcsync-io/btcsyncd/internal/config"
	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// genesisMerkleRoot is the coinbase merkle root shared by mainnet, testnet3
// and regtest: only the header's time/bits/nonce differ per network.
const genesisMerkleRoot = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

// genesisHeader returns the network's genesis block header, reconstructed
// from the header fields rather than hardcoded as a hash, so
// model.NewIndexedHeader derives (and therefore self-checks) the hash the
// same way it would for any header arriving over the wire.
func genesisHeader(network config.Network) model.IndexedHeader {
	root, err := chainhash.NewHashFromStr(genesisMerkleRoot)
	if err != nil {
		panic(err)
	}

	raw := model.RawHeader{
		Version:    1,
		PrevHash:   model.ZeroHash,
		MerkleRoot: model.Hash(*root),
	}
	switch network {
	case config.Testnet:
		raw.Time = 1296688602
		raw.Bits = 0x1d00ffff
		raw.Nonce = 414098458
	case config.Regtest:
		raw.Time = 1296688602
		raw.Bits = 0x207fffff
		raw.Nonce = 2
	default: // config.Mainnet
		raw.Time = 1231006505
		raw.Bits = 0x1d00ffff
		raw.Nonce = 2083236893
	}
	return model.NewIndexedHeader(raw)
}
