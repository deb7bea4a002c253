package main

import (
	"encoding/binary"

	"github.com/btcsync-io/btcsyncd/internal/chain"
	"github.com/btcsync-io/btcsyncd/internal/server"
	"github.com/btcsync-io/btcsyncd/pkg/model"
	"github.com/btcsync-io/btcsyncd/pkg/storage"
)

// blockPersister implements internal/verifier.Persister by combining the
// BlockStore (for the body) with the Sync Chain (for the height/work
// BlockStore.Put indexes the body under). Without this, the live-sync path
// verified blocks but never wrote them anywhere durable — only
// internal/blockswriter's synchronous bulk path called BlockStore.Put.
type blockPersister struct {
	blocks *server.BlockStore
	chain  *chain.Chain
}

func (p *blockPersister) Persist(b model.IndexedBlock) error {
	height, _ := p.chain.HeightOf(b.Header.Hash)
	work, _ := p.chain.WorkOf(b.Header.Hash)
	return p.blocks.Put(b, height, work)
}

// bestBlockRecorder implements pkg/synclistener.Listener, writing the
// durable best-block meta pointer (storage.ColMeta/MetaKeyBestBlock) each
// time the Sync Chain advances its stored tip. Storage otherwise never
// learns which hash is current — BestBlock() would report "not found"
// forever — and rollback-to needs that pointer to know where the chain
// currently stands before it walks backward.
type bestBlockRecorder struct {
	store storage.Store
	chain *chain.Chain
}

func (r *bestBlockRecorder) OnSyncStateSwitched(isSynchronizing bool) {}

func (r *bestBlockRecorder) OnBestStorageBlockInserted(hash model.Hash) {
	height, ok := r.chain.HeightOf(hash)
	if !ok {
		return
	}
	writeBestBlock(r.store, hash, height)
}

func writeBestBlock(store storage.Store, hash model.Hash, height model.Height) error {
	var v [36]byte
	copy(v[:32], hash[:])
	binary.LittleEndian.PutUint32(v[32:], uint32(height))
	batch := storage.Batch{}
	batch.Put(storage.ColMeta, []byte(storage.MetaKeyBestBlock), v[:])
	return store.Write(batch)
}
