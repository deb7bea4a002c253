package storage

import "sync"

// OverlayStore buffers writes in memory and only forwards them to the
// underlying Store on Commit, grounded on original_source/db/src/kv/
// mod.rs's overlaydb/cachedb split. Until Commit, the underlying Store is
// left untouched. Within this module only this package's tests construct one.
type OverlayStore struct {
	under Store
	mu    sync.Mutex
	dirty map[Column]map[string][]byte // nil value = pending delete
}

// NewOverlayStore wraps under.
func NewOverlayStore(under Store) *OverlayStore {
	return &OverlayStore{under: under, dirty: make(map[Column]map[string][]byte)}
}

// Stage records batch without touching the underlying store.
func (o *OverlayStore) Stage(batch Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range batch.Ops {
		if o.dirty[op.Column] == nil {
			o.dirty[op.Column] = make(map[string][]byte)
		}
		o.dirty[op.Column][string(op.Key)] = op.Value
	}
}

// Read checks staged writes first, falling through to the underlying store.
func (o *OverlayStore) Read(col Column, key []byte) ([]byte, error) {
	o.mu.Lock()
	if v, ok := o.dirty[col][string(key)]; ok {
		o.mu.Unlock()
		if v == nil {
			return nil, ErrNotFound
		}
		return v, nil
	}
	o.mu.Unlock()
	return o.under.Read(col, key)
}

// Commit flushes every staged write to the underlying store as a single
// batch and clears the overlay.
func (o *OverlayStore) Commit() error {
	o.mu.Lock()
	var batch Batch
	for col, kv := range o.dirty {
		for k, v := range kv {
			if v == nil {
				batch.Delete(col, []byte(k))
			} else {
				batch.Put(col, []byte(k), v)
			}
		}
	}
	o.dirty = make(map[Column]map[string][]byte)
	o.mu.Unlock()
	return o.under.Write(batch)
}

// Discard drops every staged write without touching the underlying store.
func (o *OverlayStore) Discard() {
	o.mu.Lock()
	o.dirty = make(map[Column]map[string][]byte)
	o.mu.Unlock()
}
