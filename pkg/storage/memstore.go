package storage

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemStore is an in-memory Store, grounded on original_source/db/src/kv/
// mod.rs's memorydb, used by this module's own tests where durability
// isn't needed.
type MemStore struct {
	mu   sync.RWMutex
	cols map[Column]map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{cols: make(map[Column]map[string][]byte)}
}

func (m *MemStore) col(c Column) map[string][]byte {
	if m.cols[c] == nil {
		m.cols[c] = make(map[string][]byte)
	}
	return m.cols[c]
}

func (m *MemStore) Write(batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range batch.Ops {
		if op.Value == nil {
			delete(m.col(op.Column), string(op.Key))
			continue
		}
		m.col(op.Column)[string(op.Key)] = append([]byte(nil), op.Value...)
	}
	return nil
}

func (m *MemStore) Read(col Column, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.col(col)[string(key)]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "col=%s key=%x", col, key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemStore) IterColumn(col Column, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.col(col)))
	for k := range m.col(col) {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		m.mu.RLock()
		v, ok := m.col(col)[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn([]byte(k), v) {
			break
		}
	}
	return nil
}

func (m *MemStore) BestBlock() (hash []byte, height uint32, ok bool) {
	v, err := m.Read(ColMeta, []byte(MetaKeyBestBlock))
	if err != nil || len(v) < 36 {
		return nil, 0, false
	}
	return v[:32], binary.LittleEndian.Uint32(v[32:36]), true
}

func (m *MemStore) Close() error { return nil }

// BeginTransaction returns a point-in-time snapshot by shallow-copying the
// current column maps under the read lock.
func (m *MemStore) BeginTransaction() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &memSnapshot{cols: make(map[Column]map[string][]byte, len(m.cols))}
	for c, kv := range m.cols {
		cp := make(map[string][]byte, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		snap.cols[c] = cp
	}
	return snap, nil
}

type memSnapshot struct {
	cols map[Column]map[string][]byte
}

func (s *memSnapshot) Read(col Column, key []byte) ([]byte, error) {
	v, ok := s.cols[col][string(key)]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "col=%s key=%x", col, key)
	}
	return v, nil
}

func (s *memSnapshot) IterColumn(col Column, fn func(key, value []byte) bool) error {
	keys := make([]string, 0, len(s.cols[col]))
	for k := range s.cols[col] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), s.cols[col][k]) {
			break
		}
	}
	return nil
}

func (s *memSnapshot) Release() {}
