package storage

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is the durable Store engine, grounded on original_source/db/
// src/kv/mod.rs's diskdb. Columns are namespaced by prefixing keys with the
// column name, since goleveldb has no native column-family concept.
//
// A VictoriaMetrics fastcache fronts reads of the ColBlockHeaders column so
// that repeated header lookups don't round-trip through the LSM tree; other
// columns are read from LevelDB directly.
type LevelStore struct {
	db         *leveldb.DB
	headerCache *fastcache.Cache
}

// OpenLevelStore opens (creating if absent) a LevelStore at dir, with a
// header cache sized cacheBytes.
func OpenLevelStore(dir string, cacheBytes int) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %s", dir)
	}
	if cacheBytes <= 0 {
		cacheBytes = 32 * 1024 * 1024
	}
	return &LevelStore{db: db, headerCache: fastcache.New(cacheBytes)}, nil
}

func namespacedKey(col Column, key []byte) []byte {
	out := make([]byte, 0, len(col)+1+len(key))
	out = append(out, col...)
	out = append(out, ':')
	out = append(out, key...)
	return out
}

func (s *LevelStore) Write(batch Batch) error {
	b := new(leveldb.Batch)
	for _, op := range batch.Ops {
		nk := namespacedKey(op.Column, op.Key)
		if op.Value == nil {
			b.Delete(nk)
			if op.Column == ColBlockHeaders {
				s.headerCache.Del(op.Key)
			}
			continue
		}
		b.Put(nk, op.Value)
		if op.Column == ColBlockHeaders {
			s.headerCache.Set(op.Key, op.Value)
		}
	}
	if err := s.db.Write(b, nil); err != nil {
		return errors.Wrap(err, "leveldb write")
	}
	return nil
}

func (s *LevelStore) Read(col Column, key []byte) ([]byte, error) {
	if col == ColBlockHeaders {
		if v, ok := s.headerCache.HasGet(nil, key); ok {
			return v, nil
		}
	}
	v, err := s.db.Get(namespacedKey(col, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "col=%s key=%x", col, key)
		}
		return nil, errors.Wrap(err, "leveldb read")
	}
	if col == ColBlockHeaders {
		s.headerCache.Set(key, v)
	}
	return v, nil
}

func (s *LevelStore) IterColumn(col Column, fn func(key, value []byte) bool) error {
	prefix := append([]byte(col), ':')
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()[len(prefix):]
		if !fn(append([]byte(nil), key...), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return errors.Wrap(it.Error(), "leveldb iterate")
}

func (s *LevelStore) BestBlock() (hash []byte, height uint32, ok bool) {
	v, err := s.Read(ColMeta, []byte(MetaKeyBestBlock))
	if err != nil || len(v) < 36 {
		return nil, 0, false
	}
	return v[:32], binary.LittleEndian.Uint32(v[32:36]), true
}

func (s *LevelStore) Close() error {
	s.headerCache.Reset()
	return s.db.Close()
}

// BeginTransaction opens a goleveldb snapshot, which pins a consistent view
// of the database for concurrent verifier-worker reads (§5).
func (s *LevelStore) BeginTransaction() (Snapshot, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "leveldb snapshot")
	}
	return &levelSnapshot{snap: snap}, nil
}

type levelSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *levelSnapshot) Read(col Column, key []byte) ([]byte, error) {
	v, err := s.snap.Get(namespacedKey(col, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "col=%s key=%x", col, key)
		}
		return nil, errors.Wrap(err, "leveldb snapshot read")
	}
	return v, nil
}

func (s *levelSnapshot) IterColumn(col Column, fn func(key, value []byte) bool) error {
	prefix := append([]byte(col), ':')
	it := s.snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()[len(prefix):]
		if !fn(append([]byte(nil), key...), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return errors.Wrap(it.Error(), "leveldb snapshot iterate")
}

func (s *levelSnapshot) Release() { s.snap.Release() }
