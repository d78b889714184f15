package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	leveldbStorePrefix = "s\x00"
	leveldbEntryPrefix = "e\x00"
	leveldbSeparator   = "\x00"
)

// LevelDBCache keeps all named stores in one LevelDB database.
// Store names live under "s\x00<name>", entries under "e\x00<store>\x00<key>".
type LevelDBCache struct {
	db *leveldb.DB
	// guards store creation and deletion against concurrent Put on the same store
	storeMutex *sync.RWMutex
}

func NewLevelDBCache(path string) (LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return LevelDBCache{}, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return LevelDBCache{db: db, storeMutex: &sync.RWMutex{}}, nil
}

func (l LevelDBCache) Open(name string) (Store, error) {
	l.storeMutex.Lock()
	defer l.storeMutex.Unlock()
	if err := l.db.Put([]byte(leveldbStorePrefix+name), nil, nil); err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return leveldbStore{cache: l, name: name}, nil
}

func (l LevelDBCache) Stores() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(leveldbStorePrefix)), nil)
	defer it.Release()
	names := make([]string, 0)
	for it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Key()), leveldbStorePrefix))
	}
	return names, it.Error()
}

func (l LevelDBCache) Delete(name string) error {
	l.storeMutex.Lock()
	defer l.storeMutex.Unlock()
	ok, err := l.db.Has([]byte(leveldbStorePrefix+name), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStoreNotFound
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(leveldbStorePrefix + name))
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return l.db.Write(batch, nil)
}

func (l LevelDBCache) Close() error {
	return l.db.Close()
}

func entryPrefix(store string) []byte {
	return []byte(leveldbEntryPrefix + store + leveldbSeparator)
}

type leveldbStore struct {
	cache LevelDBCache
	name  string
}

func (s leveldbStore) Name() string {
	return s.name
}

func (s leveldbStore) key(key string) []byte {
	return append(entryPrefix(s.name), key...)
}

func (s leveldbStore) Get(key string) ([]byte, bool, error) {
	bytes, err := s.cache.db.Get(s.key(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s leveldbStore) Put(key string, bytes []byte) error {
	s.cache.storeMutex.RLock()
	defer s.cache.storeMutex.RUnlock()
	ok, err := s.cache.db.Has([]byte(leveldbStorePrefix+s.name), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStoreNotFound
	}
	return s.cache.db.Put(s.key(key), bytes, nil)
}

func (s leveldbStore) Purge(key string) error {
	return s.cache.db.Delete(s.key(key), nil)
}

func (s leveldbStore) Keys(cb func(string)) error {
	prefix := entryPrefix(s.name)
	it := s.cache.db.NewIterator(util.BytesPrefix(prefix), nil)
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(it.Key()[len(prefix):]))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}
