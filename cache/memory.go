package cache

import (
	"sort"
	"sync"
)

type MemCache struct {
	mutex  *sync.RWMutex
	stores map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]map[string][]byte),
	}
}

func (m MemCache) Open(name string) (Store, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		m.stores[name] = make(map[string][]byte)
	}
	return memStore{cache: m, name: name}, nil
}

func (m MemCache) Stores() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) Delete(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		return ErrStoreNotFound
	}
	delete(m.stores, name)
	return nil
}

func (m MemCache) Close() error {
	return nil
}

type memStore struct {
	cache MemCache
	name  string
}

func (s memStore) Name() string {
	return s.name
}

func (s memStore) Get(key string) ([]byte, bool, error) {
	s.cache.mutex.RLock()
	defer s.cache.mutex.RUnlock()
	// a store deleted while a handle is held behaves as empty
	entry, ok := s.cache.stores[s.name][key]
	return entry, ok, nil
}

func (s memStore) Put(key string, bytes []byte) error {
	s.cache.mutex.Lock()
	defer s.cache.mutex.Unlock()
	entries, ok := s.cache.stores[s.name]
	if !ok {
		return ErrStoreNotFound
	}
	// copy so callers can reuse their buffer
	entries[key] = append([]byte(nil), bytes...)
	return nil
}

func (s memStore) Purge(key string) error {
	s.cache.mutex.Lock()
	defer s.cache.mutex.Unlock()
	delete(s.cache.stores[s.name], key)
	return nil
}

func (s memStore) Keys(cb func(string)) error {
	s.cache.mutex.RLock()
	keys := make([]string, 0, len(s.cache.stores[s.name]))
	for key := range s.cache.stores[s.name] {
		keys = append(keys, key)
	}
	s.cache.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
