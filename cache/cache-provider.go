package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// ErrStoreNotFound is returned when operating on a store that does not exist.
var ErrStoreNotFound = errors.New("store not found")

// CacheProvider is an interface for a cache provider.
// It holds any number of independently named stores, each of which maps
// request identities to []byte values representing HTTP responses.
// Stores are created implicitly the first time they are opened.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Open returns the named store, creating it if it does not exist.
	Open(name string) (Store, error)
	// Stores returns the names of all existing stores.
	Stores() ([]string, error)
	// Delete removes the named store together with all of its entries.
	// It returns ErrStoreNotFound if no such store exists.
	Delete(name string) error
	// Close releases the underlying resources.
	Close() error
}

// Store is a single named key-value mapping inside a CacheProvider.
type Store interface {
	// Name returns the name the store was opened with.
	Name() string
	// Get returns the stored bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(key string) ([]byte, bool, error)
	// Put stores the given bytes under the given key, replacing any previous value.
	// A value is either written completely or not at all.
	// Writing to a store that has been deleted returns ErrStoreNotFound.
	Put(key string, bytes []byte) error
	// Purge removes the entry for the given key.
	Purge(key string) error
	// Keys calls the given callback for each key in the store.
	Keys(cb func(string)) error
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("open sqlite %s: %w", filename, err)
	}
	// serialize access so in-memory databases stay on a single connection
	db.SetMaxOpenConns(1)
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Open(name string) (Store, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	return sqliteStore{cache: s, name: name}, nil
}

func (s SQLiteCache) Stores() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Delete(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	res, err := tx.Exec("DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		tx.Rollback()
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		tx.Rollback()
		return ErrStoreNotFound
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

type sqliteStore struct {
	cache SQLiteCache
	name  string
}

func (s sqliteStore) Name() string {
	return s.name
}

func (s sqliteStore) Get(key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.cache.db.QueryRow("SELECT bytes FROM entries WHERE store = ? AND key = ?", s.name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s sqliteStore) Put(key string, bytes []byte) error {
	s.cache.writeMutex.Lock()
	defer s.cache.writeMutex.Unlock()
	res, err := s.cache.db.Exec(
		`INSERT OR REPLACE INTO entries (store, key, stored_at, bytes)
		SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)`,
		s.name, key, time.Now().Unix(), bytes, s.name,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrStoreNotFound
	}
	return nil
}

func (s sqliteStore) Purge(key string) error {
	s.cache.writeMutex.Lock()
	defer s.cache.writeMutex.Unlock()
	_, err := s.cache.db.Exec("DELETE FROM entries WHERE store = ? AND key = ?", s.name, key)
	return err
}

func (s sqliteStore) Keys(cb func(string)) error {
	rows, err := s.cache.db.Query("SELECT key FROM entries WHERE store = ? ORDER BY key", s.name)
	if err != nil {
		return err
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, key)
	}
	rows.Close()
	// callbacks run after the rows are released so they may use the store
	for _, key := range keys {
		cb(key)
	}
	return rows.Err()
}
