package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog/log"
)

const sqliteStoreKind = "sqlite"

// SQLiteStore is the persistent ObjectStore. It keeps the same
// recency model as MemoryStore in an idle column: lookups age the
// whole table and zero the matched row, eviction deletes the most
// idle row large enough to free the needed bytes.
//
// sqlite serializes writers internally; on top of that a mutex keeps
// the aging tick and the eviction loop atomic per call, so lookups on
// this provider are coarser-grained than on the in-memory store.
var _ ObjectStore = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db         *sql.DB
	writeMutex sync.Mutex
	closed     bool

	maxCache  int64
	maxObject int64
}

// NewSQLiteStore opens (and if needed bootstraps) the database at
// filename. Use "file::memory:?cache=shared" for an in-memory database.
func NewSQLiteStore(filename string, maxCacheSize, maxObjectSize int64) (*SQLiteStore, error) {
	if maxCacheSize <= 0 {
		maxCacheSize = DefaultMaxCacheSize
	}
	if maxObjectSize <= 0 {
		maxObjectSize = DefaultMaxObjectSize
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	bootstrap := []string{
		"CREATE TABLE IF NOT EXISTS objects (uri TEXT PRIMARY KEY, idle INTEGER NOT NULL DEFAULT 0, body BLOB NOT NULL)",
		"CREATE INDEX IF NOT EXISTS idle_idx ON objects (idle)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range bootstrap {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap cache db: %w", err)
		}
	}
	return &SQLiteStore{
		db:        db,
		maxCache:  maxCacheSize,
		maxObject: maxObjectSize,
	}, nil
}

func (s *SQLiteStore) Lookup(uri string) ([]byte, bool) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed {
		return nil, false
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Error().Err(err).Msg("Could not begin cache lookup")
		return nil, false
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE objects SET idle = idle + 1"); err != nil {
		log.Error().Err(err).Msg("Could not age cache entries")
		return nil, false
	}
	var body []byte
	err = tx.QueryRow("SELECT body FROM objects WHERE uri = ?", uri).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		// the aging tick applies on misses too
		if err := tx.Commit(); err != nil {
			log.Error().Err(err).Msg("Could not commit cache lookup")
		}
		cacheMisses.WithLabelValues(sqliteStoreKind).Inc()
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Could not read from cache")
		return nil, false
	}
	if _, err := tx.Exec("UPDATE objects SET idle = 0 WHERE uri = ?", uri); err != nil {
		log.Error().Err(err).Str("uri", uri).Msg("Could not reset idle counter")
		return nil, false
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Could not commit cache lookup")
		return nil, false
	}
	cacheHits.WithLabelValues(sqliteStoreKind).Inc()
	return body, true
}

func (s *SQLiteStore) Insert(uri string, payload []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed {
		return ErrClosed
	}

	n := int64(len(payload))
	if n > s.maxObject || n > s.maxCache {
		cacheRejects.WithLabelValues(sqliteStoreKind).Inc()
		log.Warn().Str("uri", uri).Int64("bytes", n).Msg("Object too large for cache")
		return ErrTooLarge
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache insert: %w", err)
	}
	defer tx.Rollback()

	// replace policy for duplicate keys
	if _, err := tx.Exec("DELETE FROM objects WHERE uri = ?", uri); err != nil {
		return fmt.Errorf("replace cache entry: %w", err)
	}
	var size int64
	if err := tx.QueryRow("SELECT COALESCE(SUM(LENGTH(body)), 0) FROM objects").Scan(&size); err != nil {
		return fmt.Errorf("read cache size: %w", err)
	}

	for size+n > s.maxCache {
		needed := size + n - s.maxCache
		var victim string
		var victimLen int64
		err := tx.QueryRow(
			"SELECT uri, LENGTH(body) FROM objects WHERE LENGTH(body) >= ? ORDER BY idle DESC LIMIT 1",
			needed,
		).Scan(&victim, &victimLen)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.QueryRow(
				"SELECT uri, LENGTH(body) FROM objects ORDER BY idle DESC LIMIT 1",
			).Scan(&victim, &victimLen)
		}
		if err != nil {
			return fmt.Errorf("select eviction victim: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM objects WHERE uri = ?", victim); err != nil {
			return fmt.Errorf("evict cache entry: %w", err)
		}
		size -= victimLen
		cacheEvictions.WithLabelValues(sqliteStoreKind).Inc()
	}

	if _, err := tx.Exec("INSERT INTO objects (uri, idle, body) VALUES (?, 0, ?)", uri, payload); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache insert: %w", err)
	}
	cacheSize.WithLabelValues(sqliteStoreKind).Set(float64(size + n))
	return nil
}

func (s *SQLiteStore) Size() int64 {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed {
		return 0
	}
	var size int64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(LENGTH(body)), 0) FROM objects").Scan(&size); err != nil {
		log.Error().Err(err).Msg("Could not read cache size")
		return 0
	}
	return size
}

func (s *SQLiteStore) Len() int {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed {
		return 0
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM objects").Scan(&count); err != nil {
		log.Error().Err(err).Msg("Could not count cache entries")
		return 0
	}
	return count
}

// Teardown drops all entries and closes the database.
func (s *SQLiteStore) Teardown() error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if _, err := s.db.Exec("DELETE FROM objects"); err != nil {
		s.db.Close()
		return fmt.Errorf("clear cache db: %w", err)
	}
	cacheSize.WithLabelValues(sqliteStoreKind).Set(0)
	return s.db.Close()
}
