package cache

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MaskCache persists recovered QMCv2 legacy Key256Mask128 masks keyed by
// a content hash of the probed header bytes, so a brute-force mflac/mgg
// mask recovery only ever runs once per distinct file. Backed by
// modernc.org/sqlite so the recovered value survives across process runs,
// not just within one.
type MaskCache struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	globalMaskCache *MaskCache
	maskCacheOnce   sync.Once
	maskCacheErr    error
)

// GetGlobalMaskCache opens (creating if needed) the process-wide mask
// cache database at path on first call; later calls with any path return
// the already-opened instance.
func GetGlobalMaskCache(path string) (*MaskCache, error) {
	maskCacheOnce.Do(func() {
		globalMaskCache, maskCacheErr = NewMaskCache(path)
	})
	return globalMaskCache, maskCacheErr
}

// NewMaskCache opens a standalone mask cache database at path, creating
// its schema if it doesn't exist.
func NewMaskCache(path string) (*MaskCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open mask cache db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS legacy_masks (
	content_hash TEXT PRIMARY KEY,
	mask         BLOB NOT NULL,
	recovered_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init mask cache schema: %w", err)
	}
	return &MaskCache{db: db}, nil
}

// HashHeader derives the cache key from the first n bytes of a probed
// payload - cheap enough to recompute on every open, unique enough across
// distinct tracks that share no ciphertext prefix.
func HashHeader(header []byte) string {
	sum := sha1.Sum(header)
	return hex.EncodeToString(sum[:])
}

// Get returns a previously recovered mask for contentHash, if any.
func (c *MaskCache) Get(contentHash string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mask []byte
	err := c.db.QueryRow(`SELECT mask FROM legacy_masks WHERE content_hash = ?`, contentHash).Scan(&mask)
	if err != nil {
		return nil, false
	}
	return mask, true
}

// Put stores a recovered mask for contentHash, overwriting any prior
// entry.
func (c *MaskCache) Put(contentHash string, mask []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO legacy_masks (content_hash, mask, recovered_at) VALUES (?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET mask = excluded.mask, recovered_at = excluded.recovered_at`,
		contentHash, mask, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: store recovered mask: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *MaskCache) Close() error {
	return c.db.Close()
}
