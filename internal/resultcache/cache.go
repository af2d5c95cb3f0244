// Package resultcache is a categorized result cache for the query gateway.
// Each category maps to its own bbolt bucket and TTL; entries are written
// unconditionally and expired lazily at read time. Nothing reaps stale
// entries proactively, so values also survive process restarts within
// their TTL window.
package resultcache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// cacheDirPerm is the permission mode for the cache directory.
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the cache database file.
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt database lock.
	cacheOpenTimeout = 5 * time.Second
)

// Fixed per-category TTLs. Short windows for frequently-changing
// aggregates, long windows for near-static reference lookups. Category
// choice is the caller's responsibility.
const (
	TTLIdentityLookup  = 6 * time.Hour
	TTLPeriodSummary   = 10 * time.Minute
	TTLFinancialMetric = 5 * time.Minute

	// DefaultTTL applies to categories with no explicit entry.
	DefaultTTL = 10 * time.Minute
)

// DefaultTTLs returns the standard category TTL table.
func DefaultTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"identity-lookup":  TTLIdentityLookup,
		"period-summary":   TTLPeriodSummary,
		"financial-metric": TTLFinancialMetric,
	}
}

// entry is the stored representation of a cached value.
type entry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt int64           `json:"storedAt"` // epoch milliseconds
}

// Cache wraps a bbolt database of category buckets.
type Cache struct {
	db   *bolt.DB
	ttls map[string]time.Duration
}

// Open opens (or creates) the result cache database at path. The ttls
// table is fixed for the lifetime of the cache; nil selects DefaultTTLs.
func Open(path string, ttls map[string]time.Duration) (*Cache, error) {
	if ttls == nil {
		ttls = DefaultTTLs()
	}

	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating result cache directory: %w", err)
	}

	db, err := bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening result cache db: %w", err)
	}

	return &Cache{db: db, ttls: ttls}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// TTL returns the read-time TTL for a category.
func (c *Cache) TTL(category string) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}

	return DefaultTTL
}

// Get returns the cached value for category:key, or nil when absent or
// older than the category TTL. A stale entry stays in storage; it is
// simply ignored.
func (c *Cache) Get(category, key string) (json.RawMessage, error) {
	var value json.RawMessage

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(category))
		if b == nil {
			return nil
		}

		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}

		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			// Unreadable entry, treat as a miss.
			return nil
		}

		if time.Since(time.UnixMilli(e.StoredAt)) >= c.TTL(category) {
			return nil
		}

		value = append(json.RawMessage(nil), e.Value...)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading result cache: %w", err)
	}

	return value, nil
}

// Set unconditionally stores or overwrites category:key.
func (c *Cache) Set(category, key string, value json.RawMessage) error {
	raw, err := json.Marshal(entry{
		Value:    value,
		StoredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshalling result cache entry: %w", err)
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}

		return b.Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("writing result cache: %w", err)
	}

	return nil
}

// Clear removes every entry in one category. Clearing an unknown
// category is not an error.
func (c *Cache) Clear(category string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(category)) == nil {
			return nil
		}

		return tx.DeleteBucket([]byte(category))
	})
	if err != nil {
		return fmt.Errorf("clearing result cache category: %w", err)
	}

	return nil
}

// ClearAll removes every category.
func (c *Cache) ClearAll() error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		var names [][]byte

		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}

		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing result cache: %w", err)
	}

	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.db.Path()
}
