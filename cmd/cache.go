package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoadCache remembers per-table load results for a single source so that
// runs over unchanged exports can skip re-reading and re-hashing them.
type LoadCache struct {
	Entries map[string]LoadCacheEntry `json:"entries"`
}

// LoadCacheEntry captures the outcome of one table load. The digest is the
// multiset digest of the normalized rows; two sources with equal digests
// held identical data the last time both were read.
type LoadCacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Rows        int       `json:"rows"`
	Digest      string    `json:"digest,omitempty"`
	LoadError   string    `json:"load_error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const cacheExpiry = 30 * 24 * time.Hour

func getCachePath(sourceName string) string {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".ese-verify", "cache")
	_ = os.MkdirAll(cacheDir, 0o755)
	return filepath.Join(cacheDir, fmt.Sprintf("%s_tables.json", sourceName))
}

func loadSourceCache(sourceName string) (*LoadCache, error) {
	cachePath := getCachePath(sourceName)

	data, err := os.ReadFile(cachePath)
	if os.IsNotExist(err) {
		return &LoadCache{Entries: make(map[string]LoadCacheEntry)}, nil
	}
	if err != nil {
		return nil, err
	}

	var cache LoadCache
	if err := json.Unmarshal(data, &cache); err != nil {
		// A corrupt cache file is discarded, not surfaced.
		return &LoadCache{Entries: make(map[string]LoadCacheEntry)}, nil
	}
	if cache.Entries == nil {
		cache.Entries = make(map[string]LoadCacheEntry)
	}
	return &cache, nil
}

func (c *LoadCache) save(sourceName string) error {
	cachePath := getCachePath(sourceName)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cachePath, data, 0o644)
}

// get returns the cached entry for a table if it is still valid: not expired
// and recorded against the same fingerprint the source reports now.
func (c *LoadCache) get(table string, fingerprint string) (LoadCacheEntry, bool) {
	if fingerprint == "" {
		return LoadCacheEntry{}, false
	}

	entry, exists := c.Entries[table]
	if !exists {
		return LoadCacheEntry{}, false
	}

	if time.Since(entry.Timestamp) > cacheExpiry {
		delete(c.Entries, table)
		return LoadCacheEntry{}, false
	}

	if entry.Fingerprint != fingerprint {
		return LoadCacheEntry{}, false
	}

	return entry, true
}

func (c *LoadCache) set(table, fingerprint string, rows int, digest, loadErr string) {
	// Tables without a fingerprint cannot be validated later, so caching
	// them would risk serving stale results.
	if fingerprint == "" {
		return
	}

	c.Entries[table] = LoadCacheEntry{
		Fingerprint: fingerprint,
		Rows:        rows,
		Digest:      digest,
		LoadError:   loadErr,
		Timestamp:   time.Now(),
	}
}

func (c *LoadCache) cleanExpired() {
	for table, entry := range c.Entries {
		if time.Since(entry.Timestamp) > cacheExpiry {
			delete(c.Entries, table)
		}
	}
}
