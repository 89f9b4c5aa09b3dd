package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCache(t *testing.T) {
	// Create a temporary directory for test cache
	tempDir, err := os.MkdirTemp("", "cache_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	// Override home directory for testing
	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)

	sourceName := "py-impl"

	t.Run("NewCache", func(t *testing.T) {
		cache, err := loadSourceCache(sourceName)
		if err != nil {
			t.Fatal(err)
		}
		if cache == nil {
			t.Fatal("cache should not be nil")
		}
		if len(cache.Entries) != 0 {
			t.Fatal("new cache should have no entries")
		}
	})

	t.Run("SetAndGet", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}

		cache.set("SRUDB/SruDbIdMapTable", "1024:99", 42, "abc123", "")

		entry, found := cache.get("SRUDB/SruDbIdMapTable", "1024:99")
		if !found {
			t.Fatal("entry should be found")
		}
		if entry.Rows != 42 {
			t.Fatalf("expected 42 rows, got %d", entry.Rows)
		}
		if entry.Digest != "abc123" {
			t.Fatalf("expected digest abc123, got %s", entry.Digest)
		}
	})

	t.Run("FingerprintMismatchMisses", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}

		cache.set("SRUDB/SruDbIdMapTable", "1024:99", 42, "abc123", "")

		if _, found := cache.get("SRUDB/SruDbIdMapTable", "2048:100"); found {
			t.Fatal("entry with a different fingerprint should not be served")
		}

		// The entry itself survives: the export may be restored unchanged.
		if _, found := cache.get("SRUDB/SruDbIdMapTable", "1024:99"); !found {
			t.Fatal("original fingerprint should still hit")
		}
	})

	t.Run("EmptyFingerprintNeverCached", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}

		cache.set("SRUDB/SruDbIdMapTable", "", 42, "abc123", "")

		if len(cache.Entries) != 0 {
			t.Fatal("unfingerprinted tables should not be stored")
		}
		if _, found := cache.get("SRUDB/SruDbIdMapTable", ""); found {
			t.Fatal("empty fingerprint should never hit")
		}
	})

	t.Run("LoadErrorIsRemembered", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}

		cache.set("SRUDB/Broken", "512:7", 0, "", "line 3: unexpected EOF")

		entry, found := cache.get("SRUDB/Broken", "512:7")
		if !found {
			t.Fatal("failed load should still be cached")
		}
		if entry.LoadError != "line 3: unexpected EOF" {
			t.Fatalf("unexpected load error: %s", entry.LoadError)
		}
	})

	t.Run("ExpiredEntryEvicted", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}

		cache.Entries["SRUDB/Old"] = LoadCacheEntry{
			Fingerprint: "1:1",
			Rows:        10,
			Timestamp:   time.Now().Add(-31 * 24 * time.Hour),
		}

		if _, found := cache.get("SRUDB/Old", "1:1"); found {
			t.Fatal("expired entry should not be served")
		}
		if _, exists := cache.Entries["SRUDB/Old"]; exists {
			t.Fatal("expired entry should be evicted on read")
		}
	})

	t.Run("CleanExpired", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}

		cache.Entries["SRUDB/Old"] = LoadCacheEntry{
			Fingerprint: "1:1",
			Rows:        10,
			Timestamp:   time.Now().Add(-31 * 24 * time.Hour),
		}
		cache.Entries["SRUDB/Fresh"] = LoadCacheEntry{
			Fingerprint: "2:2",
			Rows:        20,
			Timestamp:   time.Now(),
		}

		cache.cleanExpired()

		if _, exists := cache.Entries["SRUDB/Old"]; exists {
			t.Fatal("expired entry should be removed")
		}
		if _, exists := cache.Entries["SRUDB/Fresh"]; !exists {
			t.Fatal("fresh entry should be preserved")
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		cache := &LoadCache{
			Entries: make(map[string]LoadCacheEntry),
		}
		cache.set("SRUDB/SruDbIdMapTable", "1024:99", 42, "abc123", "")

		if err := cache.save(sourceName); err != nil {
			t.Fatal(err)
		}

		loaded, err := loadSourceCache(sourceName)
		if err != nil {
			t.Fatal(err)
		}

		entry, found := loaded.get("SRUDB/SruDbIdMapTable", "1024:99")
		if !found {
			t.Fatal("saved entry should survive a reload")
		}
		if entry.Rows != 42 || entry.Digest != "abc123" {
			t.Fatalf("reloaded entry mismatch: %+v", entry)
		}
	})

	t.Run("CorruptCacheStartsEmpty", func(t *testing.T) {
		path := getCachePath("corrupt-source")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}

		cache, err := loadSourceCache("corrupt-source")
		if err != nil {
			t.Fatal(err)
		}
		if len(cache.Entries) != 0 {
			t.Fatal("corrupt cache should be replaced with an empty one")
		}
	})
}

func TestCachePathGeneration(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "cache_path_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)

	sourceName := "rust-impl"
	expectedPath := filepath.Join(tempDir, ".ese-verify", "cache", "rust-impl_tables.json")

	actualPath := getCachePath(sourceName)
	if actualPath != expectedPath {
		t.Fatalf("expected path %s, got %s", expectedPath, actualPath)
	}

	// Check directory was created
	dir := filepath.Dir(actualPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatal("cache directory should be created")
	}
}
