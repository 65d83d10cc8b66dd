package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileCacheEntry is the on-disk form of one cache entry.
type fileCacheEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e *fileCacheEntry) isExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// FileCache is a RawCache that keeps each entry as one small JSON file, so
// values like the consent marker survive process restarts. It is meant for a
// handful of long-lived keys, not hot-path data.
type FileCache struct {
	dir string
	mu  sync.Mutex
}

// NewFileCache creates a file-backed cache rooted at dir.
func NewFileCache(dir string) (RawCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

const fileCacheSuffix = ".entry.json"

func (c *FileCache) path(key string) string {
	// Escaping keeps arbitrary keys filename-safe.
	return filepath.Join(c.dir, url.QueryEscape(key)+fileCacheSuffix)
}

// read loads and validates one entry. An expired entry is removed and
// reported as a miss. Callers hold c.mu.
func (c *FileCache) read(key string) (*fileCacheEntry, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry fileCacheEntry
	if err = json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry reads as a miss; the next Set replaces it.
		_ = os.Remove(c.path(key))
		return nil, nil
	}

	if entry.isExpired() {
		_ = os.Remove(c.path(key))
		return nil, nil
	}

	return &entry, nil
}

// write stores one entry atomically, temp file then rename. Callers hold c.mu.
func (c *FileCache) write(key string, entry *fileCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "entry.*")
	if err != nil {
		return err
	}

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), c.path(key))
}

func (c *FileCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.read(key)
	if err != nil || entry == nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

func (c *FileCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &fileCacheEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	return c.write(key, entry)
}

func (c *FileCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *FileCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.read(key)
	return entry != nil, err
}

func (c *FileCache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	for _, dirEntry := range entries {
		if strings.HasSuffix(dirEntry.Name(), fileCacheSuffix) {
			if removeErr := os.Remove(filepath.Join(c.dir, dirEntry.Name())); removeErr != nil {
				err = removeErr
			}
		}
	}
	return err
}

func (c *FileCache) Close() error {
	return nil
}

// Increment atomically adjusts a counter, preserving any expiration already
// set on the entry. The value encoding matches InMemoryCache so backends are
// interchangeable.
func (c *FileCache) Increment(_ context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.read(key)
	if err != nil {
		return 0, err
	}

	var current int64
	newEntry := &fileCacheEntry{}
	if entry != nil {
		if len(entry.Value) >= int64Size {
			current = int64(binary.BigEndian.Uint64(entry.Value)) //nolint:gosec // counter values fit
		}
		newEntry.ExpiresAt = entry.ExpiresAt
	}

	newVal := current + delta
	newEntry.Value = make([]byte, int64Size)
	binary.BigEndian.PutUint64(newEntry.Value, uint64(newVal)) //nolint:gosec // counter values fit

	if err = c.write(key, newEntry); err != nil {
		return 0, err
	}
	return newVal, nil
}
