package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/inspection"
	"github.com/rs/zerolog/log"
)

const fileExt = ".json"

// Entry is the on-disk record for one inspected URL
type Entry struct {
	Key      string             `json:"key"`
	URL      string             `json:"url"`
	StoredAt time.Time          `json:"stored_at"`
	Result   *inspection.Result `json:"result"`
}

// DiskCache stores one JSON file per inspection URL, named by the MD5 of the URL.
// Entries never expire. Files from earlier runs are read on demand and kept in
// memory for the rest of the run.
type DiskCache struct {
	dir    string
	memory *InMemoryCache[inspection.Result]
	now    func() time.Time
}

// NewDiskCache returns a cache rooted at dir. The directory is created on first write.
func NewDiskCache(dir string) *DiskCache {
	return &DiskCache{
		dir:    dir,
		memory: NewInMemoryCache[inspection.Result](),
		now:    time.Now,
	}
}

// Key returns the content address for an inspection URL
func Key(inspectionURL string) string {
	sum := md5.Sum([]byte(inspectionURL))
	return hex.EncodeToString(sum[:])
}

// Dir returns the cache directory
func (c *DiskCache) Dir() string {
	return c.dir
}

// Path returns the file that holds the entry for an inspection URL
func (c *DiskCache) Path(inspectionURL string) string {
	return filepath.Join(c.dir, Key(inspectionURL)+fileExt)
}

// Get returns the cached result for an inspection URL.
// Missing, unreadable and corrupt files are all reported as a miss.
func (c *DiskCache) Get(inspectionURL string) (inspection.Result, bool) {
	key := Key(inspectionURL)
	if result, ok := c.memory.Get(key); ok {
		return result, true
	}

	data, err := os.ReadFile(filepath.Join(c.dir, key+fileExt))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("url", inspectionURL).Msg("Failed to read cache entry, treating as miss")
		}
		return inspection.Result{}, false
	}

	result, err := decodeEntry(data)
	if err != nil {
		log.Debug().Err(err).Str("url", inspectionURL).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		return inspection.Result{}, false
	}

	c.memory.Set(key, result)
	return result, true
}

// Put writes the result for an inspection URL, replacing any earlier entry.
// The file is written to a temporary name and renamed so readers never see a partial entry.
func (c *DiskCache) Put(inspectionURL string, result inspection.Result) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	key := Key(inspectionURL)
	data, err := json.Marshal(Entry{
		Key:      key,
		URL:      inspectionURL,
		StoredAt: c.now().UTC(),
		Result:   &result,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(c.dir, key+fileExt)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}

	c.memory.Set(key, result)
	return nil
}

// Len returns the number of entries seen during this run
func (c *DiskCache) Len() int {
	return c.memory.Len()
}

// decodeEntry accepts both the Entry envelope and the bare index status
// object written by earlier versions of the tool.
func decodeEntry(data []byte) (inspection.Result, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return inspection.Result{}, err
	}
	if entry.Result != nil {
		return *entry.Result, nil
	}

	var legacy inspection.Result
	if err := json.Unmarshal(data, &legacy); err != nil {
		return inspection.Result{}, err
	}
	if legacy.IsZero() {
		return inspection.Result{}, errors.New("cache entry has no index status fields")
	}
	return legacy, nil
}
