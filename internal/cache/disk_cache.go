package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskCache implements GenericCache interface for disk-based caching.
// Entries never expire: a whole DiskCache is dropped when its generation is purged.
type DiskCache struct {
	cacheDir string
}

// NewGenericDisk creates a new disk cache rooted at cacheDir
func NewGenericDisk(cacheDir string) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
	}
}

// Dir returns the root directory of the cache
func (d *DiskCache) Dir() string {
	return d.cacheDir
}

func (d *DiskCache) path(key string) string {
	return filepath.Join(d.cacheDir, filepath.FromSlash(key))
}

// Get retrieves a cached value if it exists
func (d *DiskCache) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return data, nil
}

// Set stores a value in the cache.
// The file is written next to its destination and renamed into place, so readers
// see either the previous entry or the new one.
func (d *DiskCache) Set(key string, data []byte) error {
	if key == "" {
		return nil
	}

	cachePath := d.path(key)

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached response: %s", cachePath)
	return nil
}

// Siblings lists the keys stored in the same directory as key, sorted
func (d *DiskCache) Siblings(key string) ([]string, error) {
	dirKey := filepath.ToSlash(filepath.Dir(filepath.FromSlash(key)))
	entries, err := os.ReadDir(filepath.Join(d.cacheDir, filepath.FromSlash(dirKey)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		if dirKey == "." {
			keys = append(keys, entry.Name())
		} else {
			keys = append(keys, dirKey+"/"+entry.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Init ensures the cache directory exists
func (d *DiskCache) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}
