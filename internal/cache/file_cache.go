package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	fileSuffix = ".img"
	tmpSuffix  = ".tmp"
)

// FileCache implements a file-based cache of encoded image bytes.
// Structure: {cacheDir}/{sha256(id)[:16]}/{w}x{h}.img
type FileCache struct {
	mu       sync.RWMutex
	cacheDir string
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

func (c *FileCache) Dir() string {
	return c.cacheDir
}

func (c *FileCache) idDir(id string) string {
	hash := sha256.Sum256([]byte(id))
	return filepath.Join(c.cacheDir, hex.EncodeToString(hash[:])[:16])
}

// Path builds the file path for a key
func (c *FileCache) Path(key Key) string {
	w, h := key.Size.Pixels()
	return filepath.Join(c.idDir(key.ID), fmt.Sprintf("%dx%d%s", w, h, fileSuffix))
}

func (c *FileCache) Has(key Key) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && info.Mode().IsRegular()
}

// HasAny reports whether any size of the identifier is on disk
func (c *FileCache) HasAny(id string) bool {
	return len(c.listSizes(id)) > 0
}

func (c *FileCache) listSizes(id string) []string {
	entries, err := os.ReadDir(c.idDir(id))
	if err != nil {
		return nil
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(c.idDir(id), e.Name()))
	}
	return files
}

// Read returns the bytes stored for key, falling back to the closest other
// size of the same identifier.
func (c *FileCache) Read(key Key) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.Path(key)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, &DiskIOError{Op: "read", Path: path, Err: err}
	}

	path, ok := c.closestPath(key)
	if !ok {
		return nil, ErrNotCached
	}
	data, err = os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotCached
		}
		return nil, &DiskIOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

func (c *FileCache) closestPath(key Key) (string, bool) {
	var best string
	var bestSize Size
	for _, path := range c.listSizes(key.ID) {
		var w, h int
		name := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		if _, err := fmt.Sscanf(name, "%dx%d", &w, &h); err != nil {
			continue
		}
		size := Size{Width: w, Height: h, Scale: 1}
		if best == "" || closer(key.Size, size, bestSize) {
			best = path
			bestSize = size
		}
	}
	return best, best != ""
}

// Write publishes data atomically: readers see either the old file or the
// complete new one.
func (c *FileCache) Write(key Key, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.Path(key)
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &DiskIOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmpPath := filePath + "." + uuid.NewString() + tmpSuffix
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return &DiskIOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return &DiskIOError{Op: "rename", Path: filePath, Err: err}
	}
	return nil
}

// Remove deletes every size of the identifier
func (c *FileCache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := c.idDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return &DiskIOError{Op: "remove", Path: dir, Err: err}
	}
	return nil
}

// Clear removes the cache directory only; siblings of it are left alone.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		return &DiskIOError{Op: "clear", Path: c.cacheDir, Err: err}
	}

	if err := os.MkdirAll(c.cacheDir, 0755); err != nil {
		return &DiskIOError{Op: "mkdir", Path: c.cacheDir, Err: err}
	}
	return nil
}
