package image_list

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/image_renderer"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// MetadataFetchError reports a failed remote listing. The store keeps the
// metadata it had before the call.
type MetadataFetchError struct {
	Err error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("metadata fetch failed: %v", e.Err)
}

func (e *MetadataFetchError) Unwrap() error {
	return e.Err
}

type ImageMetadata struct {
	ID            string     `json:"id"`
	FilePath      string     `json:"file_path,omitempty"`
	SourceURL     string     `json:"url,omitempty"`
	Title         string     `json:"title"`
	RequestedSize cache.Size `json:"requested_size"`
}

// Listing is one entry of a remote collection, in collection order
type Listing struct {
	ID        string `json:"id"`
	SourceURL string `json:"url"`
	Title     string `json:"title"`
}

// Lister returns the remote collection
type Lister interface {
	List(ctx context.Context) ([]Listing, error)
}

// Store holds per-index image metadata
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	images []ImageMetadata
	index  map[string]int
}

func New(logger *zap.Logger) *Store {
	return &Store{
		logger: logger.Named("image_list"),
		images: []ImageMetadata{},
		index:  map[string]int{},
	}
}

// ListImageFiles returns the image files directly inside dir, sorted by name.
// Subdirectories are not descended into.
func ListImageFiles(dir string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("Error getting file info", zap.String("path", filepath.Join(dir, entry.Name())), zap.Error(err))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		if !image_renderer.IsImageFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}

	sort.Strings(names)
	return names, nil
}

// TitleFromFilename strips the directory and extension
func TitleFromFilename(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadFromDirectory replaces the metadata with one entry per image file in dir.
// Indices follow lexicographic file name order.
func (s *Store) LoadFromDirectory(dir string) error {
	names, err := ListImageFiles(dir, s.logger)
	if err != nil {
		return err
	}

	images := make([]ImageMetadata, 0, len(names))
	for _, name := range names {
		images = append(images, ImageMetadata{
			ID:       name,
			FilePath: filepath.Join(dir, name),
			Title:    TitleFromFilename(name),
		})
	}

	n := s.replace(images)
	s.logger.Info("Loaded images from directory", zap.String("dir", dir), zap.Int("count", n))
	return nil
}

// FetchMetadata replaces the metadata with the remote listing. On failure
// the current metadata is kept.
func (s *Store) FetchMetadata(ctx context.Context, lister Lister) (int, error) {
	listings, err := lister.List(ctx)
	if err != nil {
		s.logger.Warn("Metadata fetch failed", zap.Error(err))
		return s.Count(), &MetadataFetchError{Err: err}
	}

	images := make([]ImageMetadata, 0, len(listings))
	for _, l := range listings {
		id := l.ID
		if id == "" {
			id = l.SourceURL
		}
		title := l.Title
		if title == "" {
			title = TitleFromFilename(l.SourceURL)
		}
		images = append(images, ImageMetadata{
			ID:        id,
			SourceURL: l.SourceURL,
			Title:     title,
		})
	}

	n := s.replace(images)
	s.logger.Info("Fetched metadata", zap.Int("count", n))
	return n, nil
}

// replace installs images, dropping every entry whose id was already seen,
// and returns the resulting count
func (s *Store) replace(images []ImageMetadata) int {
	kept := images[:0]
	index := make(map[string]int, len(images))
	for _, img := range images {
		if _, dup := index[img.ID]; dup {
			s.logger.Warn("Duplicate image id, keeping first", zap.String("id", img.ID))
			continue
		}
		index[img.ID] = len(kept)
		kept = append(kept, img)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = kept
	s.index = index
	return len(kept)
}

func (s *Store) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = []ImageMetadata{}
	s.index = map[string]int{}
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

func (s *Store) Get(i int) (ImageMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.images) {
		return ImageMetadata{}, fmt.Errorf("image %d of %d: %w", i, len(s.images), ErrIndexOutOfRange)
	}
	return s.images[i], nil
}

func (s *Store) All() []ImageMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ImageMetadata(nil), s.images...)
}

// IndexOf returns the index of the image with the given id, or -1
func (s *Store) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return i
	}
	return -1
}

// RecordFetch stores the outcome of a completed image download. It is a no-op
// when index i no longer refers to id, e.g. after RemoveAll.
func (s *Store) RecordFetch(i int, id string, size cache.Size, source, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.images) || s.images[i].ID != id {
		return
	}

	img := &s.images[i]
	img.RequestedSize = size
	if source != "" {
		img.SourceURL = source
	}
	if path != "" && img.FilePath == "" {
		img.FilePath = path
	}
}
