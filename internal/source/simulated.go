package source

import (
	"context"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/image_list"
	"picdeck/internal/image_renderer"
)

const SimulatedScheme = "sim://"

// Simulated behaves like a remote server whose collection is the image files
// of a local folder. Every call waits a random delay in [MinDelay, MaxDelay]
// and failures can be injected per file name.
type Simulated struct {
	root     string
	renderer image_renderer.Renderer
	minDelay time.Duration
	maxDelay time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	failures    map[string]error
	listFailure error
}

func NewSimulated(root string, minDelay, maxDelay time.Duration, renderer image_renderer.Renderer, logger *zap.Logger) *Simulated {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Simulated{
		root:     root,
		renderer: renderer,
		minDelay: minDelay,
		maxDelay: maxDelay,
		logger:   logger.Named("source.simulated"),
		failures: map[string]error{},
	}
}

// InjectFailure makes every fetch of the named file fail with err until
// ClearFailure is called
func (s *Simulated) InjectFailure(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = err
}

func (s *Simulated) ClearFailure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, name)
}

// FailListing makes List fail with err; nil restores normal behavior
func (s *Simulated) FailListing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFailure = err
}

func (s *Simulated) List(ctx context.Context) ([]image_list.Listing, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	failure := s.listFailure
	s.mu.Unlock()
	if failure != nil {
		return nil, failure
	}

	names, err := image_list.ListImageFiles(s.root, s.logger)
	if err != nil {
		return nil, err
	}

	listings := make([]image_list.Listing, 0, len(names))
	for _, name := range names {
		listings = append(listings, image_list.Listing{
			ID:        name,
			SourceURL: SimulatedScheme + name,
			Title:     image_list.TitleFromFilename(name),
		})
	}
	return listings, nil
}

func (s *Simulated) Fetch(ctx context.Context, location string, size cache.Size) ([]byte, error) {
	name := strings.TrimPrefix(location, SimulatedScheme)
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("simulated source has no %q: %w", location, fs.ErrNotExist)
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	failure := s.failures[name]
	s.mu.Unlock()
	if failure != nil {
		s.logger.Debug("Injected failure", zap.String("name", name), zap.Error(failure))
		return nil, failure
	}

	return s.renderer.Render(filepath.Join(s.root, name), size)
}

func (s *Simulated) delay() time.Duration {
	spread := s.maxDelay - s.minDelay
	if spread <= 0 {
		return s.minDelay
	}
	return s.minDelay + rand.N(spread+1)
}

func (s *Simulated) wait(ctx context.Context) error {
	d := s.delay()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
