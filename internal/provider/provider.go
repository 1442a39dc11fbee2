// Package provider is the facade display code talks to: image count and
// metadata, asynchronous image fetches through the cache tiers, and cache
// control.
package provider

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"picdeck/internal/cache"
	"picdeck/internal/fetch"
	"picdeck/internal/image_list"
	"picdeck/internal/image_renderer"
	"picdeck/internal/metrics"
)

var ErrNoListing = errors.New("source cannot list images and no directory is configured")

type Options struct {
	// Source is the origin images are fetched from. When it also implements
	// image_list.Lister, FetchData loads metadata from it.
	Source fetch.Origin
	// Directory is scanned by FetchData for sources that cannot list
	Directory string

	// MemoryBudgetMB of 0 disables proactive eviction
	MemoryBudgetMB float64
	// Disk defaults to a disabled tier
	Disk cache.DiskCache

	Workers    int
	Timeout    time.Duration
	Dispatcher fetch.Dispatcher
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type Provider struct {
	store     *image_list.Store
	memory    *cache.MemoryCache
	disk      cache.DiskCache
	source    fetch.Origin
	coord     *fetch.Coordinator
	dispatch  fetch.Dispatcher
	ownQueue  *fetch.SerialQueue
	directory string
	logger    *zap.Logger
	metrics   *metrics.Metrics

	closed atomic.Bool
	wg     sync.WaitGroup
}

func New(opts Options) (*Provider, error) {
	if opts.Source == nil {
		return nil, errors.New("source is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Provider{
		store:     image_list.New(logger),
		memory:    cache.NewMemoryCacheMB(opts.MemoryBudgetMB),
		disk:      opts.Disk,
		source:    opts.Source,
		dispatch:  opts.Dispatcher,
		directory: opts.Directory,
		logger:    logger.Named("provider"),
		metrics:   opts.Metrics,
	}

	if p.disk == nil {
		p.disk = cache.NewNoopCache()
	}
	if p.dispatch == nil {
		p.ownQueue = fetch.NewSerialQueue()
		p.dispatch = p.ownQueue
	}

	p.memory.OnEvict(func(key cache.Key, cost int64) {
		p.metrics.Evict()
	})

	coord, err := fetch.New(fetch.Options{
		Memory:     p.memory,
		Disk:       p.disk,
		Origin:     p.source,
		Decode:     image_renderer.Decode,
		Dispatcher: p.dispatch,
		Workers:    opts.Workers,
		Timeout:    opts.Timeout,
		Logger:     logger,
		Metrics:    p.metrics,
	})
	if err != nil {
		if p.ownQueue != nil {
			p.ownQueue.Close()
		}
		return nil, fmt.Errorf("failed to create fetch coordinator: %w", err)
	}
	p.coord = coord

	return p, nil
}

func (p *Provider) Count() int {
	return p.store.Count()
}

func (p *Provider) Metadata(i int) (image_list.ImageMetadata, error) {
	return p.store.Get(i)
}

// All returns a snapshot of the metadata in index order
func (p *Provider) All() []image_list.ImageMetadata {
	return p.store.All()
}

// IndexOf returns the index of the image with the given id, or -1
func (p *Provider) IndexOf(id string) int {
	return p.store.IndexOf(id)
}

// LoadImagesFromDirectory synchronously replaces the metadata with the image
// files of dir.
func (p *Provider) LoadImagesFromDirectory(dir string) error {
	if err := p.store.LoadFromDirectory(dir); err != nil {
		p.metrics.Metadata("error")
		return err
	}
	p.metrics.Metadata("ok")
	return nil
}

// FetchDataContext loads metadata from the source and returns the image count.
// On failure the previous metadata is kept.
func (p *Provider) FetchDataContext(ctx context.Context) (int, error) {
	if lister, ok := p.source.(image_list.Lister); ok {
		n, err := p.store.FetchMetadata(ctx, lister)
		if err != nil {
			p.metrics.Metadata("error")
			return n, err
		}
		p.metrics.Metadata("ok")
		return n, nil
	}

	if p.directory == "" {
		return p.store.Count(), ErrNoListing
	}
	if err := p.LoadImagesFromDirectory(p.directory); err != nil {
		return p.store.Count(), err
	}
	return p.store.Count(), nil
}

// FetchData loads metadata in the background and reports the outcome to cb
// on the delivery queue.
func (p *Provider) FetchData(cb func(count int, err error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		n, err := p.FetchDataContext(context.Background())
		p.dispatch.Dispatch(func() { cb(n, err) })
	}()
}

// FetchImage fetches image i at size and reports the outcome to cb on the
// delivery queue. An empty source falls back to the image's URL, then its
// file path.
func (p *Provider) FetchImage(i int, size cache.Size, source string, cb fetch.Callback) {
	meta, err := p.store.Get(i)
	if err != nil {
		p.dispatch.Dispatch(func() { cb(fetch.Result{Err: err}) })
		return
	}

	if source == "" {
		source = meta.SourceURL
	}
	if source == "" {
		source = meta.FilePath
	}

	req := fetch.Request{ID: meta.ID, Size: size, Source: source}
	p.coord.Fetch(req, func(res fetch.Result) {
		if res.Err == nil {
			recorded := source
			if source == meta.FilePath {
				recorded = ""
			}
			p.store.RecordFetch(i, meta.ID, size, recorded, p.disk.Path(cache.Key{ID: meta.ID, Size: size}))
		}
		cb(res)
	})
}

// Image is the blocking form of FetchImage. It must not be called from a
// callback running on the delivery queue.
func (p *Provider) Image(ctx context.Context, i int, size cache.Size, source string) (image.Image, error) {
	done := make(chan fetch.Result, 1)
	p.FetchImage(i, size, source, func(res fetch.Result) {
		done <- res
	})

	select {
	case res := <-done:
		return res.Image, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsCached reports, without blocking on I/O beyond a stat, whether image i is
// available from memory or disk at the size it was last fetched at.
func (p *Provider) IsCached(i int) bool {
	meta, err := p.store.Get(i)
	if err != nil {
		return false
	}
	return p.coord.IsCachedFast(cache.Key{ID: meta.ID, Size: meta.RequestedSize})
}

// CachedImage returns the memory tier's image for index i at its last
// requested size. It performs no I/O and reports false until a fetch for the
// index has completed.
func (p *Provider) CachedImage(i int) (image.Image, bool) {
	meta, err := p.store.Get(i)
	if err != nil {
		return nil, false
	}
	return p.memory.Get(cache.Key{ID: meta.ID, Size: meta.RequestedSize})
}

// EncodedImage returns the bytes the disk tier holds for exactly this size
func (p *Provider) EncodedImage(i int, size cache.Size) ([]byte, bool) {
	meta, err := p.store.Get(i)
	if err != nil {
		return nil, false
	}
	key := cache.Key{ID: meta.ID, Size: size}
	if !p.disk.Has(key) {
		return nil, false
	}
	data, err := p.disk.Read(key)
	if err != nil {
		p.logger.Debug("Disk read failed", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	return data, true
}

// ClearCache empties both tiers. Fetches already in flight are not cancelled
// and repopulate the tiers when they complete.
func (p *Provider) ClearCache() error {
	p.memory.Clear()
	p.metrics.SetMemoryBytes(0)
	if err := p.disk.Clear(); err != nil {
		p.logger.Error("Failed to clear disk cache", zap.Error(err))
		return fmt.Errorf("failed to clear disk cache: %w", err)
	}
	p.logger.Info("Cache cleared")
	return nil
}

func (p *Provider) ClearMemoryCache() {
	p.memory.Clear()
	p.metrics.SetMemoryBytes(0)
	p.logger.Info("Memory cache cleared")
}

// ClearImage drops every cached size of image i from both tiers
func (p *Provider) ClearImage(i int) error {
	meta, err := p.store.Get(i)
	if err != nil {
		return err
	}

	p.memory.Remove(meta.ID)
	p.metrics.SetMemoryBytes(p.memory.Bytes())
	if err := p.disk.Remove(meta.ID); err != nil {
		return fmt.Errorf("failed to remove %s from disk cache: %w", meta.ID, err)
	}
	return nil
}

// RemoveAllImages drops all metadata and empties both tiers
func (p *Provider) RemoveAllImages() error {
	p.store.RemoveAll()
	return p.ClearCache()
}

func (p *Provider) HandleMemoryPressure() {
	freed := p.memory.Bytes()
	p.memory.HandleMemoryPressure()
	p.metrics.SetMemoryBytes(0)
	p.logger.Info("Memory pressure, memory cache emptied", zap.Int64("freed_bytes", freed))
}

// SetMemoryBudgetMB changes the memory tier budget, evicting as needed
func (p *Provider) SetMemoryBudgetMB(megabytes float64) {
	p.memory.SetByteBudget(cache.BytesFromMegabytes(megabytes))
	p.metrics.SetMemoryBytes(p.memory.Bytes())
}

// MemoryBytes returns the estimated bytes held by the memory tier
func (p *Provider) MemoryBytes() int64 {
	return p.memory.Bytes()
}

// Prefetch fetches every image at size with at most workers fetches queued at
// once and returns how many succeeded. Individual failures are logged.
func (p *Provider) Prefetch(ctx context.Context, size cache.Size, workers int) (int, error) {
	count := p.store.Count()
	if count == 0 {
		return 0, nil
	}

	if workers <= 0 {
		workers = 1
	}

	p.logger.Info("Starting warmup", zap.Int("images", count), zap.String("size", size.String()), zap.Int("workers", workers))
	start := time.Now()

	var ok atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := p.Image(ctx, i, size, ""); err != nil {
				p.logger.Debug("Warmup image failed", zap.Int("index", i), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("Warmup completed",
		zap.Int64("fetched", ok.Load()),
		zap.Int("images", count),
		zap.Duration("duration", time.Since(start)),
	)
	return int(ok.Load()), ctx.Err()
}

// Close waits for background metadata loads and running fetches to deliver
// their results. The provider must not be used afterwards.
func (p *Provider) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.wg.Wait()
	p.coord.Close()
	if p.ownQueue != nil {
		p.ownQueue.Close()
	}
}
