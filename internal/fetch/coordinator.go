// Package fetch resolves image requests through the memory tier, the disk tier
// and finally the origin, with at most one origin fetch per key in flight.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"picdeck/internal/cache"
	"picdeck/internal/metrics"
)

const (
	DefaultWorkers = 4
	DefaultTimeout = 30 * time.Second
)

// Origin retrieves encoded image bytes from the authoritative source.
// location is a file path or URL understood by the implementation.
type Origin interface {
	Fetch(ctx context.Context, location string, size cache.Size) ([]byte, error)
}

type DecodeFunc func(data []byte) (image.Image, error)

type Request struct {
	ID     string
	Size   cache.Size
	Source string
}

func (r Request) key() cache.Key {
	return cache.Key{ID: r.ID, Size: r.Size}
}

type Result struct {
	Image image.Image
	Err   error
}

type Callback func(Result)

type Options struct {
	Memory *cache.MemoryCache
	// Disk defaults to a disabled tier
	Disk   cache.DiskCache
	Origin Origin
	Decode DecodeFunc
	// Dispatcher defaults to a SerialQueue owned by the coordinator
	Dispatcher Dispatcher
	Workers    int
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type inflight struct {
	token     string
	callbacks []Callback
	cancel    context.CancelFunc
}

type Coordinator struct {
	memory   *cache.MemoryCache
	disk     cache.DiskCache
	origin   Origin
	decode   DecodeFunc
	dispatch Dispatcher
	ownQueue *SerialQueue
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inflight map[cache.Key]*inflight
	wg       sync.WaitGroup
}

func New(opts Options) (*Coordinator, error) {
	if opts.Memory == nil {
		return nil, errors.New("memory cache is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.Decode == nil {
		return nil, errors.New("decoder is required")
	}

	c := &Coordinator{
		memory:   opts.Memory,
		disk:     opts.Disk,
		origin:   opts.Origin,
		decode:   opts.Decode,
		dispatch: opts.Dispatcher,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		inflight: make(map[cache.Key]*inflight),
	}

	if c.disk == nil {
		c.disk = cache.NewNoopCache()
	}
	if c.dispatch == nil {
		c.ownQueue = NewSerialQueue()
		c.dispatch = c.ownQueue
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("fetch")

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	c.sem = semaphore.NewWeighted(int64(workers))

	return c, nil
}

// Fetch resolves req and delivers the outcome to cb through the dispatcher.
// Requests for a key that is already being fetched join that fetch.
func (c *Coordinator) Fetch(req Request, cb Callback) {
	key := req.key()

	if img, ok := c.memory.Get(key); ok {
		c.metrics.Hit(metrics.TierMemory)
		c.dispatch.Dispatch(func() { cb(Result{Image: img}) })
		return
	}

	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		f.callbacks = append(f.callbacks, cb)
		c.mu.Unlock()
		c.metrics.Coalesce()
		c.logger.Debug("Joined in-flight fetch", zap.String("key", key.String()), zap.String("token", f.token))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	f := &inflight{token: uuid.NewString(), callbacks: []Callback{cb}, cancel: cancel}
	c.inflight[key] = f
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, req, f)
}

func (c *Coordinator) run(ctx context.Context, req Request, f *inflight) {
	defer c.wg.Done()
	defer f.cancel()

	key := req.key()
	res := c.resolve(ctx, req)

	c.mu.Lock()
	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
	callbacks := f.callbacks
	c.mu.Unlock()

	for _, cb := range callbacks {
		c.dispatch.Dispatch(func() { cb(res) })
	}
}

func (c *Coordinator) resolve(ctx context.Context, req Request) Result {
	key := req.key()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return c.fail(req, KindTimeout, fmt.Errorf("waiting for a fetch worker: %w", err))
	}
	defer c.sem.Release(1)

	// another request may have filled the tier while this one was queued
	if img, ok := c.memory.Get(key); ok {
		c.metrics.Hit(metrics.TierMemory)
		return Result{Image: img}
	}

	if img, ok := c.fromDisk(key); ok {
		return Result{Image: img}
	}
	c.metrics.Miss()

	start := time.Now()
	data, err := c.fetchOrigin(ctx, req)
	c.metrics.OriginFetch(time.Since(start).Seconds())
	if err != nil {
		kind := classify(err)
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		return c.fail(req, kind, err)
	}

	img, err := c.decode(data)
	if err != nil {
		return c.fail(req, KindDecode, err)
	}

	if err := c.disk.Write(key, data); err != nil {
		c.logger.Warn("Failed to write disk cache", zap.String("key", key.String()), zap.Error(err))
	}
	c.memory.Put(key, img, cache.EstimateCost(img))
	c.metrics.SetMemoryBytes(c.memory.Bytes())

	c.logger.Debug("Fetched from origin",
		zap.String("key", key.String()),
		zap.String("source", req.Source),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)
	return Result{Image: img}
}

// fromDisk treats every disk or decode failure as a miss
func (c *Coordinator) fromDisk(key cache.Key) (image.Image, bool) {
	data, err := c.disk.Read(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotCached) {
			c.logger.Warn("Disk cache read failed, fetching from origin", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}

	img, err := c.decode(data)
	if err != nil {
		c.logger.Warn("Disk cache entry unreadable, fetching from origin", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}

	c.metrics.Hit(metrics.TierDisk)
	c.memory.Put(key, img, cache.EstimateCost(img))
	c.metrics.SetMemoryBytes(c.memory.Bytes())
	return img, true
}

// fetchOrigin bounds the origin call by ctx even if the origin ignores it
func (c *Coordinator) fetchOrigin(ctx context.Context, req Request) ([]byte, error) {
	type outcome struct {
		data []byte
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := c.origin.Fetch(ctx, req.Source, req.Size)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		return o.data, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) fail(req Request, kind ErrorKind, err error) Result {
	c.metrics.FetchError(string(kind))
	c.logger.Warn("Image fetch failed",
		zap.String("id", req.ID),
		zap.String("size", req.Size.String()),
		zap.String("source", req.Source),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return Result{Err: &FetchError{ID: req.ID, Kind: kind, Err: err}}
}

// IsCachedFast reports whether a tier holds any usable rendition of key.
// It stats at most a couple of files and never decodes.
func (c *Coordinator) IsCachedFast(key cache.Key) bool {
	return c.memory.Has(key) || c.disk.Has(key) || c.disk.HasAny(key.ID)
}

// InFlight returns the number of keys currently being fetched
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Close waits for running fetches to deliver their results, then stops the
// coordinator's own dispatcher if it has one. No Fetch may be issued after
// Close has been called.
func (c *Coordinator) Close() {
	c.wg.Wait()
	if c.ownQueue != nil {
		c.ownQueue.Close()
	}
}
