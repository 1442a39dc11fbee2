// Package pressure turns high system memory usage into memory cache flushes.
package pressure

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const DefaultInterval = 10 * time.Second

// Reliever frees memory on request
type Reliever interface {
	HandleMemoryPressure()
}

// Sampler returns the percentage of system memory in use
type Sampler func(ctx context.Context) (float64, error)

func SystemMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Watcher samples memory usage and notifies the reliever once each time usage
// rises to the threshold.
type Watcher struct {
	reliever  Reliever
	threshold float64
	interval  time.Duration
	sample    Sampler
	logger    *zap.Logger

	above bool
}

func NewWatcher(reliever Reliever, thresholdPercent float64, interval time.Duration, sample Sampler, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sample == nil {
		sample = SystemMemory
	}
	return &Watcher{
		reliever:  reliever,
		threshold: thresholdPercent,
		interval:  interval,
		sample:    sample,
		logger:    logger.Named("pressure"),
	}
}

// Run checks memory every interval until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("Memory pressure watcher started",
		zap.Float64("threshold_percent", w.threshold),
		zap.Duration("interval", w.interval),
	)

	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			w.logger.Info("Memory pressure watcher stopped")
			return
		}
	}
}

// Check takes one sample and reports whether the reliever was notified.
// Check is not safe for concurrent use.
func (w *Watcher) Check(ctx context.Context) bool {
	used, err := w.sample(ctx)
	if err != nil {
		w.logger.Warn("Failed to read memory usage", zap.Error(err))
		return false
	}

	if used < w.threshold {
		w.above = false
		return false
	}
	if w.above {
		return false
	}

	w.above = true
	w.logger.Warn("Memory usage above threshold, flushing memory cache",
		zap.Float64("used_percent", used),
		zap.Float64("threshold_percent", w.threshold),
	)
	w.reliever.HandleMemoryPressure()
	return true
}
