package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/config"
	"picdeck/internal/fetch"
	"picdeck/internal/image_renderer"
	"picdeck/internal/image_renderer/vipsrender"
	"picdeck/internal/metrics"
	"picdeck/internal/provider"
	"picdeck/internal/source"
)

// app holds everything a command needs to talk to the configured source
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	provider *provider.Provider
	closers  []func()
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, err
	}

	var renderer image_renderer.Renderer
	if cfg.UsesVips() {
		vipsrender.Startup(vipsrender.Config{MaxCacheMB: cfg.VipsMaxCacheMB, Concurrency: cfg.VipsConcurrency}, log)
		a.closers = append(a.closers, vipsrender.Shutdown)
		renderer = vipsrender.New(log)
	} else {
		renderer = image_renderer.NewImagingRenderer(log)
	}

	origin, directory, err := newSource(cfg, renderer, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	disk, err := cache.NewDiskCache(cfg.CacheType, cfg.CacheFileDir, cfg.CacheNamespace, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	p, err := provider.New(provider.Options{
		Source:         origin,
		Directory:      directory,
		MemoryBudgetMB: cfg.CacheMemoryMB,
		Disk:           disk,
		Workers:        cfg.FetchWorkers,
		Timeout:        cfg.FetchTimeout,
		Logger:         log,
		Metrics:        m,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = p

	log.Info("Provider ready",
		zap.String("source", cfg.Source),
		zap.String("renderer", cfg.Renderer),
		zap.String("cache", cfg.CacheType),
		zap.Float64("memory_mb", cfg.CacheMemoryMB),
		zap.Int("workers", cfg.FetchWorkers),
	)
	return a, nil
}

func newSource(cfg *config.Config, renderer image_renderer.Renderer, log *zap.Logger) (fetch.Origin, string, error) {
	switch cfg.Source {
	case config.SourceLocal:
		return source.NewLocal(renderer, log), cfg.DataDir, nil
	case config.SourceRemote:
		remote, err := source.NewRemote(cfg.RemoteURL, nil, log)
		if err != nil {
			return nil, "", err
		}
		return remote, "", nil
	case config.SourceSimulated:
		return source.NewSimulated(cfg.DataDir, cfg.SimMinDelay, cfg.SimMaxDelay, renderer, log), "", nil
	default:
		return nil, "", fmt.Errorf("unknown source: %s", cfg.Source)
	}
}

func (a *app) Close() {
	if a.provider != nil {
		a.provider.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
