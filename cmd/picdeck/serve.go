package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"picdeck/internal/cache"
	httphandlers "picdeck/internal/http"
	"picdeck/internal/pressure"
)

func serveCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the image collection over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(g)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port")
	cmd.Flags().String("public-base-url", "", "Base URL written into image listings")
	return cmd
}

// startBackground runs the warmup and the memory pressure watcher until ctx is
// done. The caller waits on wg before closing a.
func startBackground(ctx context.Context, a *app, wg *sync.WaitGroup) {
	cfg, log := a.cfg, a.log

	if cfg.WarmupEnabled() {
		size := cache.SizeOf(cfg.WarmupWidth, cfg.WarmupHeight, cfg.WarmupScale)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.provider.Prefetch(ctx, size, cfg.WarmupWorkers); err != nil {
				log.Info("Warmup stopped", zap.Error(err))
			}
		}()
	}

	if cfg.MemoryPressurePercent > 0 {
		watcher := pressure.NewWatcher(a.provider, cfg.MemoryPressurePercent, cfg.MemoryPressureInterval, nil, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Run(ctx)
		}()
	}
}

func serve(g *globals) error {
	cfg, log := g.cfg, g.log

	log.Info("Starting picdeck server",
		zap.Int("port", cfg.Port),
		zap.String("source", cfg.Source),
		zap.String("data_dir", cfg.DataDir),
	)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var background sync.WaitGroup
	defer background.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := a.provider.FetchDataContext(ctx); err != nil {
		log.Warn("Initial metadata load failed", zap.Error(err))
	} else {
		log.Info("Metadata loaded", zap.Int("images", n))
	}

	handlers := httphandlers.New(cfg, log, a.provider)
	handler := handlers.Router(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	startBackground(ctx, a, &background)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}
