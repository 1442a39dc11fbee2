// Package vipsrender renders thumbnails with libvips. It lives in its own
// package so that only binaries that opt in link against libvips.
package vipsrender

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/image_renderer"
)

type Config struct {
	MaxCacheMB  int
	Concurrency int
}

// Startup initializes libvips and routes its warnings to log. Call Shutdown on exit.
func Startup(cfg Config, log *zap.Logger) {
	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.Concurrency,
		MaxCacheMem:      cfg.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.MaxCacheMB),
		zap.Int("concurrency", cfg.Concurrency),
	)
}

func Shutdown() {
	vips.Shutdown()
}

// Renderer handles tif, jpg, png and webp with libvips; other formats go
// through the pure Go renderer.
type Renderer struct {
	logger   *zap.Logger
	fallback *image_renderer.ImagingRenderer
}

func New(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger, fallback: image_renderer.NewImagingRenderer(logger)}
}

func (r *Renderer) Render(path string, size cache.Size) ([]byte, error) {
	if size.IsOriginal() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		return data, nil
	}

	if !vipsFormats[strings.ToLower(filepath.Ext(path))] {
		return r.fallback.Render(path, size)
	}

	image, err := r.loadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	w, h := size.Pixels()
	if w <= 0 {
		w = image.Width()
	}
	if h <= 0 {
		h = image.Height()
	}

	// Scale down to fit, never up
	scale := math.Min(float64(w)/float64(image.Width()), float64(h)/float64(image.Height()))
	if scale < 1 {
		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := image.Resize(scale, resizeOpts); err != nil {
			return nil, fmt.Errorf("failed to resize: %w", err)
		}
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = 82
	jpegOpts.Interlace = false

	data, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	r.logger.Debug("Rendered thumbnail",
		zap.String("path", path),
		zap.Int("width", image.Width()),
		zap.Int("height", image.Height()),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

var vipsFormats = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// loadImage loads an image based on file extension
func (r *Renderer) loadImage(path string) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	// Thumbnails read each file once, top to bottom
	access := vips.AccessSequential

	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}
