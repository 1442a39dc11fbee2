// Package source implements the origins images are fetched from: files on
// local disk, a remote picdeck server, and a simulated server backed by a
// local folder.
package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/image_renderer"
)

// Local renders thumbnails straight from files on disk. The location passed
// to Fetch is a file path.
type Local struct {
	renderer image_renderer.Renderer
	logger   *zap.Logger
}

func NewLocal(renderer image_renderer.Renderer, logger *zap.Logger) *Local {
	return &Local{renderer: renderer, logger: logger.Named("source.local")}
}

func (l *Local) Fetch(ctx context.Context, location string, size cache.Size) ([]byte, error) {
	if location == "" {
		return nil, fmt.Errorf("no file path for image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.renderer.Render(location, size)
}
