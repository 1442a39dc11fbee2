package image_renderer

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"picdeck/internal/cache"
)

// Renderer produces encoded image bytes for a file on disk, scaled to fit the
// requested size. The result may be smaller than requested but never larger.
type Renderer interface {
	Render(path string, size cache.Size) ([]byte, error)
}

// Extensions lists the file types the scanner and renderers accept
var Extensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

func IsImageFile(name string) bool {
	return Extensions[strings.ToLower(filepath.Ext(name))]
}

// ImagingRenderer renders thumbnails in pure Go
type ImagingRenderer struct {
	logger *zap.Logger
	// JPEGQuality applies when the source is a JPEG
	JPEGQuality int
}

func NewImagingRenderer(logger *zap.Logger) *ImagingRenderer {
	return &ImagingRenderer{logger: logger, JPEGQuality: 82}
}

func (r *ImagingRenderer) Render(path string, size cache.Size) ([]byte, error) {
	if size.IsOriginal() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		return data, nil
	}

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	w, h := size.Pixels()
	bounds := src.Bounds()
	if w <= 0 {
		w = bounds.Dx()
	}
	if h <= 0 {
		h = bounds.Dy()
	}

	thumb := imaging.Fit(src, w, h, imaging.Lanczos)

	format, err := imaging.FormatFromFilename(path)
	if err != nil || format != imaging.JPEG {
		format = imaging.PNG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, format, imaging.JPEGQuality(r.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	r.logger.Debug("Rendered thumbnail",
		zap.String("path", path),
		zap.Int("width", thumb.Bounds().Dx()),
		zap.Int("height", thumb.Bounds().Dy()),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

// Decode turns encoded bytes into an image
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
