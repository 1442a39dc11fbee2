package cache

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotCached is returned by a disk tier when no file exists for a key
var ErrNotCached = errors.New("not cached")

// Size is a requested rendering size in device pixels. Scale is the factor of
// the requesting display; it is part of the key but does not change the pixel
// dimensions. A zero width and height request the original image size.
type Size struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

func SizeOf(width, height int, scale float64) Size {
	return Size{Width: width, Height: height, Scale: scale}
}

// Pixels returns the rendered dimensions
func (s Size) Pixels() (int, int) {
	return s.Width, s.Height
}

func (s Size) IsOriginal() bool {
	return s.Width <= 0 && s.Height <= 0
}

func (s Size) String() string {
	w, h := s.Pixels()
	return fmt.Sprintf("%dx%d", w, h)
}

// area is used to rank how close two sizes are
func (s Size) area() int {
	w, h := s.Pixels()
	return w * h
}

// Key identifies one cached rendition of a logical image
type Key struct {
	ID   string
	Size Size
}

func (k Key) String() string {
	return k.ID + "@" + k.Size.String()
}

// DiskCache stores encoded image bytes per key. Implementations must be safe
// for concurrent use.
type DiskCache interface {
	Has(key Key) bool
	HasAny(id string) bool
	Read(key Key) ([]byte, error)
	Write(key Key, data []byte) error
	Path(key Key) string
	Remove(id string) error
	Clear() error
}

// DiskIOError wraps a disk tier failure. Callers treat it as a miss.
type DiskIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *DiskIOError) Error() string {
	return fmt.Sprintf("disk cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DiskIOError) Unwrap() error {
	return e.Err
}

// closer picks the candidate whose pixel area is nearest to the wanted size
func closer(want, a, b Size) bool {
	da := abs(a.area() - want.area())
	db := abs(b.area() - want.area())
	if da != db {
		return da < db
	}
	if a.area() != b.area() {
		return a.area() > b.area()
	}
	// equal pixel areas: nearest scale, then wider, then taller, then higher scale
	sa, sb := math.Abs(a.Scale-want.Scale), math.Abs(b.Scale-want.Scale)
	if sa != sb {
		return sa < sb
	}
	if a.Width != b.Width {
		return a.Width > b.Width
	}
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	return a.Scale > b.Scale
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
