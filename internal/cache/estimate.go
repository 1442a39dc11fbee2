package cache

import "image"

const bytesPerMegabyte = 1024 * 1024

// EstimateCost approximates the resident size of a decoded image in bytes.
func EstimateCost(img image.Image) int64 {
	if img == nil {
		return 0
	}

	switch m := img.(type) {
	case *image.YCbCr:
		return int64(len(m.Y) + len(m.Cb) + len(m.Cr))
	case *image.Paletted:
		return int64(len(m.Pix) + len(m.Palette)*4)
	}

	bounds := img.Bounds()
	return int64(bounds.Dx()) * int64(bounds.Dy()) * bytesPerPixel(img)
}

func bytesPerPixel(img image.Image) int64 {
	switch img.(type) {
	case *image.Gray, *image.Alpha:
		return 1
	case *image.Gray16, *image.Alpha16:
		return 2
	case *image.RGBA64, *image.NRGBA64:
		return 8
	default:
		return 4
	}
}

func BytesFromMegabytes(megabytes float64) int64 {
	if megabytes <= 0 {
		return 0
	}
	return int64(megabytes * bytesPerMegabyte)
}
