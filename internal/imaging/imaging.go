// Package imaging handles image intake for the recognition pipeline:
// upload validation, EXIF-aware decoding, and the crop preprocessing
// the recognizer expects.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/platewatch/platewatch/pkg/apierr"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxUploadBytes caps uploads when MAX_UPLOAD_MB is unset.
	DefaultMaxUploadBytes = 50 << 20

	// maxProcessingDim bounds the longest image side before detection.
	maxProcessingDim = 2048
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
}

// AllowedExtension reports whether the filename carries a supported
// image extension. The comparison is case-insensitive.
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

func allowedList() string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}

// Validate rejects uploads that are too large, carry an unsupported
// extension, or do not parse as an image. maxBytes <= 0 applies the
// default cap.
func Validate(data []byte, filename string, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if int64(len(data)) > maxBytes {
		return apierr.NewFileTooLargeError(int64(len(data)), maxBytes)
	}
	if len(data) == 0 {
		return apierr.NewInvalidImageError("empty file")
	}
	if !AllowedExtension(filename) {
		return apierr.NewInvalidImageError(fmt.Sprintf("unsupported file type, allowed: %s", allowedList()))
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return apierr.NewInvalidImageError("invalid or corrupted image file")
	}
	return nil
}

// Decode parses the payload, applies the EXIF orientation, and
// downscales anything whose longest side exceeds 2048px so detection
// works on a bounded input.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apierr.NewInvalidImageError("invalid or corrupted image file")
	}
	img = applyOrientation(img, orientation(data))
	return downscale(img), nil
}

// orientation reads the EXIF orientation tag, defaulting to 1 (upright)
// when the payload has no usable EXIF block.
func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// applyOrientation normalizes the three orientations cameras actually
// produce. Mirrored variants are rare enough to pass through untouched.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 3:
		return rotate180(img)
	case 6:
		return rotate270CCW(img)
	case 8:
		return rotate90CCW(img)
	default:
		return img
	}
}

func rotate180(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90CCW(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate270CCW(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// downscale shrinks the image so its longest side fits maxProcessingDim,
// preserving aspect ratio. Integer math keeps the target dimensions exact.
func downscale(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > w {
		longest = h
	}
	if longest <= maxProcessingDim {
		return img
	}
	var nw, nh int
	if w >= h {
		nw = maxProcessingDim
		nh = h * maxProcessingDim / w
	} else {
		nh = maxProcessingDim
		nw = w * maxProcessingDim / h
	}
	return resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
}

// toGray converts an arbitrary image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
