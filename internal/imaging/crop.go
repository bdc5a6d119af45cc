package imaging

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"

	"github.com/platewatch/platewatch/pkg/models"
)

const (
	// CropPadPercent widens detection boxes so plate borders survive the crop.
	CropPadPercent = 0.15

	// ocrTargetWidth is the crop width handed to the recognizer. The
	// recognizer rescales to its own input size afterwards.
	ocrTargetWidth = 250
)

// CropPlate extracts the detection box widened by padPercent on every
// side, clamped to the image bounds. Returns nil when the padded box
// has no area.
func CropPlate(img image.Image, box models.BoundingBox, padPercent float64) image.Image {
	b := img.Bounds()
	padW := int(float64(box.Width()) * padPercent)
	padH := int(float64(box.Height()) * padPercent)

	x1 := clamp(box.X1-padW, 0, b.Dx())
	y1 := clamp(box.Y1-padH, 0, b.Dy())
	x2 := clamp(box.X2+padW, 0, b.Dx())
	y2 := clamp(box.Y2+padH, 0, b.Dy())
	if x2 <= x1 || y2 <= y1 {
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(b.Min.X+x1, b.Min.Y+y1), draw.Src)
	return dst
}

// PrepareForOCR runs the crop preprocessing the recognizer was trained
// against: grayscale, histogram equalization, resize to a 250px-wide
// strip preserving aspect ratio.
func PrepareForOCR(crop image.Image) *image.Gray {
	gray := equalize(toGray(crop))
	b := gray.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || b.Dx() == ocrTargetWidth {
		return gray
	}
	resized := resize.Resize(ocrTargetWidth, 0, gray, resize.Bicubic)
	return toGray(resized)
}

// equalize applies global histogram equalization, stretching the
// grayscale intensity range to full contrast. Flat images pass through
// unchanged.
func equalize(g *image.Gray) *image.Gray {
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return g
	}

	var hist [256]int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[g.GrayAt(x, y).Y]++
		}
	}

	var cdf [256]int
	sum := 0
	for i, count := range hist {
		sum += count
		cdf[i] = sum
	}
	cdfMin := 0
	for _, c := range cdf {
		if c > 0 {
			cdfMin = c
			break
		}
	}
	denom := total - cdfMin
	if denom <= 0 {
		return g
	}

	var lut [256]uint8
	for i := range lut {
		v := (cdf[i] - cdfMin) * 255 / denom
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = lut[g.GrayAt(b.Min.X+x, b.Min.Y+y).Y]
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
