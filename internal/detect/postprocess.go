package detect

import (
	"image"
	"image/color"
	"image/draw"
	"sort"

	"github.com/nfnt/resize"

	"github.com/platewatch/platewatch/pkg/models"
)

// letterboxFill is the padding gray the detector was trained with.
var letterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// letterbox scales the image to fit a side x side canvas preserving
// aspect ratio, centered on gray padding. Returns the canvas, the
// applied scale, and the padding offsets needed to map boxes back.
func letterbox(img image.Image, side int) (image.Image, float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := float64(side) / float64(w)
	if s := float64(side) / float64(h); s < scale {
		scale = s
	}
	if scale > 1 {
		scale = 1
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	scaled := img
	if newW != w || newH != h {
		scaled = resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)
	}

	padX := (side - newW) / 2
	padY := (side - newH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(letterboxFill), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(padX, padY, padX+newW, padY+newH), scaled, scaled.Bounds().Min, draw.Src)

	return canvas, scale, padX, padY
}

// imageToCHW converts the canvas to a CHW float32 tensor normalized to
// [0,1], RGB channel order.
func imageToCHW(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out[i] = float32(r>>8) / 255
			out[plane+i] = float32(g>>8) / 255
			out[2*plane+i] = float32(bb>>8) / 255
		}
	}
	return out
}

// decodeBoxes parses the raw [1][4+classes][anchors] output: center
// boxes plus per-class scores per anchor column. Boxes are mapped back
// through the letterbox transform into original image space, clamped,
// and filtered to the plate class above MinConfidence.
func decodeBoxes(raw []float32, classes, anchors int, scale float64, padX, padY, origW, origH int) []Detection {
	dets := make([]Detection, 0, 8)
	if scale <= 0 {
		return dets
	}

	for a := 0; a < anchors; a++ {
		bestClass := 0
		bestScore := float32(0)
		for c := 0; c < classes; c++ {
			if s := raw[(4+c)*anchors+a]; s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if float64(bestScore) < MinConfidence || bestClass != plateClassID {
			continue
		}

		cx := float64(raw[0*anchors+a])
		cy := float64(raw[1*anchors+a])
		w := float64(raw[2*anchors+a])
		h := float64(raw[3*anchors+a])

		x1 := int((cx - w/2 - float64(padX)) / scale)
		y1 := int((cy - h/2 - float64(padY)) / scale)
		x2 := int((cx + w/2 - float64(padX)) / scale)
		y2 := int((cy + h/2 - float64(padY)) / scale)

		box := models.BoundingBox{
			X1: clamp(x1, 0, origW),
			Y1: clamp(y1, 0, origH),
			X2: clamp(x2, 0, origW),
			Y2: clamp(y2, 0, origH),
		}
		if box.Width() <= 0 || box.Height() <= 0 {
			continue
		}

		dets = append(dets, Detection{
			Box:        box,
			Confidence: float64(bestScore),
			Class:      bestClass,
		})
	}
	return dets
}

// nms applies greedy non-max suppression, keeping the highest scoring
// box of each overlapping cluster.
func nms(dets []Detection, iouThreshold float64) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] {
				continue
			}
			if iou(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou computes intersection over union of two boxes.
func iou(a, b models.BoundingBox) float64 {
	ix1 := maxInt(a.X1, b.X1)
	iy1 := maxInt(a.Y1, b.Y1)
	ix2 := minInt(a.X2, b.X2)
	iy2 := minInt(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(a.Width()*a.Height()+b.Width()*b.Height()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
