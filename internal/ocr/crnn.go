package ocr

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/nfnt/resize"

	"github.com/platewatch/platewatch/internal/onnx"
)

// Alphabet is the character set the recognizers emit. CTC index 0 is
// the blank; character i lives at index i+1.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// Fallbacks when the model declares dynamic spatial dims.
	defaultCRNNHeight = 32
	defaultCRNNWidth  = 100
)

// CRNN is a CTC sequence recognizer backed by an ONNX model. The input
// is a single grayscale channel; the output a [timesteps][classes]
// probability sequence (batch 1 in either position).
type CRNN struct {
	mu        sync.Mutex
	sess      *onnx.Session
	name      string
	h, w      int
	timesteps int
	classes   int
}

// NewCRNN opens the recognizer model at path. name tells multiple
// engines apart in logs.
func NewCRNN(path, name string) (*CRNN, error) {
	sess, err := onnx.NewSession(path)
	if err != nil {
		return nil, fmt.Errorf("load recognizer %s: %w", name, err)
	}

	in := sess.InputShape()
	if len(in) != 4 {
		sess.Close()
		return nil, fmt.Errorf("recognizer %s: unexpected input shape %v, want [1][1][H][W]", name, in)
	}
	h, w := int(in[2]), int(in[3])
	if h <= 1 {
		h = defaultCRNNHeight
	}
	if w <= 1 {
		w = defaultCRNNWidth
	}

	timesteps, classes, err := sequenceLayout(sess.OutputShape())
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("recognizer %s: %w", name, err)
	}

	return &CRNN{
		sess:      sess,
		name:      name,
		h:         h,
		w:         w,
		timesteps: timesteps,
		classes:   classes,
	}, nil
}

// sequenceLayout locates the class dimension (alphabet plus blank) in
// the output shape and derives the timestep count. Handles both
// [T][1][C] and [1][T][C] exports.
func sequenceLayout(shape []int64) (timesteps, classes int, err error) {
	want := int64(len(Alphabet) + 1)
	if len(shape) != 3 || shape[2] != want {
		return 0, 0, fmt.Errorf("unexpected output shape %v, want [...][%d]", shape, want)
	}
	t := shape[0]
	if t == 1 {
		t = shape[1]
	}
	if t < 1 {
		return 0, 0, fmt.Errorf("output shape %v has no timesteps", shape)
	}
	return int(t), int(want), nil
}

func (c *CRNN) Name() string { return c.name }

// Recognize resizes the crop to the model input, runs inference, and
// CTC-decodes the result.
func (c *CRNN) Recognize(ctx context.Context, img image.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	input := grayTensor(img, c.w, c.h)

	c.mu.Lock()
	raw, err := c.sess.Run(input)
	c.mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("recognizer %s: %w", c.name, err)
	}

	text, conf := ctcGreedyDecode(raw, c.timesteps, c.classes)
	return Result{Text: text, Confidence: conf}, nil
}

// Close releases the model session.
func (c *CRNN) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.Close()
		c.sess = nil
	}
}

// grayTensor stretches the crop to w x h grayscale and scales pixel
// values to [0,1].
func grayTensor(img image.Image, w, h int) []float32 {
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		img = resize.Resize(uint(w), uint(h), img, resize.Bicubic)
	}

	out := make([]float32, w*h)
	gray, ok := img.(*image.Gray)
	bounds := img.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if ok {
				v = gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
			} else {
				r, g, bb, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				// Rec. 601 luma, same weights image/color uses.
				v = uint8((299*(r>>8) + 587*(g>>8) + 114*(bb>>8)) / 1000)
			}
			out[y*w+x] = float32(v) / 255
		}
	}
	return out
}

// ctcGreedyDecode takes the per-timestep argmax, collapses repeats,
// drops blanks, and averages the softmax probability of the emitted
// characters as the confidence.
func ctcGreedyDecode(raw []float32, timesteps, classes int) (string, float64) {
	if len(raw) < timesteps*classes {
		return "", 0
	}

	text := make([]byte, 0, 10)
	probSum := 0.0
	prev := -1
	for t := 0; t < timesteps; t++ {
		row := raw[t*classes : (t+1)*classes]
		best := 0
		for i := 1; i < classes; i++ {
			if row[i] > row[best] {
				best = i
			}
		}
		if best != 0 && best != prev {
			text = append(text, Alphabet[best-1])
			probSum += softmaxProb(row, best)
		}
		prev = best
	}
	if len(text) == 0 {
		return "", 0
	}
	return string(text), probSum / float64(len(text))
}

// softmaxProb returns the softmax probability of index i. Models export
// logits; the shift by the max keeps the exponentials stable.
func softmaxProb(row []float32, i int) float64 {
	maxV := row[0]
	for _, v := range row[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(float64(v - maxV))
	}
	if sum == 0 {
		return 0
	}
	return math.Exp(float64(row[i]-maxV)) / sum
}
