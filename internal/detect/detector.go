// Package detect runs the YOLO-style plate detector and turns its raw
// output tensor into bounding boxes in original image coordinates.
package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/platewatch/platewatch/internal/onnx"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/models"
)

const (
	// defaultInputSize is used when the model declares a dynamic spatial size.
	defaultInputSize = 640

	// MinConfidence discards detections the model is not sure about.
	MinConfidence = 0.25

	// NMSThreshold is the IoU above which overlapping boxes collapse.
	NMSThreshold = 0.45

	// plateClassID is the class index consumed from the detector output.
	plateClassID = 0
)

// Detection is one candidate plate region.
type Detection struct {
	Box        models.BoundingBox
	Confidence float64
	Class      int
}

// Detector wraps the detection model session. Safe for concurrent use;
// inference calls are serialized over the shared tensors.
type Detector struct {
	mu      sync.Mutex
	sess    *onnx.Session
	side    int
	classes int
	anchors int
	log     *logging.Logger
}

// New opens the detection model. Paths pointing at a training
// checkpoint resolve to the ONNX export sitting next to it.
func New(modelPath string, log *logging.Logger) (*Detector, error) {
	path := ResolveModelPath(modelPath)

	sess, err := onnx.NewSession(path)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	outShape := sess.OutputShape()
	if len(outShape) != 3 || outShape[1] < 5 {
		sess.Close()
		return nil, fmt.Errorf("unexpected detector output shape %v, want [1][4+classes][anchors]", outShape)
	}

	side := defaultInputSize
	if in := sess.InputShape(); len(in) == 4 && in[3] > 1 {
		side = int(in[3])
	}

	d := &Detector{
		sess:    sess,
		side:    side,
		classes: int(outShape[1]) - 4,
		anchors: int(outShape[2]),
		log:     log,
	}
	log.Info("detector loaded", map[string]interface{}{
		"model":   path,
		"input":   side,
		"classes": d.classes,
		"anchors": d.anchors,
	})
	return d, nil
}

// ResolveModelPath prefers the ONNX export next to a non-ONNX model
// path. A configured yolov8best.pt resolves to yolov8best.onnx when
// that file exists.
func ResolveModelPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		return path
	}
	sibling := strings.TrimSuffix(path, filepath.Ext(path)) + ".onnx"
	if _, err := os.Stat(sibling); err == nil {
		return sibling
	}
	return path
}

// Detect returns plate detections above MinConfidence, ordered by
// confidence descending, with boxes clamped to the image bounds.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	canvas, scale, padX, padY := letterbox(img, d.side)
	input := imageToCHW(canvas)

	d.mu.Lock()
	raw, err := d.sess.Run(input)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	dets := decodeBoxes(raw, d.classes, d.anchors, scale, padX, padY, b.Dx(), b.Dy())
	dets = nms(dets, NMSThreshold)

	d.log.Debug("detection complete", map[string]interface{}{
		"candidates": len(dets),
	})
	return dets, nil
}

// Close releases the model session.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		d.sess.Close()
		d.sess = nil
	}
}
