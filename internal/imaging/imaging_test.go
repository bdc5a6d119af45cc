package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/platewatch/platewatch/pkg/apierr"
)

// encodePNG renders a w x h gradient and returns it PNG-encoded.
func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateAccepts(t *testing.T) {
	data := encodePNG(t, 4, 4)
	for _, name := range []string{"plate.png", "plate.jpg", "PLATE.JPEG", "shot.webp"} {
		if err := Validate(data, name, 0); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", name, err)
		}
	}
}

func TestValidateSizeCap(t *testing.T) {
	data := encodePNG(t, 4, 4)

	if err := Validate(data, "plate.png", int64(len(data))); err != nil {
		t.Fatalf("payload at the cap rejected: %v", err)
	}
	err := Validate(data, "plate.png", int64(len(data))-1)
	if !apierr.IsErrCode(err, apierr.ErrCodeFileTooLarge) {
		t.Fatalf("payload over the cap: got %v, want FILE_TOO_LARGE", err)
	}
}

func TestValidateExtension(t *testing.T) {
	data := encodePNG(t, 4, 4)
	for _, name := range []string{"notes.txt", "archive.zip", "plate", "plate.gif"} {
		err := Validate(data, name, 0)
		if !apierr.IsErrCode(err, apierr.ErrCodeInvalidImage) {
			t.Errorf("Validate(%q) = %v, want INVALID_IMAGE", name, err)
		}
	}
}

func TestValidateCorrupt(t *testing.T) {
	for _, data := range [][]byte{nil, {}, []byte("definitely not an image")} {
		err := Validate(data, "plate.jpg", 0)
		if !apierr.IsErrCode(err, apierr.ErrCodeInvalidImage) {
			t.Errorf("Validate(%d bytes) = %v, want INVALID_IMAGE", len(data), err)
		}
	}
}

func TestDecodeKeepsSmallImages(t *testing.T) {
	img, err := Decode(encodePNG(t, 640, 480))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Fatalf("small image resized to %v", img.Bounds())
	}
}

func TestDecodeDownscalesLargeImages(t *testing.T) {
	img, err := Decode(encodePNG(t, 3000, 1000))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	wantH := 1000 * 2048 / 3000
	if img.Bounds().Dx() != 2048 || img.Bounds().Dy() != wantH {
		t.Fatalf("got %dx%d, want 2048x%d", img.Bounds().Dx(), img.Bounds().Dy(), wantH)
	}

	// Portrait orientation scales the other axis.
	img, err = Decode(encodePNG(t, 1000, 2500))
	if err != nil {
		t.Fatalf("Decode portrait: %v", err)
	}
	wantW := 1000 * 2048 / 2500
	if img.Bounds().Dx() != wantW || img.Bounds().Dy() != 2048 {
		t.Fatalf("portrait got %dx%d, want %dx2048", img.Bounds().Dx(), img.Bounds().Dy(), wantW)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("nope")); !apierr.IsErrCode(err, apierr.ErrCodeInvalidImage) {
		t.Fatalf("got %v, want INVALID_IMAGE", err)
	}
}

// twoPixel builds a 2x1 image: red on the left, blue on the right.
func twoPixel() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})
	return img
}

func isRed(c color.Color) bool {
	r, _, b, _ := c.RGBA()
	return r > b
}

func TestRotate180(t *testing.T) {
	out := rotate180(twoPixel())
	if out.Bounds().Dx() != 2 || out.Bounds().Dy() != 1 {
		t.Fatalf("bounds %v", out.Bounds())
	}
	if isRed(out.At(0, 0)) || !isRed(out.At(1, 0)) {
		t.Fatal("rotate180 did not swap the pixels")
	}
}

func TestRotate90CCW(t *testing.T) {
	out := rotate90CCW(twoPixel())
	if out.Bounds().Dx() != 1 || out.Bounds().Dy() != 2 {
		t.Fatalf("bounds %v", out.Bounds())
	}
	// The right edge becomes the top edge: blue on top, red below.
	if isRed(out.At(0, 0)) || !isRed(out.At(0, 1)) {
		t.Fatal("rotate90CCW placed pixels wrong")
	}
}

func TestRotate270CCW(t *testing.T) {
	out := rotate270CCW(twoPixel())
	if out.Bounds().Dx() != 1 || out.Bounds().Dy() != 2 {
		t.Fatalf("bounds %v", out.Bounds())
	}
	// Clockwise quarter turn: red on top, blue below.
	if !isRed(out.At(0, 0)) || isRed(out.At(0, 1)) {
		t.Fatal("rotate270CCW placed pixels wrong")
	}
}

func TestOrientationDefaultsToUpright(t *testing.T) {
	if got := orientation(encodePNG(t, 4, 4)); got != 1 {
		t.Fatalf("orientation of EXIF-less payload = %d, want 1", got)
	}
}
