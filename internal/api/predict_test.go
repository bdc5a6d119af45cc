package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/platewatch/platewatch/internal/detect"
	"github.com/platewatch/platewatch/internal/ocr"
	"github.com/platewatch/platewatch/pkg/models"
	"github.com/platewatch/platewatch/pkg/store"
)

func postImage(t *testing.T, env *testEnv, path, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, map[string][]byte{filename: content})
	req := httptest.NewRequest("POST", path, body)
	req.Header.Set("Content-Type", contentType)
	return env.do(req)
}

func TestPredictSinglePlate(t *testing.T) {
	det := &stubDetector{detections: []detect.Detection{
		{Box: models.BoundingBox{X1: 20, Y1: 20, X2: 120, Y2: 60}, Confidence: 0.91},
	}}
	rec := &stubRecognizer{decisions: []ocr.Decision{
		{Text: "34AB123", Confidence: 0.97, Source: "both_agree", Valid: true},
	}}
	env := newTestEnv(t, det, rec)

	rr := postImage(t, env, "/predict", "file", "car.png", encodePNG(t, 200, 100))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Count != 1 || len(resp.Plates) != 1 {
		t.Fatalf("count = %d, plates = %d, want 1 each", resp.Count, len(resp.Plates))
	}

	plate := resp.Plates[0]
	if plate.PlateText != "34AB123" {
		t.Errorf("plate_text = %q, want 34AB123", plate.PlateText)
	}
	if plate.Confidence != 0.97 {
		t.Errorf("confidence = %v, want 0.97", plate.Confidence)
	}
	if plate.DetectionConfidence != 0.91 {
		t.Errorf("detection_confidence = %v, want 0.91", plate.DetectionConfidence)
	}
	if !plate.ValidFormat {
		t.Error("valid_format = false, want true")
	}
	if plate.RecordID == "" {
		t.Error("record_id is empty, want persisted record reference")
	}

	if !strings.HasPrefix(resp.ImageURL, "/uploads/") || !strings.HasSuffix(resp.ImageURL, ".png") {
		t.Errorf("image_url = %q, want /uploads/<uuid>.png", resp.ImageURL)
	}
	if resp.ProcessingTimeMS < 0 {
		t.Errorf("processing_time_ms = %d, want >= 0", resp.ProcessingTimeMS)
	}
	if resp.Message != "" {
		t.Errorf("message = %q, want empty on success with plates", resp.Message)
	}

	stored, err := env.store.GetRecord(plate.RecordID)
	if err != nil {
		t.Fatalf("GetRecord(%s): %v", plate.RecordID, err)
	}
	if stored.PlateText != "34AB123" || stored.ImagePath != resp.ImageURL {
		t.Errorf("stored record = %+v, want plate text and image URL echoed", stored)
	}

	files, err := os.ReadDir(env.images.Dir())
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("uploads dir has %d files, want 1", len(files))
	}
}

func TestPredictSortsByDetectionConfidence(t *testing.T) {
	det := &stubDetector{detections: []detect.Detection{
		{Box: models.BoundingBox{X1: 10, Y1: 10, X2: 60, Y2: 40}, Confidence: 0.55},
		{Box: models.BoundingBox{X1: 100, Y1: 10, X2: 160, Y2: 40}, Confidence: 0.93},
	}}
	rec := &stubRecognizer{decisions: []ocr.Decision{
		{Text: "11AA111", Confidence: 0.8, Source: "single_engine", Valid: true},
		{Text: "22BB222", Confidence: 0.9, Source: "single_engine", Valid: true},
	}}
	env := newTestEnv(t, det, rec)

	rr := postImage(t, env, "/predict", "file", "two.png", encodePNG(t, 300, 100))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Plates) != 2 {
		t.Fatalf("plates = %d, want 2", len(resp.Plates))
	}
	if resp.Plates[0].PlateText != "22BB222" || resp.Plates[1].PlateText != "11AA111" {
		t.Errorf("order = [%s %s], want highest detection confidence first",
			resp.Plates[0].PlateText, resp.Plates[1].PlateText)
	}
}

func TestPredictNoPlates(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	rr := postImage(t, env, "/predict", "file", "empty.png", encodePNG(t, 100, 100))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true even with no plates")
	}
	if resp.Count != 0 || len(resp.Plates) != 0 {
		t.Errorf("count = %d, plates = %d, want 0 each", resp.Count, len(resp.Plates))
	}
	if resp.Message == "" {
		t.Error("message is empty, want a no-plate explanation")
	}
	if !strings.Contains(rr.Body.String(), `"plates":[]`) {
		t.Errorf("plates should encode as an empty array: %s", rr.Body.String())
	}
}

func TestPredictEmptyReadingKeptUnpersisted(t *testing.T) {
	det := &stubDetector{detections: []detect.Detection{
		{Box: models.BoundingBox{X1: 10, Y1: 10, X2: 60, Y2: 40}, Confidence: 0.7},
	}}
	rec := &stubRecognizer{decisions: []ocr.Decision{
		{Text: "", Confidence: 0, Source: "both_agree"},
	}}
	env := newTestEnv(t, det, rec)

	rr := postImage(t, env, "/predict", "file", "blur.png", encodePNG(t, 100, 100))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want the unread detection reported", resp.Count)
	}
	if resp.Plates[0].PlateText != "" || resp.Plates[0].RecordID != "" {
		t.Errorf("plate = %+v, want empty text and no record", resp.Plates[0])
	}

	total, err := env.store.CountRecords(store.ListOptions{})
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if total != 0 {
		t.Errorf("stored records = %d, want 0 for empty readings", total)
	}
}

func TestPredictRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})
	env.handler.cfg.MaxUploadMB = 1

	big := make([]byte, (1<<20)+10)
	rr := postImage(t, env, "/predict", "file", "big.jpg", big)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Error.Code != "FILE_TOO_LARGE" {
		t.Errorf("code = %q, want FILE_TOO_LARGE", body.Error.Code)
	}
}

func TestPredictRejectsBadExtension(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	rr := postImage(t, env, "/predict", "file", "notes.txt", []byte("not an image"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Error.Code != "INVALID_IMAGE" {
		t.Errorf("code = %q, want INVALID_IMAGE", body.Error.Code)
	}
}

func TestPredictRejectsCorruptImage(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	rr := postImage(t, env, "/predict", "file", "broken.png", []byte("garbage bytes"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Error.Code != "INVALID_IMAGE" {
		t.Errorf("code = %q, want INVALID_IMAGE", body.Error.Code)
	}
}

func TestPredictMissingFilePart(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	rr := postImage(t, env, "/predict", "wrong", "car.png", encodePNG(t, 50, 50))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Error.Code != "INVALID_IMAGE" {
		t.Errorf("code = %q, want INVALID_IMAGE", body.Error.Code)
	}
}

func TestPredictNotMultipart(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	req := httptest.NewRequest("POST", "/predict", bytes.NewBufferString("plain body"))
	req.Header.Set("Content-Type", "text/plain")
	rr := env.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
}

func TestPredictDetectorFailure(t *testing.T) {
	det := &stubDetector{err: errors.New("session exploded")}
	env := newTestEnv(t, det, &stubRecognizer{})

	rr := postImage(t, env, "/predict", "file", "car.png", encodePNG(t, 100, 100))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Error.Code != "MODEL_ERROR" {
		t.Errorf("code = %q, want MODEL_ERROR", body.Error.Code)
	}

	// The saved upload is discarded when the pipeline fails.
	files, err := os.ReadDir(env.images.Dir())
	if err != nil {
		t.Fatalf("read uploads dir: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("uploads dir has %d files after failure, want 0", len(files))
	}
}

type failingStore struct {
	store.Store
}

func (f *failingStore) CreateRecord(rec *models.PlateRecord) error {
	return errors.New("disk full")
}

func TestPredictStoreFailureDropsPlate(t *testing.T) {
	det := &stubDetector{detections: []detect.Detection{
		{Box: models.BoundingBox{X1: 10, Y1: 10, X2: 60, Y2: 40}, Confidence: 0.8},
	}}
	rec := &stubRecognizer{decisions: []ocr.Decision{
		{Text: "34AB123", Confidence: 0.9, Source: "single_engine", Valid: true},
	}}
	env := newTestEnv(t, det, rec)
	env.handler.store = &failingStore{Store: env.store}

	rr := postImage(t, env, "/predict", "file", "car.png", encodePNG(t, 100, 100))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.PredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Count != 0 {
		t.Errorf("success = %v, count = %d, want degraded empty result", resp.Success, resp.Count)
	}
}

func TestPredictBatch(t *testing.T) {
	det := &stubDetector{detections: []detect.Detection{
		{Box: models.BoundingBox{X1: 10, Y1: 10, X2: 60, Y2: 40}, Confidence: 0.9},
	}}
	rec := &stubRecognizer{decisions: []ocr.Decision{
		{Text: "34AB123", Confidence: 0.9, Source: "single_engine", Valid: true},
	}}
	env := newTestEnv(t, det, rec)

	body, contentType := multipartBody(t, "files", map[string][]byte{
		"one.png": encodePNG(t, 100, 100),
		"two.png": encodePNG(t, 120, 80),
		"bad.txt": []byte("not an image"),
	})
	req := httptest.NewRequest("POST", "/predict/batch", body)
	req.Header.Set("Content-Type", contentType)

	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp models.BatchPredictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 || len(resp.Results) != 3 {
		t.Fatalf("count = %d, results = %d, want 3 each", resp.Count, len(resp.Results))
	}

	byName := make(map[string]models.BatchItemResult, len(resp.Results))
	for _, item := range resp.Results {
		byName[item.Filename] = item
	}

	for _, name := range []string{"one.png", "two.png"} {
		item, ok := byName[name]
		if !ok {
			t.Fatalf("missing result for %s", name)
		}
		if item.Error != "" || item.Result == nil {
			t.Errorf("%s: error = %q, want successful result", name, item.Error)
			continue
		}
		if item.Result.Count != 1 || item.Result.Plates[0].PlateText != "34AB123" {
			t.Errorf("%s: result = %+v, want one 34AB123 plate", name, item.Result)
		}
	}

	bad, ok := byName["bad.txt"]
	if !ok {
		t.Fatal("missing result for bad.txt")
	}
	if bad.Error == "" || bad.Result != nil {
		t.Errorf("bad.txt: error = %q, result = %v, want an error entry", bad.Error, bad.Result)
	}
}

func TestPredictBatchTooManyFiles(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	files := make(map[string][]byte, maxBatchFiles+1)
	for i := 0; i <= maxBatchFiles; i++ {
		files[strings.Repeat("x", i+1)+".png"] = []byte("tiny")
	}
	body, contentType := multipartBody(t, "files", files)
	req := httptest.NewRequest("POST", "/predict/batch", body)
	req.Header.Set("Content-Type", contentType)

	rr := env.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Error.Code != "INVALID_PARAMETER" {
		t.Errorf("code = %q, want INVALID_PARAMETER", body.Error.Code)
	}
}

func TestPredictBatchMissingParts(t *testing.T) {
	env := newTestEnv(t, &stubDetector{}, &stubRecognizer{})

	rr := postImage(t, env, "/predict/batch", "file", "one.png", encodePNG(t, 50, 50))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
}
