package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platewatch/platewatch/internal/imaging"
	"github.com/platewatch/platewatch/internal/objstore"
	"github.com/platewatch/platewatch/pkg/apierr"
	"github.com/platewatch/platewatch/pkg/models"
	"github.com/platewatch/platewatch/pkg/tracing"
)

const (
	// multipartMemory is the in-memory threshold for multipart parsing;
	// larger parts spill to temp files.
	multipartMemory = 32 << 20

	// formOverhead is slack on top of the upload cap for multipart
	// boundaries and headers.
	formOverhead = 1 << 20

	// maxBatchFiles caps the number of parts in one batch request.
	maxBatchFiles = 10

	noPlateMessage = "no license plate detected"
)

// Predict runs the recognition pipeline on a single uploaded image.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		ResponseError(w, multipartError(err, r.ContentLength, maxBytes))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		ResponseError(w, apierr.NewInvalidImageError("multipart form must carry a 'file' part"))
		return
	}
	defer file.Close()

	data, err := readPart(file, maxBytes)
	if err != nil {
		ResponseError(w, err)
		return
	}

	resp, err := h.processImage(r.Context(), data, header.Filename)
	if err != nil {
		ResponseError(w, err)
		return
	}
	ResponseOK(w, resp)
}

// PredictBatch runs the pipeline over every 'files' part and reports
// per-file results. One bad image does not fail the batch.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, (maxBytes+formOverhead)*maxBatchFiles)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		ResponseError(w, multipartError(err, r.ContentLength, maxBytes*maxBatchFiles))
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		ResponseError(w, apierr.NewInvalidImageError("multipart form must carry at least one 'files' part"))
		return
	}
	if len(headers) > maxBatchFiles {
		ResponseError(w, apierr.NewParameterInvalidError("too many files in batch request"))
		return
	}

	results := make([]models.BatchItemResult, 0, len(headers))
	for _, fh := range headers {
		item := models.BatchItemResult{Filename: fh.Filename}

		resp, err := h.processPart(r.Context(), fh, maxBytes)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Result = resp
		}
		results = append(results, item)

		if r.Context().Err() != nil {
			break
		}
	}

	ResponseOK(w, models.BatchPredictResponse{
		Results: results,
		Count:   len(results),
	})
}

// processPart opens one batch part and runs it through the pipeline.
func (h *Handler) processPart(ctx context.Context, fh *multipart.FileHeader, maxBytes int64) (*models.PredictResponse, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, apierr.NewInvalidImageError("unreadable file part")
	}
	defer file.Close()

	data, err := readPart(file, maxBytes)
	if err != nil {
		return nil, err
	}
	return h.processImage(ctx, data, fh.Filename)
}

// processImage is the recognition pipeline: validate, store the image,
// detect plates, OCR each crop, persist the readings. Per-plate
// failures are logged and skipped; only whole-image failures surface.
func (h *Handler) processImage(ctx context.Context, data []byte, filename string) (*models.PredictResponse, error) {
	start := time.Now()

	if err := imaging.Validate(data, filename, h.cfg.MaxUploadBytes()); err != nil {
		return nil, err
	}
	tracing.AddEvent(ctx, "validate", attribute.Int("bytes", len(data)))

	if err := h.images.EnsureSpace(objstore.MinFreeSpaceMB); err != nil {
		return nil, apierr.NewStorageFullError(err)
	}

	saved, err := h.images.Save(ctx, data, filename)
	if err != nil {
		return nil, apierr.NewInternalError(err)
	}

	img, err := imaging.Decode(data)
	if err != nil {
		h.discardUpload(saved.Filename)
		return nil, err
	}

	detections, err := h.detector.Detect(ctx, img)
	if err != nil {
		h.discardUpload(saved.Filename)
		return nil, apierr.NewModelError(err)
	}
	tracing.AddEvent(ctx, "detect", attribute.Int("count", len(detections)))

	plates := make([]models.Plate, 0, len(detections))
	persisted := 0
	for _, d := range detections {
		crop := imaging.CropPlate(img, d.Box, imaging.CropPadPercent)
		if crop == nil {
			continue
		}

		decision, err := h.recognizer.Recognize(ctx, imaging.PrepareForOCR(crop))
		if err != nil {
			if ctx.Err() != nil {
				return nil, apierr.NewModelError(ctx.Err())
			}
			h.log.Warn("OCR failed for detection", map[string]interface{}{
				"box":   d.Box,
				"error": err.Error(),
			})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordDecision(decision.Source)
		}

		plate := models.Plate{
			PlateText:           decision.Text,
			Confidence:          decision.Confidence,
			DetectionConfidence: d.Confidence,
			Box:                 d.Box,
			ValidFormat:         decision.Valid,
		}

		if decision.Text != "" {
			rec := &models.PlateRecord{
				ID:         uuid.New().String(),
				PlateText:  decision.Text,
				Confidence: decision.Confidence,
				ImagePath:  saved.URL,
				DetectedAt: time.Now().UTC(),
			}
			if err := h.store.CreateRecord(rec); err != nil {
				h.log.Warn("Failed to persist plate record", map[string]interface{}{
					"plate": decision.Text,
					"error": err.Error(),
				})
				continue
			}
			plate.RecordID = rec.ID
			persisted++
		}

		plates = append(plates, plate)
	}
	tracing.AddEvent(ctx, "ocr", attribute.Int("plates", len(plates)))
	tracing.AddEvent(ctx, "persist", attribute.Int("records", persisted))

	sort.SliceStable(plates, func(i, j int) bool {
		return plates[i].DetectionConfidence > plates[j].DetectionConfidence
	})

	if h.metrics != nil {
		h.metrics.RecordPrediction(len(plates))
	}

	resp := &models.PredictResponse{
		Success:          true,
		Plates:           plates,
		Count:            len(plates),
		ImageURL:         saved.URL,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	if len(plates) == 0 {
		resp.Message = noPlateMessage
	}

	h.log.Info("Prediction complete", map[string]interface{}{
		"filename":   filename,
		"detections": len(detections),
		"plates":     len(plates),
		"elapsed_ms": resp.ProcessingTimeMS,
	})
	return resp, nil
}

// discardUpload removes the locally saved file after a pipeline
// failure so broken inputs do not accumulate in the uploads dir.
func (h *Handler) discardUpload(filename string) {
	if err := h.images.RemoveLocal(filename); err != nil {
		h.log.Warn("Failed to remove upload after error", map[string]interface{}{
			"filename": filename,
			"error":    err.Error(),
		})
	}
}

// readPart reads one uploaded part, stopping just past the size cap so
// oversize files are rejected without buffering them whole.
func readPart(file multipart.File, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, apierr.NewInvalidImageError("failed to read file part")
	}
	if int64(len(data)) > maxBytes {
		return nil, apierr.NewFileTooLargeError(int64(len(data)), maxBytes)
	}
	return data, nil
}

// multipartError classifies a multipart parse failure: body-cap trips
// report FILE_TOO_LARGE, everything else is a malformed request.
func multipartError(err error, contentLength, maxBytes int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		size := contentLength
		if size < 0 {
			size = 0
		}
		return apierr.NewFileTooLargeError(size, maxBytes)
	}
	return apierr.NewInvalidImageError("request is not valid multipart form data")
}
