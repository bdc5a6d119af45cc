package api

import (
	"context"
	"errors"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platewatch/platewatch/internal/detect"
	"github.com/platewatch/platewatch/internal/objstore"
	"github.com/platewatch/platewatch/internal/ocr"
	"github.com/platewatch/platewatch/pkg/apierr"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/models"
	"github.com/platewatch/platewatch/pkg/store"
)

const (
	// ServiceName identifies lprd in health payloads.
	ServiceName = "license-plate-recognition"
	// Version is reported by / and /health.
	Version = "2.0.0"

	defaultListLimit = 50
	maxListLimit     = 500
)

// Detector finds license plates in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]detect.Detection, error)
}

// Recognizer reads the text off a prepared plate crop.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (ocr.Decision, error)
}

// MetricsRecorder receives pipeline events for the /metrics exporter.
type MetricsRecorder interface {
	RecordPrediction(plates int)
	RecordDecision(source string)
}

// Handler serves the recognition API.
type Handler struct {
	cfg        Config
	store      store.Store
	images     *objstore.Store
	detector   Detector
	recognizer Recognizer
	metrics    MetricsRecorder
	log        *logging.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg Config, st store.Store, images *objstore.Store, det Detector, rec Recognizer, log *logging.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      st,
		images:     images,
		detector:   det,
		recognizer: rec,
		log:        log,
	}
}

// SetMetricsRecorder sets the recorder for pipeline events.
func (h *Handler) SetMetricsRecorder(m MetricsRecorder) {
	h.metrics = m
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.Index).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/predict", h.Predict).Methods("POST")
	r.HandleFunc("/predict/batch", h.PredictBatch).Methods("POST")

	r.HandleFunc("/plates", h.ListPlates).Methods("GET")
	r.HandleFunc("/plates/{id}", h.GetPlate).Methods("GET")
	r.HandleFunc("/plates/{id}", h.DeletePlate).Methods("DELETE")

	r.HandleFunc("/uploads/{name}", h.ServeUpload).Methods("GET")
}

// Index returns service information.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ResponseOK(w, map[string]interface{}{
		"service": ServiceName,
		"version": Version,
		"status":  "healthy",
		"endpoints": []string{
			"POST /predict",
			"POST /predict/batch",
			"GET /plates",
			"GET /plates/{id}",
			"DELETE /plates/{id}",
			"GET /uploads/{name}",
			"GET /health",
			"GET /metrics",
		},
	})
}

// Health is the liveness probe target.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ResponseOK(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   ServiceName,
		"version":   Version,
	})
}

// ListPlates returns stored records, newest first. Supports ?plate=
// exact-match filtering and ?limit=/?offset= pagination.
func (h *Handler) ListPlates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ResponseError(w, apierr.NewParameterInvalidError("limit must be a positive integer"))
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ResponseError(w, apierr.NewParameterInvalidError("offset must be a non-negative integer"))
			return
		}
		offset = n
	}

	opts := store.ListOptions{
		Plate:  q.Get("plate"),
		Limit:  limit,
		Offset: offset,
	}

	records, err := h.store.ListRecords(opts)
	if err != nil {
		ResponseError(w, apierr.NewStoreError(err))
		return
	}
	total, err := h.store.CountRecords(store.ListOptions{Plate: opts.Plate})
	if err != nil {
		ResponseError(w, apierr.NewStoreError(err))
		return
	}

	if records == nil {
		records = []models.PlateRecord{}
	}
	ResponseOK(w, models.ListPlatesResponse{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetPlate returns a single record by ID.
func (h *Handler) GetPlate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.GetRecord(id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			ResponseError(w, apierr.NewNotFoundError("record"))
			return
		}
		ResponseError(w, apierr.NewStoreError(err))
		return
	}
	ResponseOK(w, rec)
}

// DeletePlate removes a record and its stored image.
func (h *Handler) DeletePlate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.GetRecord(id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			ResponseError(w, apierr.NewNotFoundError("record"))
			return
		}
		ResponseError(w, apierr.NewStoreError(err))
		return
	}

	if err := h.store.DeleteRecord(id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			ResponseError(w, apierr.NewNotFoundError("record"))
			return
		}
		ResponseError(w, apierr.NewStoreError(err))
		return
	}

	h.removeImage(r.Context(), rec.ImagePath)

	h.log.Info("Record deleted", map[string]interface{}{
		"id":    id,
		"plate": rec.PlateText,
	})
	ResponseOK(w, map[string]interface{}{"status": "deleted", "id": id})
}

// removeImage best-effort deletes the stored image behind a record:
// the S3 object when the path is an object URL, the local upload
// otherwise. Records sharing an image make this a no-op on the second
// delete.
func (h *Handler) removeImage(ctx context.Context, imagePath string) {
	if imagePath == "" || h.images == nil {
		return
	}

	if key := objstore.KeyFromURL(imagePath); key != "" {
		if err := h.images.RemoveObject(ctx, key); err != nil {
			h.log.Warn("Failed to delete stored object", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return
	}

	filename := objstore.ExtractFilename(imagePath)
	if err := h.images.RemoveLocal(filename); err != nil {
		h.log.Warn("Failed to delete local upload", map[string]interface{}{
			"filename": filename,
			"error":    err.Error(),
		})
	}
}

// ServeUpload serves a locally stored image by filename.
func (h *Handler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(mux.Vars(r)["name"])
	if name == "." || name == "/" || name == ".." {
		ResponseError(w, apierr.NewNotFoundError("file"))
		return
	}

	path := filepath.Join(h.images.Dir(), name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		ResponseError(w, apierr.NewNotFoundError("file"))
		return
	}
	http.ServeFile(w, r, path)
}
