package models

import (
	"time"
)

// PlateRecord is a persisted plate recognition result
type PlateRecord struct {
	ID         string    `json:"id"`
	PlateText  string    `json:"plate_text"`
	Confidence float64   `json:"confidence"`
	ImagePath  string    `json:"image_path,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// BoundingBox is a detection rectangle in original image pixel space
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the horizontal extent of the box in pixels
func (b BoundingBox) Width() int {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box in pixels
func (b BoundingBox) Height() int {
	return b.Y2 - b.Y1
}

// Plate is a single recognized plate within one image
type Plate struct {
	PlateText           string      `json:"plate_text"`
	Confidence          float64     `json:"confidence"`           // OCR confidence after format adjustment
	DetectionConfidence float64     `json:"detection_confidence"` // Detector box score
	Box                 BoundingBox `json:"box"`
	ValidFormat         bool        `json:"valid_format"`
	RecordID            string      `json:"record_id,omitempty"`
}

// PredictResponse is returned by the recognition endpoints. Plates are
// ordered by detection confidence, highest first.
type PredictResponse struct {
	Success          bool    `json:"success"`
	Plates           []Plate `json:"plates"`
	Count            int     `json:"count"`
	ImageURL         string  `json:"image_url,omitempty"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	Message          string  `json:"message,omitempty"`
}

// BatchItemResult carries the outcome for one file of a batch request
type BatchItemResult struct {
	Filename string           `json:"filename"`
	Result   *PredictResponse `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// BatchPredictResponse is returned by the batch recognition endpoint
type BatchPredictResponse struct {
	Results []BatchItemResult `json:"results"`
	Count   int               `json:"count"`
}

// ListPlatesResponse pages through stored records
type ListPlatesResponse struct {
	Records []PlateRecord `json:"records"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}
