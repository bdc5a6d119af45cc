package ocr

import (
	"context"
	"errors"
	"image"

	"github.com/platewatch/platewatch/pkg/logging"
)

// Decision is the ensemble's final reading for one plate crop.
type Decision struct {
	Text       string
	Confidence float64
	Source     string
	Valid      bool
}

// Ensemble runs the configured recognizers over a crop and merges
// their readings. With a single engine it degrades to cleaning and
// format-adjusting that engine's output.
type Ensemble struct {
	engines []Engine
	log     *logging.Logger
}

// NewEnsemble builds an ensemble over the non-nil engines.
func NewEnsemble(log *logging.Logger, engines ...Engine) *Ensemble {
	active := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if e != nil {
			active = append(active, e)
		}
	}
	return &Ensemble{engines: active, log: log}
}

// Size returns the number of active engines.
func (e *Ensemble) Size() int { return len(e.engines) }

// Close releases every engine.
func (e *Ensemble) Close() {
	for _, eng := range e.engines {
		eng.Close()
	}
}

// Recognize reads the crop with every engine and decides on one
// result. A single engine failure degrades to the surviving engine;
// total failure returns the last error.
func (e *Ensemble) Recognize(ctx context.Context, img image.Image) (Decision, error) {
	if len(e.engines) == 0 {
		return Decision{}, errors.New("no OCR engines configured")
	}

	results := make([]Result, 0, len(e.engines))
	var lastErr error
	for _, eng := range e.engines {
		r, err := eng.Recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return Decision{}, ctx.Err()
			}
			lastErr = err
			e.log.Warn("OCR engine failed", map[string]interface{}{
				"engine": eng.Name(),
				"error":  err.Error(),
			})
			continue
		}
		results = append(results, r)
	}

	switch len(results) {
	case 0:
		return Decision{}, lastErr
	case 1:
		return DecideSingle(results[0]), nil
	default:
		return Decide(results[0], results[1]), nil
	}
}

// DecideSingle cleans and format-adjusts one engine's reading.
func DecideSingle(r Result) Decision {
	text := CleanText(r.Text)
	return Decision{
		Text:       text,
		Confidence: AdjustConfidence(text, r.Confidence),
		Source:     "single_engine",
		Valid:      ValidFormat(text),
	}
}

// Decide merges two engine readings. Agreement after cleaning wins
// outright; otherwise a valid format beats an invalid one, and ties
// fall to the higher confidence. Only the neither-valid branch skips
// the format adjustment.
func Decide(primary, secondary Result) Decision {
	p := CleanText(primary.Text)
	s := CleanText(secondary.Text)
	pValid := ValidFormat(p)
	sValid := ValidFormat(s)

	switch {
	case p == s && p != "":
		conf := maxF(primary.Confidence, secondary.Confidence)
		return decision(p, AdjustConfidence(p, conf), "both_agree")

	case pValid && !sValid:
		return decision(p, AdjustConfidence(p, primary.Confidence), "primary_valid")

	case sValid && !pValid:
		return decision(s, AdjustConfidence(s, secondary.Confidence), "secondary_valid")

	case pValid && sValid:
		if primary.Confidence >= secondary.Confidence {
			return decision(p, AdjustConfidence(p, primary.Confidence), "both_valid_primary")
		}
		return decision(s, AdjustConfidence(s, secondary.Confidence), "both_valid_secondary")

	default:
		if primary.Confidence >= secondary.Confidence {
			return decision(p, primary.Confidence, "neither_valid_primary")
		}
		return decision(s, secondary.Confidence, "neither_valid_secondary")
	}
}

func decision(text string, conf float64, source string) Decision {
	return Decision{
		Text:       text,
		Confidence: conf,
		Source:     source,
		Valid:      ValidFormat(text),
	}
}
