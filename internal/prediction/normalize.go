// Package prediction turns raw classifier output into the service's response
// contract and scores batches of transit records.
package prediction

import (
	"fmt"
	"strings"

	"github.com/Brownie44l1/exoplanet-api/internal/model"
)

// Classification is the canonical disposition of a transit signal.
type Classification string

const (
	Confirmed     Classification = "confirmed"
	Candidate     Classification = "candidate"
	FalsePositive Classification = "false_positive"
)

// Classifications lists every canonical value.
var Classifications = []Classification{Confirmed, Candidate, FalsePositive}

var titles = map[Classification]string{
	Confirmed:     "Confirmed Exoplanet",
	Candidate:     "Exoplanet Candidate",
	FalsePositive: "False Positive",
}

var descriptions = map[Classification]string{
	Confirmed:     "Congratulations! The data strongly suggests a confirmed exoplanet detection. All parameters fall within expected ranges for a genuine planetary transit.",
	Candidate:     "Promising signals detected. The data shows characteristics consistent with a planetary transit, but additional observations are recommended for confirmation.",
	FalsePositive: "Analysis indicates this signal is likely caused by stellar activity, eclipsing binary stars, or instrumental effects rather than a genuine exoplanet.",
}

// Valid reports whether c is one of the canonical classifications.
func (c Classification) Valid() bool {
	_, ok := titles[c]
	return ok
}

// Title is the short human-readable heading for c.
func (c Classification) Title() string {
	return titles[c]
}

// Description is the explanatory text shown with c.
func (c Classification) Description() string {
	return descriptions[c]
}

// Result is the single-record response body.
type Result struct {
	Type        Classification `json:"type"`
	Confidence  float64        `json:"confidence"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
}

// CanonicalKey lower-cases a model label and joins its words with underscores.
func CanonicalKey(label string) Classification {
	return Classification(strings.Join(strings.Fields(strings.ToLower(label)), "_"))
}

// Normalize maps a raw prediction onto the canonical classification. The
// probability is looked up under the model's own spelling of the label and is
// scaled to a percentage as-is.
func Normalize(raw model.RawPrediction) (Result, error) {
	key := CanonicalKey(raw.Label)
	if !key.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownClassification, raw.Label)
	}

	p, ok := raw.ClassProbabilities[raw.Label]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrMissingProbability, raw.Label)
	}

	return Result{
		Type:        key,
		Confidence:  p * 100,
		Title:       key.Title(),
		Description: key.Description(),
	}, nil
}
