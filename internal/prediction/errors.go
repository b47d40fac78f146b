package prediction

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownClassification means the model emitted a label outside the canonical set.
	ErrUnknownClassification = errors.New("unknown classification")
	// ErrMissingProbability means the model gave no probability for its own label.
	ErrMissingProbability = errors.New("missing probability")
	// ErrInvalidBatchShape rejects an empty batch or one whose items are not records.
	ErrInvalidBatchShape = errors.New("invalid batch shape")
	// ErrInvalidRecord rejects a single-record body that is not a JSON object.
	ErrInvalidRecord = errors.New("invalid record")
)

// MissingFeaturesError reports the required features absent from one row.
// Row is -1 for a single-record request.
type MissingFeaturesError struct {
	Row     int
	Missing []string
}

func (e *MissingFeaturesError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("missing required features: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("row %d: missing required features: %s", e.Row, strings.Join(e.Missing, ", "))
}

// InvalidValueError reports a required feature whose value is not a number.
type InvalidValueError struct {
	Row     int
	Feature string
	Value   string
}

func (e *InvalidValueError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("feature %s: %q is not a number", e.Feature, e.Value)
	}
	return fmt.Sprintf("row %d: feature %s: %q is not a number", e.Row, e.Feature, e.Value)
}

// RowError wraps a model or normalization failure with the row it happened on.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is caller-correctable input.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var missing *MissingFeaturesError
	var invalid *InvalidValueError
	return errors.Is(err, ErrInvalidBatchShape) ||
		errors.Is(err, ErrInvalidRecord) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid)
}

// IsContractViolation reports whether err came from a malformed model result.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrUnknownClassification) || errors.Is(err, ErrMissingProbability)
}

// ErrorKind buckets an error for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case IsContractViolation(err):
		return "contract"
	default:
		return "upstream"
	}
}
