package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/Brownie44l1/exoplanet-api/internal/logger"
	"github.com/Brownie44l1/exoplanet-api/internal/prediction"
)

const (
	statusMessage   = "Exoplanet Analysis API is running and CORS is configured."
	internalMessage = "Internal Server Error during prediction or processing."

	codeBadRequest      = "BAD_REQUEST"
	codeTooLarge        = "REQUEST_TOO_LARGE"
	codeInternal        = "INTERNAL_ERROR"
	defaultMaxBodyBytes = 10 << 20
)

// Recorder receives request level measurements. A nil Recorder is allowed.
type Recorder interface {
	ObserveError(kind string)
	ObserveBatch(rows int)
	ObserveRequest(method, path string, status int, elapsed time.Duration)
}

type Handler struct {
	scorer       *prediction.Scorer
	classes      []string
	recorder     Recorder
	maxBodyBytes int64
}

type Option func(*Handler)

func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithMaxBodyBytes caps JSON bodies and multipart uploads.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithClasses lists the model's native labels on the health endpoint.
func WithClasses(classes []string) Option {
	return func(h *Handler) {
		h.classes = classes
	}
}

func NewHandler(scorer *prediction.Scorer, opts ...Option) *Handler {
	h := &Handler{
		scorer:       scorer,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type missingDetails struct {
	Row     *int     `json:"row,omitempty"`
	Missing []string `json:"missing"`
}

type invalidDetails struct {
	Row     *int   `json:"row,omitempty"`
	Feature string `json:"feature"`
	Value   string `json:"value"`
}

func rowPtr(row int) *int {
	if row < 0 {
		return nil
	}
	return &row
}

// writeJSON encodes before writing the status; a value that cannot be
// encoded (NaN confidence) is answered with the generic 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
		status = http.StatusInternalServerError
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: internalMessage, Code: codeInternal})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}

// writeError maps prediction errors onto status codes. Only validation errors
// reach the caller verbatim; everything else is logged and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.observeError("validation")
		log.Warn("Request body too large", "limit", tooLarge.Limit)
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error: "request body too large",
			Code:  codeTooLarge,
		})
		return
	}

	kind := prediction.ErrorKind(err)
	h.observeError(kind)
	if kind != "validation" {
		log.Error("An error occurred during analysis", "kind", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: internalMessage,
			Code:  codeInternal,
		})
		return
	}

	log.Debug("Rejected request", "error", err)
	resp := errorResponse{Error: err.Error(), Code: codeBadRequest}
	var missing *prediction.MissingFeaturesError
	var invalid *prediction.InvalidValueError
	switch {
	case errors.As(err, &missing):
		resp.Details = missingDetails{Row: rowPtr(missing.Row), Missing: missing.Missing}
	case errors.As(err, &invalid):
		resp.Details = invalidDetails{Row: rowPtr(invalid.Row), Feature: invalid.Feature, Value: invalid.Value}
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

func (h *Handler) observeError(kind string) {
	if h.recorder != nil {
		h.recorder.ObserveError(kind)
	}
}

// Status is the liveness text served on GET /.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, statusMessage)
}

// Favicon answers browser favicon probes with no content.
func (h *Handler) Favicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"classes": h.classes,
	})
}

// Predict scores a single JSON record.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := prediction.ParseRecordJSON(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Debug("Received record", "fields", rec.Len())

	result, err := h.scorer.ScoreOne(r.Context(), rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// PredictBatch scores a JSON array, a CSV body, or a CSV upload in the "file"
// form field, and answers with a CSV table.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	records, err := h.readBatch(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.recorder != nil {
		h.recorder.ObserveBatch(len(records))
	}

	table, err := h.scorer.Score(r.Context(), records)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("Scored batch", "rows", len(table.Rows))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="predictions.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.FromContext(r.Context()).Error("Failed to write batch response", "error", err)
	}
}

func (h *Handler) readBatch(w http.ResponseWriter, r *http.Request) ([]prediction.Record, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.maxBodyBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: failed to parse form", prediction.ErrInvalidBatchShape)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: no CSV file provided, use 'file' as the form field name", prediction.ErrInvalidBatchShape)
		}
		defer file.Close()
		logger.FromContext(r.Context()).Debug("Received file", "name", header.Filename, "size", header.Size)
		return prediction.ReadBatchCSV(file)
	case "text/csv":
		return prediction.ReadBatchCSV(r.Body)
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return prediction.ParseBatchJSON(body)
	}
}
