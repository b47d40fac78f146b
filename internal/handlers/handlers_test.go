package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/exoplanet-api/internal/model"
	"github.com/Brownie44l1/exoplanet-api/internal/prediction"
)

type stubPredictor struct {
	label string
	err   error
	// proba replaces the default 0.75 when non-zero.
	proba float64
}

func (s stubPredictor) Predict(ctx context.Context, features model.Features, withProba bool) (model.RawPrediction, error) {
	if s.err != nil {
		return model.RawPrediction{}, s.err
	}
	label := s.label
	if label == "" {
		label = "Candidate"
		if features.OrbPer > 100 {
			label = "Confirmed"
		}
	}
	proba := 0.75
	if s.proba != 0 {
		proba = s.proba
	}
	return model.RawPrediction{
		Label:              label,
		ClassProbabilities: map[string]float64{label: proba, "False Positive": 0.25},
	}, nil
}

type recorderStub struct {
	errors   []string
	batches  []int
	requests []string
}

func (r *recorderStub) ObserveError(kind string) { r.errors = append(r.errors, kind) }
func (r *recorderStub) ObserveBatch(rows int)    { r.batches = append(r.batches, rows) }
func (r *recorderStub) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	r.requests = append(r.requests, method+" "+path)
}

const singleRecord = `{"orbper":365.25,"trandep":84,"trandur":13,"rade":1,"insol":1,"eqt":255,"teff":5778,"logg":4.44,"rad":1}`

func newTestRouter(p prediction.Predictor, rec *recorderStub, opts ...Option) http.Handler {
	opts = append(opts,
		WithRecorder(rec),
		WithClasses([]string{"Candidate", "Confirmed", "False Positive"}),
	)
	h := NewHandler(prediction.NewScorer(p), opts...)
	return NewRouter(h, RouterConfig{Recorder: rec})
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandler_Predict(t *testing.T) {
	t.Run("Should return the normalized classification", func(t *testing.T) {
		rec := &recorderStub{}
		router := newTestRouter(stubPredictor{}, rec)

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(singleRecord)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		var res prediction.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, prediction.Confirmed, res.Type)
		assert.InDelta(t, 75.0, res.Confidence, 1e-9)
		assert.Equal(t, "Confirmed Exoplanet", res.Title)
		assert.NotEmpty(t, res.Description)
		assert.Equal(t, []string{"POST /predict"}, rec.requests)
	})

	t.Run("Should accept records on the root path", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})

		w := serve(router, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(singleRecord)))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Should list missing features as a bad request", func(t *testing.T) {
		rec := &recorderStub{}
		router := newTestRouter(stubPredictor{}, rec)
		body := strings.Replace(singleRecord, `,"teff":5778`, "", 1)

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))

		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "BAD_REQUEST", resp["code"])
		assert.Contains(t, resp["error"], "teff")
		details, ok := resp["details"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []any{"teff"}, details["missing"])
		assert.NotContains(t, details, "row")
		assert.Equal(t, []string{"validation"}, rec.errors)
	})

	t.Run("Should reject a non-numeric feature", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})
		body := strings.Replace(singleRecord, `"rad":1`, `"rad":"big"`, 1)

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body)))

		require.Equal(t, http.StatusBadRequest, w.Code)
		details := decodeError(t, w)["details"].(map[string]any)
		assert.Equal(t, "rad", details["feature"])
		assert.Equal(t, "big", details["value"])
	})

	t.Run("Should reject a body that is not an object", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`[1,2]`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Should hide an unknown model label behind the generic error", func(t *testing.T) {
		rec := &recorderStub{}
		router := newTestRouter(stubPredictor{label: "Maybe"}, rec)

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(singleRecord)))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "Internal Server Error during prediction or processing.", resp["error"])
		assert.Equal(t, "INTERNAL_ERROR", resp["code"])
		assert.NotContains(t, w.Body.String(), "Maybe")
		assert.Equal(t, []string{"contract"}, rec.errors)
	})

	t.Run("Should hide model failures behind the generic error", func(t *testing.T) {
		rec := &recorderStub{}
		router := newTestRouter(stubPredictor{err: errors.New("onnx: run failed")}, rec)

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(singleRecord)))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "onnx")
		assert.Equal(t, []string{"upstream"}, rec.errors)
	})

	t.Run("Should answer the generic error when the confidence cannot be encoded", func(t *testing.T) {
		router := newTestRouter(stubPredictor{proba: math.NaN()}, &recorderStub{})

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(singleRecord)))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "INTERNAL_ERROR", resp["code"])
		assert.Equal(t, "Internal Server Error during prediction or processing.", resp["error"])
	})

	t.Run("Should reject bodies over the limit", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{}, WithMaxBodyBytes(16))

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(singleRecord)))

		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "REQUEST_TOO_LARGE", decodeError(t, w)["code"])
	})
}

func readCSV(t *testing.T, w *httptest.ResponseRecorder) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	return rows
}

const batchCSV = "kepid,orbper,trandep,trandur,rade,insol,eqt,teff,logg,rad\n" +
	"11,3.5,500,2,2.1,300,900,5200,4.5,0.9\n" +
	"12,365,84,13,1,1,255,5778,4.4,1\n"

func TestHandler_PredictBatch(t *testing.T) {
	t.Run("Should score a JSON array into a CSV attachment", func(t *testing.T) {
		rec := &recorderStub{}
		router := newTestRouter(stubPredictor{}, rec)
		body := "[" + singleRecord + "," + strings.Replace(singleRecord, `"orbper":365.25`, `"orbper":42`, 1) + "]"

		w := serve(router, httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(body)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="predictions.csv"`, w.Header().Get("Content-Disposition"))
		rows := readCSV(t, w)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"orbper", "trandep", "trandur", "rade", "insol", "eqt", "teff", "logg", "rad", "model_prediction", "confidence_score"}, rows[0])
		assert.Equal(t, "365.25", rows[1][0])
		assert.Equal(t, "confirmed", rows[1][9])
		assert.Equal(t, "75", rows[1][10])
		assert.Equal(t, "candidate", rows[2][9])
		assert.Equal(t, []int{2}, rec.batches)
	})

	t.Run("Should score a CSV body and keep extra columns", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})
		req := httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(batchCSV))
		req.Header.Set("Content-Type", "text/csv")

		w := serve(router, req)

		require.Equal(t, http.StatusOK, w.Code)
		rows := readCSV(t, w)
		require.Len(t, rows, 3)
		assert.Equal(t, "kepid", rows[0][0])
		assert.Equal(t, []string{"11", "candidate"}, []string{rows[1][0], rows[1][10]})
		assert.Equal(t, []string{"12", "confirmed"}, []string{rows[2][0], rows[2][10]})
	})

	t.Run("Should score an uploaded CSV file", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "koi.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(batchCSV))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/predict/batch", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		w := serve(router, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, readCSV(t, w), 3)
	})

	t.Run("Should require the file field on uploads", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("upload", "koi.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(batchCSV))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/predict/batch", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		w := serve(router, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w)["error"], "'file'")
	})

	t.Run("Should fail the whole batch on one invalid row", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})
		body := "orbper,trandep,trandur,rade,insol,eqt,teff,logg,rad\n" +
			"3.5,500,2,2.1,300,900,5200,4.5,0.9\n" +
			"365,84,13,1,1,255,5778,4.4,\n"
		req := httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(body))
		req.Header.Set("Content-Type", "text/csv")

		w := serve(router, req)

		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		details := resp["details"].(map[string]any)
		assert.Equal(t, 1.0, details["row"])
		assert.Equal(t, []any{"rad"}, details["missing"])
		assert.NotContains(t, w.Body.String(), "model_prediction")
	})

	t.Run("Should reject batches that are not arrays of objects", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})

		for _, body := range []string{`{}`, `[]`, `[1]`, `not json`} {
			w := serve(router, httptest.NewRequest(http.MethodPost, "/predict/batch", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})
}

func TestHandler_Meta(t *testing.T) {
	router := newTestRouter(stubPredictor{}, &recorderStub{})

	t.Run("Should report status on the root path", func(t *testing.T) {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Exoplanet Analysis API is running and CORS is configured.", w.Body.String())
	})

	t.Run("Should answer favicon probes with no content", func(t *testing.T) {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("Should report health with the model classes", func(t *testing.T) {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Len(t, body["classes"], 3)
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Should answer CORS preflight requests", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})
		req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
		req.Header.Set("Origin", "http://localhost:3000")

		w := serve(router, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("Should only echo allowed origins", func(t *testing.T) {
		h := EnableCORS([]string{"https://exo.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		allowed := httptest.NewRequest(http.MethodGet, "/", nil)
		allowed.Header.Set("Origin", "https://exo.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, allowed)
		assert.Equal(t, "https://exo.example", w.Header().Get("Access-Control-Allow-Origin"))

		other := httptest.NewRequest(http.MethodGet, "/", nil)
		other.Header.Set("Origin", "https://evil.example")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, other)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Should propagate or generate a request id", func(t *testing.T) {
		router := newTestRouter(stubPredictor{}, &recorderStub{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		assert.Equal(t, "abc-123", serve(router, req).Header().Get("X-Request-ID"))

		w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	})

	t.Run("Should label unmatched routes", func(t *testing.T) {
		rec := &recorderStub{}
		router := newTestRouter(stubPredictor{}, rec)

		w := serve(router, httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, []string{"GET unmatched"}, rec.requests)
	})

	t.Run("Should turn panics into the generic error", func(t *testing.T) {
		h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, w)["code"])
		assert.NotContains(t, w.Body.String(), "boom")
	})
}
