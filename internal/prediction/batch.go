package prediction

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/exoplanet-api/internal/logger"
	"github.com/Brownie44l1/exoplanet-api/internal/model"
)

const (
	ColumnPrediction = "model_prediction"
	ColumnConfidence = "confidence_score"
)

// Predictor is the classifier capability. Implementations must be safe for
// concurrent use.
type Predictor interface {
	Predict(ctx context.Context, features model.Features, withProba bool) (model.RawPrediction, error)
}

// Observer is notified of each scored row. It may be nil.
type Observer interface {
	ObservePrediction(c Classification)
}

// Scorer applies the classifier to whole batches with an all-or-nothing policy.
type Scorer struct {
	predictor Predictor
	workers   int
	observer  Observer
}

type ScorerOption func(*Scorer)

// WithWorkers scores up to n rows concurrently. Output order is unchanged.
func WithWorkers(n int) ScorerOption {
	return func(s *Scorer) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithObserver(o Observer) ScorerOption {
	return func(s *Scorer) {
		s.observer = o
	}
}

func NewScorer(predictor Predictor, opts ...ScorerOption) *Scorer {
	s := &Scorer{predictor: predictor, workers: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScoreOne validates a standalone record, runs the classifier and normalizes the result.
func (s *Scorer) ScoreOne(ctx context.Context, rec Record) (Result, error) {
	features, err := rec.Features(-1)
	if err != nil {
		return Result{}, err
	}
	result, err := s.predict(ctx, features)
	if err != nil {
		return Result{}, err
	}
	s.observe(result.Type)
	return result, nil
}

func (s *Scorer) predict(ctx context.Context, features model.Features) (Result, error) {
	raw, err := s.predictor.Predict(ctx, features, true)
	if err != nil {
		return Result{}, fmt.Errorf("prediction failed: %w", err)
	}
	return Normalize(raw)
}

func (s *Scorer) observe(c Classification) {
	if s.observer != nil {
		s.observer.ObservePrediction(c)
	}
}

// Score validates every row, then classifies them in order. The first failing
// row aborts the batch and no partial table is returned.
func (s *Scorer) Score(ctx context.Context, records []Record) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrInvalidBatchShape)
	}

	features := make([]model.Features, len(records))
	for i, rec := range records {
		f, err := rec.Features(i)
		if err != nil {
			return nil, err
		}
		features[i] = f
	}

	var (
		results []Result
		err     error
	)
	if s.workers > 1 && len(records) > 1 {
		results, err = s.scoreParallel(ctx, features)
	} else {
		results, err = s.scoreSequential(ctx, features)
	}
	if err != nil {
		return nil, err
	}

	rows := make([]Record, len(records))
	for i, rec := range records {
		out := rec.clone()
		out.Set(ColumnPrediction, string(results[i].Type))
		out.Set(ColumnConfidence, strconv.FormatFloat(results[i].Confidence, 'f', -1, 64))
		rows[i] = out
		s.observe(results[i].Type)
	}

	logger.FromContext(ctx).Debug("Scored batch", "rows", len(rows), "workers", s.workers)
	return NewTable(rows), nil
}

func (s *Scorer) scoreSequential(ctx context.Context, features []model.Features) ([]Result, error) {
	results := make([]Result, len(features))
	for i, f := range features {
		res, err := s.predict(ctx, f)
		if err != nil {
			return nil, &RowError{Row: i, Err: err}
		}
		results[i] = res
	}
	return results, nil
}

// scoreParallel reports the same row as scoreSequential would. Rows below the
// lowest failure seen so far always run to completion on the caller's context;
// only rows past it are skipped.
func (s *Scorer) scoreParallel(ctx context.Context, features []model.Features) ([]Result, error) {
	results := make([]Result, len(features))
	var g errgroup.Group
	g.SetLimit(s.workers)

	var (
		mu        sync.Mutex
		firstErr  *RowError
		minFailed atomic.Int64
	)
	minFailed.Store(int64(len(features)))

	for i := range features {
		if int64(i) > minFailed.Load() {
			break
		}
		f := features[i]
		g.Go(func() error {
			if int64(i) > minFailed.Load() {
				return nil
			}
			res, err := s.predict(ctx, f)
			if err != nil {
				rowErr := &RowError{Row: i, Err: err}
				mu.Lock()
				if firstErr == nil || i < firstErr.Row {
					firstErr = rowErr
					minFailed.Store(int64(i))
				}
				mu.Unlock()
				return rowErr
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, firstErr
	}
	return results, nil
}

// Table is a scored batch ready for tabular export.
type Table struct {
	Header []string
	Rows   []Record
}

// NewTable derives the header as the union of all row keys in first-seen order.
func NewTable(rows []Record) *Table {
	seen := make(map[string]bool)
	var header []string
	for _, row := range rows {
		for _, key := range row.Keys() {
			if !seen[key] {
				seen[key] = true
				header = append(header, key)
			}
		}
	}
	return &Table{Header: header, Rows: rows}
}

// Records returns each row as cells aligned with Header; absent keys are empty.
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]string, len(t.Header))
		for j, key := range t.Header {
			cells[j], _ = row.Get(key)
		}
		out[i] = cells
	}
	return out
}

// WriteCSV writes the header followed by one line per row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := cw.WriteAll(t.Records()); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}
