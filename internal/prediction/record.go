package prediction

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Brownie44l1/exoplanet-api/internal/model"
)

// Record is one input row: named cells in the order they were received.
// Cells keep their original text so extra columns pass through untouched.
type Record struct {
	keys  []string
	cells map[string]string
}

// NewRecord builds a record from alternating key, value pairs.
func NewRecord(kv ...string) Record {
	var r Record
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

// Set stores a cell. Re-setting a key keeps its original position.
func (r *Record) Set(key, value string) {
	if r.cells == nil {
		r.cells = make(map[string]string)
	}
	if _, ok := r.cells[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.cells[key] = value
}

func (r Record) Get(key string) (string, bool) {
	v, ok := r.cells[key]
	return v, ok
}

func (r Record) Keys() []string {
	return r.keys
}

func (r Record) Len() int {
	return len(r.keys)
}

func (r Record) clone() Record {
	out := Record{
		keys:  make([]string, len(r.keys), len(r.keys)+2),
		cells: make(map[string]string, len(r.cells)+2),
	}
	copy(out.keys, r.keys)
	for k, v := range r.cells {
		out.cells[k] = v
	}
	return out
}

// Features validates the required cells of a record. row is reported back in
// errors; pass -1 for a standalone record. Empty, null and NaN cells count as missing.
func (r Record) Features(row int) (model.Features, error) {
	var missing []string
	for _, name := range model.RequiredFeatures {
		text, ok := r.cells[name]
		if !ok || strings.TrimSpace(text) == "" || strings.EqualFold(strings.TrimSpace(text), "nan") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return model.Features{}, &MissingFeaturesError{Row: row, Missing: missing}
	}

	var f model.Features
	for _, name := range model.RequiredFeatures {
		text := strings.TrimSpace(r.cells[name])
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsInf(v, 0) {
			return model.Features{}, &InvalidValueError{Row: row, Feature: name, Value: text}
		}
		f.Set(name, v)
	}
	return f, nil
}

// ParseRecordJSON decodes a single JSON object body.
func ParseRecordJSON(data []byte) (Record, error) {
	if !gjson.ValidBytes(data) {
		return Record{}, fmt.Errorf("%w: malformed JSON", ErrInvalidRecord)
	}
	result := gjson.ParseBytes(data)
	if !result.IsObject() {
		return Record{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidRecord)
	}
	return recordFromObject(result), nil
}

// ParseBatchJSON decodes a non-empty JSON array of objects.
func ParseBatchJSON(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidBatchShape)
	}
	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array of records", ErrInvalidBatchShape)
	}

	items := result.Array()
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrInvalidBatchShape)
	}
	records := make([]Record, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrInvalidBatchShape, i)
		}
		records = append(records, recordFromObject(item))
	}
	return records, nil
}

func recordFromObject(obj gjson.Result) Record {
	var r Record
	obj.ForEach(func(key, value gjson.Result) bool {
		r.Set(key.String(), cellText(value))
		return true
	})
	return r
}

func cellText(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

// ReadBatchCSV decodes a header row followed by one record per line.
func ReadBatchCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: CSV is empty", ErrInvalidBatchShape)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatchShape, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBatchShape, err)
		}
		var rec Record
		for i, name := range header {
			rec.Set(name, row[i])
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: CSV has no data rows", ErrInvalidBatchShape)
	}
	return records, nil
}
