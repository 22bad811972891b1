package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"stageline/internal/domain"
)

var ErrInvalidInput = errors.New("invalid ingest input")

// DecodeRecords reads a single JSON object, a JSON array or a stream of JSON
// values (one per line). Array and stream elements that are not objects come
// back as nil records so the engine counts them as errors. Numbers are kept as
// json.Number.
func DecodeRecords(r io.Reader) ([]domain.RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := dec.Decode(&elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if dec.More() {
			return nil, fmt.Errorf("%w: trailing data after array", ErrInvalidInput)
		}
		out := make([]domain.RawRecord, 0, len(elems))
		for i, el := range elems {
			rec, err := asRecord(el)
			if err != nil {
				return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidInput, i, err)
			}
			out = append(out, rec)
		}
		return out, nil
	}

	var out []domain.RawRecord
	for n := 1; ; n++ {
		var el json.RawMessage
		err := dec.Decode(&el)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidInput, n, err)
		}
		rec, err := asRecord(el)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidInput, n, err)
		}
		out = append(out, rec)
	}
	if len(out) == 1 && out[0] == nil {
		return nil, fmt.Errorf("%w: top-level value is not an object or array", ErrInvalidInput)
	}
	return out, nil
}

// asRecord decodes an object; any other JSON value yields a nil record.
func asRecord(el json.RawMessage) (domain.RawRecord, error) {
	trimmed := bytes.TrimSpace(el)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var rec domain.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = domain.RawRecord{}
	}
	return rec, nil
}
