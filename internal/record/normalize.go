// Package record turns loosely shaped input records into knowledge store rows.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"stageline/internal/domain"
)

// Candidate keys per canonical field, in priority order. Earlier spellings win.
var (
	dateKeys       = []string{"date"}
	companyKeys    = []string{"company"}
	productKeys    = []string{"product", "product/capability", "capability"}
	customerKeys   = []string{"customer", "customer/location", "location"}
	regionKeys     = []string{"region"}
	threatOppKeys  = []string{"threat_opportunity", "threat/opportunity", "threat", "opportunity"}
	sourceKeys     = []string{"source", "source link", "source_link"}
	confidenceKeys = []string{"confidence"}
)

// Normalize maps raw onto the canonical shape. Values are trimmed and confidence is
// upper-cased. The only error is a candidate value that is not a scalar.
func Normalize(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	var (
		rec domain.NormalizedRecord
		err error
	)
	fields := []struct {
		dst  *string
		keys []string
	}{
		{&rec.Date, dateKeys},
		{&rec.Company, companyKeys},
		{&rec.Product, productKeys},
		{&rec.Customer, customerKeys},
		{&rec.Region, regionKeys},
		{&rec.ThreatOpportunity, threatOppKeys},
		{&rec.Source, sourceKeys},
		{&rec.Confidence, confidenceKeys},
	}
	for _, f := range fields {
		if *f.dst, err = lookup(raw, f.keys); err != nil {
			return domain.NormalizedRecord{}, err
		}
	}
	rec.Confidence = strings.ToUpper(rec.Confidence)
	return rec, nil
}

// lookup returns the first candidate present with a non-null value. A present
// empty string still wins over later candidates.
func lookup(raw domain.RawRecord, keys []string) (string, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		s, err := scalarString(v)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		return strings.TrimSpace(s), nil
	}
	return "", nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
