package record

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"stageline/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the row invariants: date, company and product are set and
// confidence, when present, is one of H, M or L. It reports the first violation
// in column order.
func Validate(rec domain.NormalizedRecord) error {
	err := validate.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("missing required field: %s", fe.Field())
	case "oneof":
		return fmt.Errorf("invalid confidence level: %v (must be H, M, or L)", fe.Value())
	default:
		return fmt.Errorf("invalid field %s: %s", fe.Field(), fe.Tag())
	}
}

// Key returns the composite key of a normalized record.
func Key(rec domain.NormalizedRecord) domain.RecordKey {
	return rec.Key()
}
