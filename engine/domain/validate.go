package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var recordValidator = newRecordValidator()

func newRecordValidator() *validator.Validate {
	v := validator.New()
	// Report fields under their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate applies the documented field domains to r and returns every
// violation joined into one error. Brand only has to be present: unknown
// makes are left for the feature aligner to drop.
func Validate(r Record) error {
	return join(violations(r))
}

// ValidateStrict is Validate that also rejects brands outside KnownBrands.
func ValidateStrict(r Record) error {
	errs := violations(r)
	if r.Brand != "" && !IsKnownBrand(r.Brand) {
		errs = append(errs, NewValidationError("brand", r.Brand, ErrUnknownEnum))
	}
	return join(errs)
}

func violations(r Record) []error {
	err := recordValidator.Struct(r)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		return []error{err}
	}
	errs := make([]error, 0, len(fes))
	for _, fe := range fes {
		errs = append(errs, NewValidationError(fe.Field(), fmt.Sprint(fe.Value()), sentinelFor(fe.Tag())))
	}
	return errs
}

func sentinelFor(tag string) error {
	switch tag {
	case "required":
		return ErrMissingField
	case "oneof":
		return ErrUnknownEnum
	default:
		return ErrOutOfRange
	}
}

func join(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRecord, errors.Join(errs...))
}
