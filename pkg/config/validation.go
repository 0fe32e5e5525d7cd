package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// Validator is implemented by configuration structs, at any depth, that need
// checks beyond the required tag. Validate is called with a pointer
// receiver after every layer has been applied.
type Validator interface {
	Validate() error
}

// Toggler is implemented by optional sections. A section whose IsEnabled
// reports false is skipped by validation together with everything nested in
// it, so a disabled backend needs no credentials.
type Toggler interface {
	IsEnabled() bool
}

func disabled(rv reflect.Value) bool {
	if !rv.CanAddr() {
		return false
	}
	t, ok := rv.Addr().Interface().(Toggler)
	return ok && !t.IsEnabled()
}

// validate checks required tags over the whole tree first, then runs the
// Validators root first.
func validate(root reflect.Value) error {
	if err := validateRequired(root, ""); err != nil {
		return err
	}
	return runValidators(root)
}

func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if isSection(field) {
			if disabled(field) {
				continue
			}
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}

func runValidators(rv reflect.Value) error {
	if disabled(rv) {
		return nil
	}
	if rv.CanAddr() {
		if v, ok := rv.Addr().Interface().(Validator); ok {
			if err := v.Validate(); err != nil {
				if _, coded := sserr.AsError(err); coded {
					return err
				}
				return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
			}
		}
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		if field.CanSet() && isSection(field) {
			if err := runValidators(field); err != nil {
				return err
			}
		}
	}
	return nil
}
