// Package valid checks domain inputs before they are turned into items.
package valid

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/singletable/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v's `validate` tags. Failures wrap store.ErrInvalidInput.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return nil
}

// Var validates a single value against tag. Failures wrap store.ErrInvalidInput.
func Var(name string, v any, tag string) error {
	if err := validate.Var(v, tag); err != nil {
		return fmt.Errorf("%w: %s: %v", store.ErrInvalidInput, name, err)
	}
	return nil
}
