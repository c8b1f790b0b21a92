// Package validator adapts go-playground/validator to echo's Validator interface.
package validator

import (
	domainerrors "authsvc/internal/domain/errors"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps a validator.Validate instance for echo.
type CustomValidator struct {
	validate *validator.Validate
}

// New creates the validator used by the HTTP server.
func New() *CustomValidator {
	return &CustomValidator{validate: validator.New()}
}

// Validate checks the struct tags of a bound request payload.
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validate.Struct(i); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails(err.Error())
	}

	return nil
}
