package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keyxmakerx/cellscan/internal/credentials"
)

// RequestValidator adapts go-playground/validator to echo.Validator so
// handlers can call c.Validate(&req) on bound DTOs.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator with the credential tags
// registered: "username", "email_addr" and "password".
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		ok, _ := credentials.ValidateUsername(credentials.NormalizeUsername(fl.Field().String()))
		return ok
	})
	_ = v.RegisterValidation("email_addr", func(fl validator.FieldLevel) bool {
		return credentials.ValidateEmail(credentials.NormalizeEmail(fl.Field().String()))
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		ok, _ := credentials.ValidatePassword(fl.Field().String())
		return ok
	})

	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i any) error {
	return rv.validate.Struct(i)
}

// ValidationMessage turns the first field error into the sentence shown to
// the user. Fields are reported in struct declaration order.
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	value, _ := fe.Value().(string)

	switch fe.Tag() {
	case "username":
		_, reason := credentials.ValidateUsername(credentials.NormalizeUsername(value))
		return reason
	case "email_addr":
		return credentials.ReasonEmailInvalid
	case "password":
		_, reason := credentials.ValidatePassword(value)
		return reason
	case "eqfield":
		return "passwords do not match"
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", strings.ToLower(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
}
