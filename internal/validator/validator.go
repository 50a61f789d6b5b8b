package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"brokerage/internal/amount"

	"github.com/go-playground/validator/v10"
)

const maxAssetNameLength = 64

var ErrInvalidRequest = errors.New("invalid request")

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,50}$`)

// Validator checks request payloads through struct tags. Besides the
// built-in tags it knows:
//
//	assetname  non-empty, no surrounding whitespace, at most 64 bytes
//	amount     a plain decimal string with at most amount.Scale fraction digits
//	username   3 to 50 letters, digits, '_', '.' or '-'
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("assetname", func(fl validator.FieldLevel) bool {
		return ValidAssetName(fl.Field().String())
	})
	_ = validate.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := amount.Parse(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	return &Validator{validate: validate}
}

// Struct validates payload and returns an ErrInvalidRequest wrapping a
// readable list of the failed fields.
func (v *Validator) Struct(payload any) error {
	err := v.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(messages, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "assetname":
		return fmt.Sprintf("%s must be a non-empty asset name of at most %d characters without surrounding spaces", fe.Field(), maxAssetNameLength)
	case "amount":
		return fmt.Sprintf("%s must be a decimal number with at most %d decimal places", fe.Field(), amount.Scale)
	case "username":
		return fe.Field() + " must be 3-50 letters, digits, '_', '.' or '-'"
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

// ValidAssetName reports whether name can be stored as an asset name. Names
// are case sensitive and never normalized.
func ValidAssetName(name string) bool {
	return name != "" && name == strings.TrimSpace(name) && len(name) <= maxAssetNameLength
}
