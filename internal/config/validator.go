package config

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns the request validator with the custom tags
// registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("user_id", validateUserId)
	return v
}

// validateUserId rejects ':' (the pair key separator) and non printable
// runes.
func validateUserId(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if strings.Contains(id, ":") {
		return false
	}
	for _, r := range id {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
