// Package validator registers the custom binding tags used by request DTOs
// on gin's validator engine.
package validator

import (
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var hhmmPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// HHMM reports whether s is a 24h wall clock time such as 9:00 or 17:30.
func HHMM(s string) bool {
	return hhmmPattern.MatchString(s)
}

// Register adds the hhmm tag to gin's default validator.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return RegisterOn(v)
}

func RegisterOn(v *validator.Validate) error {
	return v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return HHMM(fl.Field().String())
	})
}
