package validator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the client side pre-check; the backend stays authoritative.
const MinPasswordLength = 6

var disposableEmailDomains = []string{
	"10minutemail.com", "guerrillamail.com", "mailinator.com", "tempmail.org",
	"yopmail.com", "maildrop.cc", "temp-mail.org", "throwaway.email",
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// Custom validators
	_ = v.RegisterValidation("password_policy", validatePasswordPolicy)
	_ = v.RegisterValidation("no_disposable_email", validateNoDisposableEmail)

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

// Var validates a single value against a tag.
func (v *Validator) Var(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// Message turns a validation error into text fit for the user. The first
// failing field wins.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}

	fe := fieldErrs[0]
	field := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "password_policy":
		return fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)
	case "no_disposable_email":
		return "Disposable email addresses are not allowed"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func humanize(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validatePasswordPolicy(fl validator.FieldLevel) bool {
	return utf8.RuneCountInString(fl.Field().String()) >= MinPasswordLength
}

func validateNoDisposableEmail(fl validator.FieldLevel) bool {
	email := fl.Field().String()
	emailParts := strings.Split(email, "@")
	if len(emailParts) != 2 {
		return false
	}

	domain := strings.ToLower(emailParts[1])
	for _, disposableDomain := range disposableEmailDomains {
		if domain == disposableDomain {
			return false
		}
	}

	return true
}
