package validator_test

import (
	"errors"
	"testing"

	"churchadmin/internal/model"
	"churchadmin/internal/validator"

	"github.com/stretchr/testify/assert"
)

type registration struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email,no_disposable_email"`
	Password string `validate:"required,password_policy"`
}

func TestValidator_Registration(t *testing.T) {
	v := validator.New()

	tests := []struct {
		name    string
		request registration
		message string
	}{
		{
			name:    "valid",
			request: registration{Name: "Grace", Email: "grace@church.org", Password: "secret"},
		},
		{
			name:    "password_too_short",
			request: registration{Name: "Grace", Email: "grace@church.org", Password: "five5"},
			message: "Password must be at least 6 characters",
		},
		{
			name:    "missing_name",
			request: registration{Email: "grace@church.org", Password: "secret"},
			message: "Name is required",
		},
		{
			name:    "invalid_email",
			request: registration{Name: "Grace", Email: "grace", Password: "secret"},
			message: "Email must be a valid email address",
		},
		{
			name:    "disposable_email",
			request: registration{Name: "Grace", Email: "grace@mailinator.com", Password: "secret"},
			message: "Disposable email addresses are not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.request)
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.message, validator.Message(err))
		})
	}
}

func TestValidator_PasswordCountsRunes(t *testing.T) {
	v := validator.New()
	assert.NoError(t, v.Var("ñññññß", "password_policy"))
	assert.Error(t, v.Var("ñññññ", "password_policy"))
}

func TestValidator_MemberInput(t *testing.T) {
	v := validator.New()

	err := v.Validate(model.MemberInput{FirstName: "Ruth", LastName: "Moab", Status: "pending"})
	assert.Equal(t, "Status must be one of: active, inactive, visitor, suspended", validator.Message(err))

	err = v.Validate(model.MemberInput{LastName: "Moab"})
	assert.Equal(t, "First name is required", validator.Message(err))

	assert.NoError(t, v.Validate(model.MemberInput{FirstName: "Ruth", LastName: "Moab"}))
}

func TestMessage_NonValidationError(t *testing.T) {
	assert.Equal(t, "", validator.Message(nil))
	assert.Equal(t, "boom", validator.Message(errors.New("boom")))
}
