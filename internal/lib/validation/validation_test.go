package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
)

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Code     string `json:"code,omitempty" validate:"omitempty,len=6,numeric"`
	Type     string `json:"type" validate:"omitempty,oneof=single developer unlimited"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name   string
		input  sample
		fields map[string]string
	}{
		{
			name:  "valid",
			input: sample{Email: "a@example.com", Password: "password1"},
		},
		{
			name:  "missing fields",
			input: sample{},
			fields: map[string]string{
				"email":    "is required",
				"password": "is required",
			},
		},
		{
			name:  "bad formats",
			input: sample{Email: "nope", Password: "short", Code: "12ab56", Type: "family"},
			fields: map[string]string{
				"email":    "must be a valid email address",
				"password": "must be at least 8 characters",
				"code":     "must contain only digits",
				"type":     "must be one of: single developer unlimited",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Struct(tt.input)
			require.Len(t, got, len(tt.fields))
			for _, fe := range got {
				assert.Equal(t, tt.fields[fe.Field], fe.Message, fe.Field)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	var errs Errors
	assert.NoError(t, errs.Err())

	errs.Add("confirm_password", "must match password")
	err := errs.Err()
	require.Error(t, err)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, []apperr.FieldError{{Field: "confirm_password", Message: "must match password"}}, e.Fields)
}
