package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
)

func TestKindOf(t *testing.T) {
	sentinel := apperr.New(apperr.KindUnauthenticated, "invalid credentials")

	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{name: "plain error", err: errors.New("boom"), want: apperr.KindInternal},
		{name: "direct", err: sentinel, want: apperr.KindUnauthenticated},
		{name: "wrapped with fmt", err: fmt.Errorf("op: %w", sentinel), want: apperr.KindUnauthenticated},
		{name: "validation", err: apperr.Validation("bad input"), want: apperr.KindValidation},
		{name: "external", err: apperr.External("db down", errors.New("dial")), want: apperr.KindExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(tt.err))
		})
	}
}

func TestWrap_KeepsSentinelIdentity(t *testing.T) {
	sentinel := apperr.New(apperr.KindConflict, "email already registered")
	cause := errors.New("duplicate key")

	err := fmt.Errorf("auth.Register: %w", apperr.Wrap(sentinel, cause))

	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, err, cause)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "email already registered", e.Message)
}

func TestValidation_Fields(t *testing.T) {
	err := apperr.Validation("invalid request", apperr.FieldError{Field: "email", Message: "is required"})

	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "email", e.Fields[0].Field)
	assert.Equal(t, "validation", e.Kind.String())
}
