package resetpassword

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
)

type ResetMock struct {
	mock.Mock
}

func (m *ResetMock) ResetPassword(ctx context.Context, in auth.ResetPasswordInput) error {
	return m.Called(ctx, in).Error(0)
}

func TestResetPasswordHandler_ServeHTTP(t *testing.T) {
	tok := strings.Repeat("ab", 32)
	in := auth.ResetPasswordInput{Token: tok, Password: "Fresh-Passw0rd"}
	body := `{"token":"` + tok + `","password":"Fresh-Passw0rd"}`

	tests := []struct {
		name     string
		mockErr  error
		wantCode int
	}{
		{name: "reset", wantCode: http.StatusOK},
		{name: "used or expired token", mockErr: auth.ErrInvalidResetToken, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ResetMock)
			svc.On("ResetPassword", mock.Anything, in).Return(tt.mockErr).Once()

			rr := httptest.NewRecorder()
			New(sl.Discard(), svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/reset-password", strings.NewReader(body)))

			assert.Equal(t, tt.wantCode, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}
