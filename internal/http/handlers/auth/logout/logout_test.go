package logout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
)

type LogoutMock struct {
	mock.Mock
}

func (m *LogoutMock) Logout(ctx context.Context, refreshToken string) error {
	return m.Called(ctx, refreshToken).Error(0)
}

func TestLogoutHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantToken string
		mockErr   error
		callsSvc  bool
		wantCode  int
	}{
		{name: "token revoked", body: `{"refresh_token":"rt"}`, wantToken: "rt", callsSvc: true, wantCode: http.StatusOK},
		{
			name: "empty body reaches service", body: "", wantToken: "", callsSvc: true,
			mockErr: apperr.Validation("refresh token is required"), wantCode: http.StatusBadRequest,
		},
		{name: "malformed body", body: `{"refresh_token":`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(LogoutMock)
			if tt.callsSvc {
				svc.On("Logout", mock.Anything, tt.wantToken).Return(tt.mockErr).Once()
			}

			rr := httptest.NewRecorder()
			New(sl.Discard(), svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/logout", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantCode, rr.Code)
			svc.AssertExpectations(t)
		})
	}
}
