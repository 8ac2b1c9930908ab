package me

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/plugin-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
)

type ProfileMock struct {
	mock.Mock
}

func (m *ProfileMock) Profile(ctx context.Context, userID string) (models.PublicUser, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.PublicUser), args.Error(1)
}

func TestMeHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name     string
		user     models.PublicUser
		mockErr  error
		wantCode int
	}{
		{name: "profile", user: models.PublicUser{ID: "u-1", Email: "jane@example.com", TwoFactorEnabled: true}, wantCode: http.StatusOK},
		{name: "user gone", mockErr: auth.ErrUserNotFound, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ProfileMock)
			svc.On("Profile", mock.Anything, "u-1").Return(tt.user, tt.mockErr).Once()

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserID, "u-1"))
			rr := httptest.NewRecorder()
			New(sl.Discard(), svc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.mockErr == nil {
				var resp struct {
					Data models.PublicUser `json:"data"`
				}
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, tt.user.ID, resp.Data.ID)
				assert.True(t, resp.Data.TwoFactorEnabled)
			}
			svc.AssertExpectations(t)
		})
	}
}
