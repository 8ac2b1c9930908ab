package login

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
)

type LoginMock struct {
	mock.Mock
}

func (m *LoginMock) Login(ctx context.Context, in auth.LoginInput, info token.ClientInfo) (*auth.LoginResult, error) {
	args := m.Called(ctx, in, info)
	res, _ := args.Get(0).(*auth.LoginResult)
	return res, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	in := auth.LoginInput{Email: "jane@example.com", Password: "Sup3rSecret!"}
	user := models.PublicUser{ID: "u-1", Email: in.Email}
	pair := models.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}

	tests := []struct {
		name      string
		body      string
		mockRes   *auth.LoginResult
		mockErr   error
		callsSvc  bool
		wantCode  int
		wantError string
		want2FA   bool
		wantToken string
	}{
		{
			name:      "tokens issued",
			mockRes:   &auth.LoginResult{User: &user, Tokens: &pair},
			callsSvc:  true,
			wantCode:  http.StatusOK,
			wantToken: "a",
		},
		{
			name:     "second factor required",
			mockRes:  &auth.LoginResult{Requires2FA: true},
			callsSvc: true,
			wantCode: http.StatusOK,
			want2FA:  true,
		},
		{
			name:      "invalid credentials",
			mockErr:   auth.ErrInvalidCredentials,
			callsSvc:  true,
			wantCode:  http.StatusUnauthorized,
			wantError: "invalid email or password",
		},
		{
			name:      "account locked",
			mockErr:   auth.ErrAccountLocked,
			callsSvc:  true,
			wantCode:  http.StatusUnauthorized,
			wantError: "account is temporarily locked, try again later",
		},
		{
			name:      "malformed body",
			body:      "{",
			wantCode:  http.StatusBadRequest,
			wantError: "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(LoginMock)
			if tt.callsSvc {
				svc.On("Login", mock.Anything, in, mock.AnythingOfType("token.ClientInfo")).
					Return(tt.mockRes, tt.mockErr).Once()
			}

			body := []byte(tt.body)
			if tt.body == "" {
				var err error
				body, err = json.Marshal(in)
				require.NoError(t, err)
			}
			rr := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))

			assert.Equal(t, tt.wantCode, rr.Code)
			var resp struct {
				Error string            `json:"error"`
				Data  *auth.LoginResult `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantError, resp.Error)
			if tt.mockRes != nil {
				require.NotNil(t, resp.Data)
				assert.Equal(t, tt.want2FA, resp.Data.Requires2FA)
				if tt.wantToken != "" {
					require.NotNil(t, resp.Data.Tokens)
					assert.Equal(t, tt.wantToken, resp.Data.Tokens.AccessToken)
				} else {
					assert.Nil(t, resp.Data.Tokens)
				}
			}
			svc.AssertExpectations(t)
		})
	}
}
