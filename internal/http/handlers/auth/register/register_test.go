package register

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/auth"
	"github.com/magabrotheeeer/plugin-licensing/internal/services/token"
)

type RegisterMock struct {
	mock.Mock
}

func (m *RegisterMock) Register(ctx context.Context, in auth.RegisterInput, info token.ClientInfo) (*auth.AuthResult, error) {
	args := m.Called(ctx, in, info)
	res, _ := args.Get(0).(*auth.AuthResult)
	return res, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type envelope struct {
	Status string              `json:"status"`
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields"`
	Data   json.RawMessage     `json:"data"`
}

func TestRegisterHandler_ServeHTTP(t *testing.T) {
	valid := auth.RegisterInput{
		Name:            "Jane Doe",
		Email:           "jane@example.com",
		Password:        "Sup3rSecret!",
		ConfirmPassword: "Sup3rSecret!",
	}
	result := &auth.AuthResult{
		User:   models.PublicUser{ID: "u-1", Email: "jane@example.com", Role: models.RoleUser},
		Tokens: models.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 3600},
	}

	tests := []struct {
		name       string
		body       any
		mockRes    *auth.AuthResult
		mockErr    error
		callsSvc   bool
		wantCode   int
		wantStatus string
		wantError  string
		wantFields int
	}{
		{
			name:       "registered",
			body:       valid,
			mockRes:    result,
			callsSvc:   true,
			wantCode:   http.StatusCreated,
			wantStatus: "OK",
		},
		{
			name:       "invalid json body",
			body:       "not a json",
			wantCode:   http.StatusBadRequest,
			wantStatus: "Error",
			wantError:  "invalid request body",
		},
		{
			name:     "validation error",
			body:     valid,
			callsSvc: true,
			mockErr: apperr.Validation("validation failed",
				apperr.FieldError{Field: "password", Message: "is too short"}),
			wantCode:   http.StatusBadRequest,
			wantStatus: "Error",
			wantError:  "validation failed",
			wantFields: 1,
		},
		{
			name:       "email taken",
			body:       valid,
			callsSvc:   true,
			mockErr:    auth.ErrEmailTaken,
			wantCode:   http.StatusConflict,
			wantStatus: "Error",
			wantError:  "user already exists with this email",
		},
		{
			name:       "unexpected failure",
			body:       valid,
			callsSvc:   true,
			mockErr:    errors.New("db down"),
			wantCode:   http.StatusInternalServerError,
			wantStatus: "Error",
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(RegisterMock)
			if tt.callsSvc {
				svc.On("Register", mock.Anything, valid, token.ClientInfo{IP: "192.0.2.1", UserAgent: "plugin/1.0"}).
					Return(tt.mockRes, tt.mockErr).Once()
			}

			var raw []byte
			if s, ok := tt.body.(string); ok {
				raw = []byte(s)
			} else {
				var err error
				raw, err = json.Marshal(tt.body)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(raw))
			req.Header.Set("User-Agent", "plugin/1.0")
			req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "test-req"))
			rr := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			var resp envelope
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Len(t, resp.Fields, tt.wantFields)
			if tt.mockRes != nil {
				var got auth.AuthResult
				require.NoError(t, json.Unmarshal(resp.Data, &got))
				assert.Equal(t, "u-1", got.User.ID)
				assert.Equal(t, "r", got.Tokens.RefreshToken)
			}
			svc.AssertExpectations(t)
		})
	}
}
