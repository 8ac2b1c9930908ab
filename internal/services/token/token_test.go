package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/jwt"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/securetoken"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	return m.Called(ctx, t).Error(0)
}

func (m *RepoMock) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefreshToken), args.Error(1)
}

func (m *RepoMock) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) error {
	return m.Called(ctx, oldHash, next, now).Error(0)
}

func (m *RepoMock) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	args := m.Called(ctx, tokenHash, now)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(int64), args.Error(1)
}

type UsersMock struct{ mock.Mock }

func (m *UsersMock) FindByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

var testUser = &models.User{ID: "u-1", Email: "ann@example.com", Role: models.RoleUser}

func newTestMaker() *jwt.Maker {
	return jwt.NewMaker("access-secret", "refresh-secret", time.Hour, 7*24*time.Hour, "test")
}

func TestService_Issue(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	svc := New(newTestMaker(), repo, &UsersMock{}, sl.Discard(), nil)

	var stored *models.RefreshToken
	repo.On("CreateRefreshToken", ctx, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*models.RefreshToken)
	}).Return(nil).Once()

	pair, err := svc.Issue(ctx, testUser, ClientInfo{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(3600), pair.ExpiresIn)
	require.NotNil(t, stored)
	assert.Equal(t, securetoken.Hash(pair.RefreshToken), stored.TokenHash)
	assert.NotContains(t, stored.TokenHash, pair.RefreshToken)
	assert.Equal(t, "10.0.0.1", stored.IP)

	claims, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestService_IssuePersistFailure(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	svc := New(newTestMaker(), repo, &UsersMock{}, sl.Discard(), nil)
	repo.On("CreateRefreshToken", ctx, mock.Anything).Return(errors.New("db down")).Once()

	_, err := svc.Issue(ctx, testUser, ClientInfo{})
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	maker := newTestMaker()
	refresh, err := maker.GenerateRefreshToken(jwt.Payload{UserID: "u-1", Email: "ann@example.com", Role: "user"})
	require.NoError(t, err)
	access, err := maker.GenerateAccessToken(jwt.Payload{UserID: "u-1"})
	require.NoError(t, err)
	digest := securetoken.Hash(refresh)

	now := time.Now()
	live := &models.RefreshToken{UserID: "u-1", TokenHash: digest, ExpiresAt: now.Add(time.Hour)}
	revokedAt := now.Add(-time.Minute)
	revoked := &models.RefreshToken{UserID: "u-1", TokenHash: digest, ExpiresAt: now.Add(time.Hour), IsRevoked: true, RevokedAt: &revokedAt}
	expired := &models.RefreshToken{UserID: "u-1", TokenHash: digest, ExpiresAt: now.Add(-time.Second)}
	foreign := &models.RefreshToken{UserID: "u-2", TokenHash: digest, ExpiresAt: now.Add(time.Hour)}

	tests := []struct {
		name      string
		token     string
		setup     func(repo *RepoMock, users *UsersMock)
		wantErr   error
		wantKind  apperr.Kind
		wantValid bool
	}{
		{
			name:  "rotates live token",
			token: refresh,
			setup: func(repo *RepoMock, users *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(live, nil).Once()
				users.On("FindByID", ctx, "u-1").Return(testUser, nil).Once()
				repo.On("RotateRefreshToken", ctx, digest, mock.MatchedBy(func(next *models.RefreshToken) bool {
					return next.TokenHash != digest && next.UserID == "u-1"
				}), mock.Anything).Return(nil).Once()
			},
			wantValid: true,
		},
		{
			name:     "garbage token",
			token:    "not-a-jwt",
			setup:    func(*RepoMock, *UsersMock) {},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:     "access token presented",
			token:    access,
			setup:    func(*RepoMock, *UsersMock) {},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "unknown token",
			token: refresh,
			setup: func(repo *RepoMock, _ *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(nil, storage.ErrNotFound).Once()
			},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "revoked token",
			token: refresh,
			setup: func(repo *RepoMock, _ *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(revoked, nil).Once()
			},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "expired record",
			token: refresh,
			setup: func(repo *RepoMock, _ *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(expired, nil).Once()
			},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "record of another user",
			token: refresh,
			setup: func(repo *RepoMock, _ *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(foreign, nil).Once()
			},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "deleted user",
			token: refresh,
			setup: func(repo *RepoMock, users *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(live, nil).Once()
				users.On("FindByID", ctx, "u-1").Return(nil, errors.New("user not found")).Once()
			},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "lost rotation race",
			token: refresh,
			setup: func(repo *RepoMock, users *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(live, nil).Once()
				users.On("FindByID", ctx, "u-1").Return(testUser, nil).Once()
				repo.On("RotateRefreshToken", ctx, digest, mock.Anything, mock.Anything).Return(storage.ErrNotFound).Once()
			},
			wantErr:  ErrInvalidRefreshToken,
			wantKind: apperr.KindUnauthenticated,
		},
		{
			name:  "database outage",
			token: refresh,
			setup: func(repo *RepoMock, _ *UsersMock) {
				repo.On("GetRefreshTokenByHash", ctx, digest).Return(nil, errors.New("connection reset")).Once()
			},
			wantKind: apperr.KindExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, users := &RepoMock{}, &UsersMock{}
			tt.setup(repo, users)
			svc := New(maker, repo, users, sl.Discard(), nil)

			pair, u, err := svc.Refresh(ctx, tt.token, ClientInfo{})
			if tt.wantValid {
				require.NoError(t, err)
				assert.NotEqual(t, refresh, pair.RefreshToken)
				assert.Equal(t, "u-1", u.ID)
			} else {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			}
			repo.AssertExpectations(t)
			users.AssertExpectations(t)
		})
	}
}

// memRepo applies the same conditional revoke as the SQL store.
type memRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func (r *memRepo) CreateRefreshToken(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.TokenHash] = &cp
	return nil
}

func (r *memRepo) GetRefreshTokenByHash(_ context.Context, h string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[h]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) RotateRefreshToken(_ context.Context, oldHash string, next *models.RefreshToken, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.tokens[oldHash]
	if !ok || !old.IsValid(now) {
		return storage.ErrNotFound
	}
	old.IsRevoked = true
	old.RevokedAt = &now
	old.ReplacedByToken = next.TokenHash
	cp := *next
	r.tokens[next.TokenHash] = &cp
	return nil
}

func (r *memRepo) RevokeRefreshToken(_ context.Context, h string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[h]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	t.RevokedAt = &now
	return true, nil
}

func (r *memRepo) RevokeAllRefreshTokens(_ context.Context, userID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.IsRevoked = true
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func TestService_RefreshIsSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{tokens: map[string]*models.RefreshToken{}}
	users := &UsersMock{}
	users.On("FindByID", ctx, "u-1").Return(testUser, nil)
	svc := New(newTestMaker(), repo, users, sl.Discard(), nil)

	pair, err := svc.Issue(ctx, testUser, ClientInfo{})
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Refresh(ctx, pair.RefreshToken, ClientInfo{}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	old := repo.tokens[securetoken.Hash(pair.RefreshToken)]
	assert.True(t, old.IsRevoked)
	assert.NotEmpty(t, old.ReplacedByToken)
	_, chained := repo.tokens[old.ReplacedByToken]
	assert.True(t, chained)
}

func TestService_RevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{tokens: map[string]*models.RefreshToken{}}
	svc := New(newTestMaker(), repo, &UsersMock{}, sl.Discard(), nil)

	pair, err := svc.Issue(ctx, testUser, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, svc.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, svc.Revoke(ctx, "unknown"))
	require.NoError(t, svc.Revoke(ctx, ""))

	_, _, err = svc.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestService_RevokeAll(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	svc := New(newTestMaker(), repo, &UsersMock{}, sl.Discard(), nil)

	repo.On("RevokeAllRefreshTokens", ctx, "u-1", mock.Anything).Return(int64(3), nil).Once()
	require.NoError(t, svc.RevokeAll(ctx, "u-1"))

	repo.On("RevokeAllRefreshTokens", ctx, "u-2", mock.Anything).Return(int64(0), errors.New("db down")).Once()
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(svc.RevokeAll(ctx, "u-2")))
}

func TestService_VerifyAccess(t *testing.T) {
	svc := New(newTestMaker(), &RepoMock{}, &UsersMock{}, sl.Discard(), nil)
	expired, err := jwt.NewMaker("access-secret", "refresh-secret", -time.Minute, time.Hour, "test").
		GenerateAccessToken(jwt.Payload{UserID: "u-1"})
	require.NoError(t, err)

	_, err = svc.VerifyAccess(expired)
	assert.ErrorIs(t, err, ErrAccessTokenExpired)

	_, err = svc.VerifyAccess("garbage")
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}
