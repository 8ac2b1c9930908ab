package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/password"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/securetoken"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/twofactor"
	"github.com/magabrotheeeer/plugin-licensing/internal/models"
	"github.com/magabrotheeeer/plugin-licensing/internal/storage"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *RepoMock) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) GetUserByPasswordResetToken(ctx context.Context, digest string, now time.Time) (*models.User, error) {
	args := m.Called(ctx, digest, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) GetUserByEmailVerificationToken(ctx context.Context, digest string, now time.Time) (*models.User, error) {
	args := m.Called(ctx, digest, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) UpdateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *RepoMock) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return m.Called(ctx, userID, hash).Error(0)
}

func (m *RepoMock) SetPasswordResetToken(ctx context.Context, userID, digest string, expires time.Time) error {
	return m.Called(ctx, userID, digest, expires).Error(0)
}

func (m *RepoMock) SetEmailVerificationToken(ctx context.Context, userID, digest string, expires time.Time) error {
	return m.Called(ctx, userID, digest, expires).Error(0)
}

func (m *RepoMock) MarkEmailVerified(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *RepoMock) StageTwoFactor(ctx context.Context, userID, secret string, digests []string) (bool, error) {
	args := m.Called(ctx, userID, secret, digests)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) EnableTwoFactor(ctx context.Context, userID, secret string) (bool, error) {
	args := m.Called(ctx, userID, secret)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) ClearTwoFactor(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *RepoMock) GetLockState(ctx context.Context, userID string) (storage.LockoutState, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(storage.LockoutState), args.Error(1)
}

func (m *RepoMock) RegisterFailedLogin(ctx context.Context, userID string, now time.Time, maxAttempts int, lockUntil time.Time) (storage.LockoutState, error) {
	args := m.Called(ctx, userID, now, maxAttempts, lockUntil)
	return args.Get(0).(storage.LockoutState), args.Error(1)
}

func (m *RepoMock) ResetLoginAttempts(ctx context.Context, userID string, now time.Time) (bool, error) {
	args := m.Called(ctx, userID, now)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) ConsumeBackupCode(ctx context.Context, userID, digest string) (bool, error) {
	args := m.Called(ctx, userID, digest)
	return args.Bool(0), args.Error(1)
}

func newTestStore(repo *RepoMock) *Store {
	s := New(repo, Policy{BcryptCost: bcrypt.MinCost})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := New(&RepoMock{}, Policy{})
	assert.Equal(t, DefaultPolicy, s.policy)
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("hashes password and lowercases email", func(t *testing.T) {
		repo := &RepoMock{}
		s := newTestStore(repo)
		repo.On("CreateUser", ctx, mock.MatchedBy(func(u *models.User) bool {
			return u.Email == "ann@example.com" && u.PasswordHash != "" && u.Role == models.RoleUser
		})).Return(nil).Once()

		u := &models.User{Name: "Ann", Email: "  Ann@Example.com "}
		require.NoError(t, s.Create(ctx, u, "Secret123!"))

		assert.True(t, s.ComparePassword(u, "Secret123!"))
		assert.False(t, s.ComparePassword(u, "wrong"))
		_, dirty := u.PendingPassword()
		assert.False(t, dirty)
		repo.AssertExpectations(t)
	})

	t.Run("duplicate email", func(t *testing.T) {
		repo := &RepoMock{}
		s := newTestStore(repo)
		repo.On("CreateUser", ctx, mock.Anything).Return(storage.ErrConflict).Once()

		err := s.Create(ctx, &models.User{Email: "a@example.com"}, "Secret123!")
		assert.ErrorIs(t, err, ErrEmailTaken)
	})
}

func TestStore_SaveHashesOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("UpdateUser", ctx, mock.Anything).Return(nil)

	hash, err := password.GetHash("Original1!", bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{ID: "u-1", PasswordHash: hash}

	u.Name = "Renamed"
	require.NoError(t, s.Save(ctx, u))
	assert.Equal(t, hash, u.PasswordHash)
	repo.AssertNotCalled(t, "UpdatePasswordHash", mock.Anything, mock.Anything, mock.Anything)

	repo.On("UpdatePasswordHash", ctx, "u-1", mock.Anything).Return(nil).Once()
	u.SetPassword("Changed1!")
	u.PasswordResetToken = "pending-digest"
	require.NoError(t, s.Save(ctx, u))
	assert.NotEqual(t, hash, u.PasswordHash)
	assert.True(t, s.ComparePassword(u, "Changed1!"))
	assert.Empty(t, u.PasswordResetToken)

	changed := u.PasswordHash
	require.NoError(t, s.Save(ctx, u))
	assert.Equal(t, changed, u.PasswordHash)
	repo.AssertNumberOfCalls(t, "UpdatePasswordHash", 1)
	repo.AssertCalled(t, "UpdatePasswordHash", ctx, "u-1", changed)
}

func TestStore_FindByEmail(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)

	repo.On("GetUserByEmail", ctx, "ann@example.com").Return(&models.User{ID: "u-1"}, nil).Once()
	repo.On("GetUserByEmail", ctx, "nobody@example.com").Return(nil, storage.ErrNotFound).Once()

	u, err := s.FindByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)

	_, err = s.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_FindByIDSkipsDeleted(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("GetUserByID", ctx, "u-1").Return(&models.User{ID: "u-1", IsDeleted: true}, nil).Once()

	_, err := s.FindByID(ctx, "u-1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_ResetTokenPersistsDigestOnly(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("SetPasswordResetToken", ctx, "u-1", mock.Anything, s.now().Add(time.Hour)).Return(nil).Once()

	u := &models.User{ID: "u-1"}
	plain, err := s.GeneratePasswordResetToken(ctx, u)
	require.NoError(t, err)

	assert.Len(t, plain, 64)
	assert.NotEqual(t, plain, u.PasswordResetToken)
	assert.Equal(t, securetoken.Hash(plain), u.PasswordResetToken)
	require.NotNil(t, u.PasswordResetExpires)
	assert.Equal(t, s.now().Add(time.Hour), *u.PasswordResetExpires)

	repo.On("GetUserByPasswordResetToken", ctx, securetoken.Hash(plain), s.now()).Return(u, nil).Once()
	found, err := s.FindByPasswordResetToken(ctx, plain)
	require.NoError(t, err)
	assert.Same(t, u, found)
	repo.AssertExpectations(t)
}

func TestStore_VerificationToken(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("SetEmailVerificationToken", ctx, "u-1", mock.Anything, s.now().Add(24*time.Hour)).Return(nil).Once()

	u := &models.User{ID: "u-1"}
	plain, err := s.GenerateEmailVerificationToken(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, securetoken.Hash(plain), u.EmailVerificationToken)
	assert.Equal(t, s.now().Add(24*time.Hour), *u.EmailVerificationExpires)
	repo.AssertCalled(t, "SetEmailVerificationToken", ctx, "u-1", u.EmailVerificationToken, *u.EmailVerificationExpires)

	_, err = s.FindByEmailVerificationToken(ctx, "")
	assert.ErrorIs(t, err, ErrUserNotFound)

	repo.On("MarkEmailVerified", ctx, "u-1").Return(nil).Once()
	require.NoError(t, s.MarkEmailVerified(ctx, u))
	assert.True(t, u.IsEmailVerified)
	assert.Empty(t, u.EmailVerificationToken)
	repo.AssertExpectations(t)
}

func TestStore_TokenWritesNeverTouchSecrets(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("SetPasswordResetToken", ctx, "u-1", mock.Anything, mock.Anything).Return(nil).Once()

	u := &models.User{ID: "u-1", TwoFactorBackupCodes: []string{"d1", "d2"}}
	u.SetPassword("Pending1!")
	_, err := s.GeneratePasswordResetToken(ctx, u)
	require.NoError(t, err)

	repo.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdatePasswordHash", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestStore_TwoFactorTransitions(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	digests := []string{"d1"}
	u := &models.User{ID: "u-1"}

	repo.On("StageTwoFactor", ctx, "u-1", "SECRET", digests).Return(true, nil).Once()
	require.NoError(t, s.StageTwoFactor(ctx, u, "SECRET", digests))
	assert.Equal(t, "SECRET", u.TwoFactorSecret)
	assert.False(t, u.TwoFactorEnabled)

	repo.On("EnableTwoFactor", ctx, "u-1", "SECRET").Return(true, nil).Once()
	require.NoError(t, s.EnableTwoFactor(ctx, u))
	assert.True(t, u.TwoFactorEnabled)

	repo.On("StageTwoFactor", ctx, "u-1", "OTHER", digests).Return(false, nil).Once()
	assert.ErrorIs(t, s.StageTwoFactor(ctx, u, "OTHER", digests), ErrTwoFactorState)
	assert.Equal(t, "SECRET", u.TwoFactorSecret)

	repo.On("ClearTwoFactor", ctx, "u-1").Return(nil).Once()
	require.NoError(t, s.DisableTwoFactor(ctx, u))
	assert.False(t, u.TwoFactorEnabled)
	assert.Empty(t, u.TwoFactorSecret)
	assert.Nil(t, u.TwoFactorBackupCodes)

	repo.On("EnableTwoFactor", ctx, "u-1", "").Return(false, nil).Once()
	assert.ErrorIs(t, s.EnableTwoFactor(ctx, u), ErrTwoFactorState)
	repo.AssertExpectations(t)
}

func TestStore_RegisterFailedLogin(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	lock := s.now().Add(2 * time.Hour)
	repo.On("RegisterFailedLogin", ctx, "u-1", s.now(), 5, lock).
		Return(storage.LockoutState{Attempts: 5, LockUntil: &lock}, nil).Once()

	u := &models.User{ID: "u-1", LoginAttempts: 4}
	require.NoError(t, s.RegisterFailedLogin(ctx, u))
	assert.Equal(t, 5, u.LoginAttempts)
	assert.True(t, u.IsLocked(s.now()))
}

func TestStore_RegisterFailedLoginAfterLock(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	lock := s.now().Add(time.Hour)
	repo.On("RegisterFailedLogin", ctx, "u-1", s.now(), 5, s.now().Add(2*time.Hour)).
		Return(storage.LockoutState{Attempts: 6, LockUntil: &lock}, nil).Once()

	err := s.RegisterFailedLogin(ctx, &models.User{ID: "u-1"})
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestStore_CheckLock(t *testing.T) {
	ctx := context.Background()
	lock := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	past := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		state   storage.LockoutState
		repoErr error
		wantErr error
	}{
		{name: "unlocked", state: storage.LockoutState{Attempts: 2}},
		{name: "lock in force", state: storage.LockoutState{Attempts: 5, LockUntil: &lock}, wantErr: ErrAccountLocked},
		{name: "lock elapsed", state: storage.LockoutState{Attempts: 5, LockUntil: &past}},
		{name: "row gone", repoErr: storage.ErrNotFound, wantErr: ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &RepoMock{}
			s := newTestStore(repo)
			repo.On("GetLockState", ctx, "u-1").Return(tt.state, tt.repoErr).Once()

			u := &models.User{ID: "u-1"}
			err := s.CheckLock(ctx, u)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.state.Attempts, u.LoginAttempts)
		})
	}
}

func TestStore_ResetLoginAttempts(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("ResetLoginAttempts", ctx, "u-1", s.now()).Return(true, nil).Once()

	u := &models.User{ID: "u-1", LoginAttempts: 3}
	require.NoError(t, s.ResetLoginAttempts(ctx, u))
	assert.Zero(t, u.LoginAttempts)
	assert.Nil(t, u.LockUntil)
	require.NotNil(t, u.LastLoginAt)
}

func TestStore_ResetLoginAttemptsKeepsConcurrentLock(t *testing.T) {
	ctx := context.Background()
	repo := &RepoMock{}
	s := newTestStore(repo)
	repo.On("ResetLoginAttempts", ctx, "u-1", s.now()).Return(false, nil).Once()

	u := &models.User{ID: "u-1", LoginAttempts: 4}
	assert.ErrorIs(t, s.ResetLoginAttempts(ctx, u), ErrAccountLocked)
	assert.Equal(t, 4, u.LoginAttempts)
	assert.Nil(t, u.LastLoginAt)
}

func TestStore_ConsumeBackupCode(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAA1111", "BBBB2222"}

	tests := []struct {
		name     string
		code     string
		consumed bool
		repoErr  error
		want     bool
		wantErr  bool
		left     int
	}{
		{name: "unknown code", code: "CCCC3333", want: false, left: 2},
		{name: "valid code", code: "aaaa1111", consumed: true, want: true, left: 1},
		{name: "raced with another login", code: "AAAA1111", consumed: false, want: false, left: 2},
		{name: "repository failure", code: "AAAA1111", repoErr: errors.New("db down"), wantErr: true, left: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &RepoMock{}
			s := newTestStore(repo)
			u := &models.User{ID: "u-1", TwoFactorBackupCodes: twofactor.HashBackupCodes(codes)}
			repo.On("ConsumeBackupCode", ctx, "u-1", twofactor.HashBackupCode(tt.code)).
				Return(tt.consumed, tt.repoErr).Maybe()

			ok, err := s.ConsumeBackupCode(ctx, u, tt.code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
			assert.Len(t, u.TwoFactorBackupCodes, tt.left)
		})
	}
}
