package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail       *models.User
	refreshTokens     map[string]*models.RefreshToken
	auditLogs         []*models.AuditLog
	lastLoginUpdated  bool
	userTokensRevoked bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.userTokensRevoked = true
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.TokenHash] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newAuthServiceForTest(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "lms-api",
	})
}

func studentWithPassword(t *testing.T, password string, verified bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "u-kasun", Name: "Kasun", Email: "gs2024001@uni.lk", RegistrationNo: "GS2024001", PasswordHash: string(hash), Role: models.RoleStudent, Verified: verified}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: studentWithPassword(t, "password", false)}
	svc := newAuthServiceForTest(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: " GS2024001@uni.lk ", Password: "password", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, "GS2024001", res.User.RegistrationNo)
	assert.False(t, res.User.Verified)
	assert.True(t, repo.lastLoginUpdated)

	require.Len(t, repo.refreshTokens, 1)
	stored, ok := repo.refreshTokens[hashRefreshToken(res.RefreshToken)]
	require.True(t, ok)
	assert.NotEqual(t, res.RefreshToken, stored.TokenHash)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: studentWithPassword(t, "password", true)}
	svc := newAuthServiceForTest(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "gs2024001@uni.lk", Password: "wrong"})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@uni.lk", Password: "password"})
	require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "password"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Empty(t, repo.refreshTokens)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: studentWithPassword(t, "password", true)}
	svc := newAuthServiceForTest(repo)
	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "gs2024001@uni.lk", Password: "password"})
	require.NoError(t, err)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)
	assert.NotNil(t, repo.refreshTokens[hashRefreshToken(login.RefreshToken)].RevokedAt)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "unknown"})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceRefreshTokenExpired(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: studentWithPassword(t, "password", true)}
	repo.refreshTokens = map[string]*models.RefreshToken{
		hashRefreshToken("old"): {ID: "rt1", UserID: "u-kasun", TokenHash: hashRefreshToken("old"), ExpiresAt: time.Now().Add(-time.Minute)},
	}
	svc := newAuthServiceForTest(repo)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old"})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthServiceLogout(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: studentWithPassword(t, "password", true)}
	svc := newAuthServiceForTest(repo)
	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "gs2024001@uni.lk", Password: "password"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "u-other", models.ClientMeta{})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "u-kasun", models.ClientMeta{IP: "10.0.0.1"}))
	assert.NotNil(t, repo.refreshTokens[hashRefreshToken(login.RefreshToken)].RevokedAt)
	assert.Equal(t, models.AuditActionLogout, repo.auditLogs[len(repo.auditLogs)-1].Action)
}

func TestAuthServiceChangePassword(t *testing.T) {
	user := studentWithPassword(t, "old-password", true)
	oldHash := user.PasswordHash
	repo := &mockAuthRepo{userByEmail: user}
	svc := newAuthServiceForTest(repo)

	err := svc.ChangePassword(context.Background(), "u-kasun", models.ChangePasswordRequest{OldPassword: "nope", NewPassword: "newpassword"})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	require.NoError(t, svc.ChangePassword(context.Background(), "u-kasun", models.ChangePasswordRequest{OldPassword: "old-password", NewPassword: "newpassword"}))
	assert.NotEqual(t, oldHash, repo.userByEmail.PasswordHash)
	assert.True(t, repo.userTokensRevoked)
}

func TestValidateToken(t *testing.T) {
	svc := newAuthServiceForTest(&mockAuthRepo{})
	user := &models.User{ID: "u-perera", Name: "Dr. Perera", Email: "perera@uni.lk", Role: models.RoleLecturer}
	token, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-perera", claims.UserID)
	assert.Equal(t, models.RoleLecturer, claims.Role)
	assert.Equal(t, "Dr. Perera", claims.Name)

	other := NewAuthService(&mockAuthRepo{}, nil, nil, AuthConfig{AccessTokenSecret: "different"})
	_, err = other.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	expired := newAuthServiceForTest(&mockAuthRepo{})
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.generateAccessToken(user)
	require.NoError(t, err)
	_, err = svc.ValidateToken(stale)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
