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

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type stubUserRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	revoked       []string
}

func newStubUserRepo(users ...*models.User) *stubUserRepo {
	m := &stubUserRepo{users: make(map[string]*models.User), refreshTokens: make(map[string]*models.RefreshToken)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *stubUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *stubUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (m *stubUserRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *stubUserRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.refreshTokens[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubUserRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	m.revoked = append(m.revoked, id)
	for _, t := range m.refreshTokens {
		if t.ID == id {
			t.Revoked = true
		}
	}
	return nil
}

func (m *stubUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error { return nil }

type stubStudentLookup struct {
	byUser map[string]*models.Student
}

func (m *stubStudentLookup) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if s, ok := m.byUser[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "enroll-api-test",
	}
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceLoginIssuesStudentClaim(t *testing.T) {
	users := newStubUserRepo(&models.User{
		ID: "u1", Email: "ada@campus.test", PasswordHash: hashPassword(t, "secret"),
		Role: models.RoleStudent, Active: true,
	})
	students := &stubStudentLookup{byUser: map[string]*models.Student{"u1": {ID: "s1", UserID: "u1"}}}
	svc := NewAuthService(users, students, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@campus.test", Password: "secret"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, "s1", claims.StudentID)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	users := newStubUserRepo(&models.User{
		ID: "u1", Email: "ada@campus.test", PasswordHash: hashPassword(t, "secret"),
		Role: models.RoleStudent, Active: true,
	})
	svc := NewAuthService(users, &stubStudentLookup{}, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@campus.test", Password: "wrong"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	users := newStubUserRepo(&models.User{
		ID: "u1", Email: "ada@campus.test", PasswordHash: hashPassword(t, "secret"),
		Role: models.RoleStudent, Active: false,
	})
	svc := NewAuthService(users, &stubStudentLookup{}, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@campus.test", Password: "secret"})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceAdminHasNoStudentClaim(t *testing.T) {
	users := newStubUserRepo(&models.User{
		ID: "u2", Email: "admin@campus.test", PasswordHash: hashPassword(t, "secret"),
		Role: models.RoleAdmin, Active: true,
	})
	svc := NewAuthService(users, &stubStudentLookup{}, validator.New(), zap.NewNop(), testAuthConfig())

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@campus.test", Password: "secret"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Empty(t, claims.StudentID)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	users := newStubUserRepo(&models.User{
		ID: "u1", Email: "ada@campus.test", PasswordHash: hashPassword(t, "secret"),
		Role: models.RoleStudent, Active: true,
	})
	students := &stubStudentLookup{byUser: map[string]*models.Student{"u1": {ID: "s1", UserID: "u1"}}}
	svc := NewAuthService(users, students, validator.New(), zap.NewNop(), testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "ada@campus.test", Password: "secret"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.NotEmpty(t, users.revoked)

	// The used token is revoked and cannot be replayed.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewAuthService(newStubUserRepo(), &stubStudentLookup{}, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.ValidateToken("not.a.token")
	assert.Error(t, err)
}
