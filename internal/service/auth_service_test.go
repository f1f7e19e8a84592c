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

	"github.com/evidencije/coursework-api/internal/models"
	appErrors "github.com/evidencije/coursework-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	refreshTokens    map[string]*models.RefreshToken
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil && m.userByID.ID == id {
		return m.userByID, nil
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func newAuthFixture(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("lozinka123"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{
		ID: "stu-1", Email: "ana@fakultet.rs", PasswordHash: string(password),
		FirstName: "Ana", LastName: "Anić", Active: true, Role: models.RoleStudent,
	}}
	svc := newAuthFixture(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@fakultet.rs", Password: "lozinka123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "Ana Anić", res.User.FullName)
	assert.True(t, repo.lastLoginUpdated)
	assert.NotEmpty(t, repo.refreshTokens)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("lozinka123"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "stu-1", Email: "ana@fakultet.rs", PasswordHash: string(password), Active: true}}
	svc := newAuthFixture(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@fakultet.rs", Password: "pogresna"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, errCode(t, err))
}

func TestAuthServiceLoginInactive(t *testing.T) {
	password, _ := bcrypt.GenerateFromPassword([]byte("lozinka123"), bcrypt.DefaultCost)
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "stu-1", Email: "ana@fakultet.rs", PasswordHash: string(password), Active: false}}
	svc := newAuthFixture(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ana@fakultet.rs", Password: "lozinka123"})
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, errCode(t, err))
}

func TestAuthServiceRefreshRotation(t *testing.T) {
	user := &models.User{ID: "stu-1", Email: "ana@fakultet.rs", Active: true, Role: models.RoleStudent}
	repo := &mockAuthRepo{userByID: user, refreshTokens: map[string]*models.RefreshToken{
		"stari-token": {ID: "rt-1", UserID: "stu-1", Token: "stari-token", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newAuthFixture(repo)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stari-token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "stari-token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["stari-token"].Revoked)
}

func TestAuthServiceRefreshExpired(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		"istekao": {ID: "rt-1", UserID: "stu-1", Token: "istekao", ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	svc := newAuthFixture(repo)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "istekao"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(t, err))
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := newAuthFixture(&mockAuthRepo{})
	user := &models.User{ID: "prof-1", Email: "petar@fakultet.rs", FirstName: "Petar", LastName: "Petrović", Role: models.RoleProfessor}

	token, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "prof-1", claims.UserID)
	assert.Equal(t, models.RoleProfessor, claims.Role)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := newAuthFixture(&mockAuthRepo{})
	verifier := NewAuthService(&mockAuthRepo{}, validator.New(), zap.NewNop(), AuthConfig{AccessTokenSecret: "drugi-secret", AccessTokenExpiry: time.Hour})

	token, err := issuer.generateAccessToken(&models.User{ID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(t, err))
}
