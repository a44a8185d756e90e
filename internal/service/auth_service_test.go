package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/pkg/config"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type userRepoStub struct {
	users      map[string]*models.User
	created    []*models.User
	lastLogins []string
}

func (s *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := s.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

func (s *userRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range s.users {
		if user.ID == id {
			copy := *user
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) Create(ctx context.Context, user *models.User) error {
	user.ID = "u-new"
	s.created = append(s.created, user)
	s.users[user.Email] = user
	return nil
}

func (s *userRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	s.lastLogins = append(s.lastLogins, id)
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *userRepoStub, *auditSinkStub) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &userRepoStub{users: map[string]*models.User{
		"admin@example.com": {
			ID:           "u1",
			Email:        "admin@example.com",
			PasswordHash: string(hash),
			FullName:     "Ana Admin",
			Role:         models.RoleAdmin,
			Active:       true,
		},
	}}
	sink := &auditSinkStub{}
	service := NewAuthService(repo, NewAuditService(sink, zap.NewNop()), config.JWTConfig{
		Secret:     "test-secret",
		Issuer:     "gestao-api",
		Expiration: time.Hour,
	}, nil, zap.NewNop())
	return service, repo, sink
}

func TestAuthServiceLogin(t *testing.T) {
	service, repo, sink := newAuthFixture(t)

	resp, err := service.Login(context.Background(), LoginRequest{
		Email:    "admin@example.com",
		Password: "s3cret-pass",
	}, models.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, []string{"u1"}, repo.lastLogins)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, models.AuditActionLogin, sink.entries[0].Action)

	claims, err := service.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	service, _, sink := newAuthFixture(t)

	_, err := service.Login(context.Background(), LoginRequest{
		Email:    "admin@example.com",
		Password: "wrong",
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))
	assert.Empty(t, sink.entries)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	service, _, _ := newAuthFixture(t)

	_, err := service.Login(context.Background(), LoginRequest{
		Email:    "ghost@example.com",
		Password: "whatever",
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	service, repo, _ := newAuthFixture(t)
	repo.users["admin@example.com"].Active = false

	_, err := service.Login(context.Background(), LoginRequest{
		Email:    "admin@example.com",
		Password: "s3cret-pass",
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInactiveAccount.Code))
}

func TestAuthServiceRegister(t *testing.T) {
	service, repo, _ := newAuthFixture(t)

	user, err := service.Register(context.Background(), RegisterUserRequest{
		Email:    "clerk@example.com",
		Password: "longenough",
		FullName: "Carlos Clerk",
		Role:     models.RoleSecretary,
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "u-new", user.ID)
	assert.True(t, user.Active)
	assert.NotEqual(t, "longenough", user.PasswordHash)
	require.Len(t, repo.created, 1)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	service, _, _ := newAuthFixture(t)

	_, err := service.Register(context.Background(), RegisterUserRequest{
		Email:    "admin@example.com",
		Password: "longenough",
		FullName: "Dup",
		Role:     models.RoleAdmin,
	}, models.RequestMeta{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestAuthServiceValidateTokenGarbage(t *testing.T) {
	service, _, _ := newAuthFixture(t)

	_, err := service.ValidateToken("not-a-token")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceValidateTokenWrongSecret(t *testing.T) {
	service, _, _ := newAuthFixture(t)

	token := signedTokenWithSecret(t, "other-secret")
	_, err := service.ValidateToken(token)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func signedTokenWithSecret(t *testing.T, secret string) string {
	t.Helper()
	svc := NewAuthService(&userRepoStub{users: map[string]*models.User{}},
		NewAuditService(&auditSinkStub{}, zap.NewNop()),
		config.JWTConfig{Secret: secret, Issuer: "gestao-api", Expiration: time.Hour},
		nil, zap.NewNop())
	hash, err := bcrypt.GenerateFromPassword([]byte("pw-enough"), bcrypt.MinCost)
	require.NoError(t, err)
	svc.repo.(*userRepoStub).users["x@example.com"] = &models.User{
		ID: "ux", Email: "x@example.com", PasswordHash: string(hash),
		FullName: "X", Role: models.RoleSecretary, Active: true,
	}
	resp, err := svc.Login(context.Background(), LoginRequest{Email: "x@example.com", Password: "pw-enough"}, models.RequestMeta{})
	require.NoError(t, err)
	return resp.Token
}
