package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/pkg/config"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type userRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// LoginRequest carries staff credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and its expiry.
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// RegisterUserRequest creates a staff account.
type RegisterUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=8"`
	FullName string          `json:"full_name" validate:"required"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN SECRETARY"`
}

// AuthService authenticates staff and issues JWT access tokens.
type AuthService struct {
	repo      userRepository
	audit     *AuditService
	cfg       config.JWTConfig
	validator *validator.Validate
	logger    *zap.Logger
	clock     func() time.Time
}

// NewAuthService constructs AuthService.
func NewAuthService(repo userRepository, audit *AuditService, cfg config.JWTConfig, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		repo:      repo,
		audit:     audit,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Login verifies credentials and issues a signed token. Successful
// logins are audited with the acting user as the actor.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, meta models.RequestMeta) (*LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	now := s.clock()
	expiresAt := now.Add(s.cfg.Expiration)
	claims := models.JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	meta.ActorID = &user.ID
	if _, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionLogin,
		Entity: "user",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		return nil, user.ID, nil
	}); err != nil {
		s.logger.Warn("login audit failed", zap.Error(err))
	}

	return &LoginResponse{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Logout records the logout in the audit trail. Tokens are stateless, so
// there is nothing to revoke server-side.
func (s *AuthService) Logout(ctx context.Context, meta models.RequestMeta) error {
	entityID := ""
	if meta.ActorID != nil {
		entityID = *meta.ActorID
	}
	_, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionLogout,
		Entity: "user",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		return nil, entityID, nil
	})
	return err
}

// Register creates a staff account with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, req RegisterUserRequest, meta models.RequestMeta) (*models.User, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "user",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.validator.Struct(req); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
		}
		if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
			return nil, "", appErrors.Clone(appErrors.ErrConflict, "email already registered")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
		}
		user := &models.User{
			Email:        req.Email,
			PasswordHash: string(hash),
			FullName:     req.FullName,
			Role:         req.Role,
			Active:       true,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
		}
		return user, user.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.User), nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, appErrors.ErrUnauthorized
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}
