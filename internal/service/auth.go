// Package service: AuthService handles registration, login and the JWT
// access tokens every protected route requires.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/port"
)

var authTracer = otel.Tracer("service/auth")

const (
	minPasswordLength = 6
	bcryptCost        = 12
)

// AuthService orchestrates authentication flows.
type AuthService struct {
	store     port.UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
	hashCost  int
	newID     func() string
	now       func() time.Time
	logger    *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.UserStore, jwtSecret string, tokenTTL time.Duration, newID func() string, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		hashCost:  bcryptCost,
		newID:     newID,
		now:       time.Now,
		logger:    logger,
	}
}

// WithHashCost lowers the bcrypt cost; tests use bcrypt.MinCost.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.hashCost = cost
	return s
}

// ============================================================
// Register: POST /auth/register
// ============================================================

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.AuthResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "nome é obrigatório"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &domain.ErrValidation{Field: "email", Message: "e-mail inválido"}
	}
	if len(req.Password) < minPasswordLength {
		return nil, &domain.ErrValidation{Field: "password", Message: "senha deve ter pelo menos 6 caracteres"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return s.issue(user)
}

// ============================================================
// Login: POST /auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "e-mail e senha são obrigatórios"}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return s.issue(user)
}

// Me returns the authenticated user.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Me")
	defer span.End()

	return s.store.GetUserByID(ctx, userID)
}

func (s *AuthService) issue(user *domain.User) (*domain.AuthResponse, error) {
	token, err := s.signAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &domain.AuthResponse{
		Token:     token,
		ExpiresIn: int(s.tokenTTL.Seconds()),
		User:      user,
	}, nil
}
