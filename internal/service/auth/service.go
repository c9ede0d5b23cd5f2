package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/repository"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/config"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/crypto"
	jwtpkg "github.com/ywatanabe1989/scitex-cloud-sub001/pkg/jwt"
)

// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrInactiveAccount indicates the credentials matched a deactivated account.
var ErrInactiveAccount = errors.New("auth: account is inactive")

// Service handles credential checks and API tokens.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.WorkspacedConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.WorkspacedConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, username, email, password string) (*domain.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", errors.New("username required")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}
	token, err := jwtpkg.GenerateToken(user.ID, user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Authenticate checks a username/password pair against the user store. It is
// the credential callback behind the SSH gateway: any failure, including an
// inactive account, must surface as an auth rejection, never a crash.
func (s Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveAccount
	}
	return user, nil
}

// Login authenticates a user and issues an API token.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, "", err
	}
	token, err := jwtpkg.GenerateToken(user.ID, user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the associated user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveAccount
	}
	return user, nil
}
