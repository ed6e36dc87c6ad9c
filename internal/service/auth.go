package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ckd-backend/internal/models"
	"ckd-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	PhoneNumber *string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	// RegisterAdmin creates the single admin account.
	RegisterAdmin(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, time.Time, error)
	Logout(ctx context.Context, userID int64) error
	ParseToken(tokenString string) (*models.Claims, error)
}

type authService struct {
	users    repository.UserRepository
	hasher   *PasswordHasher
	secret   []byte
	tokenTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuthService(users repository.UserRepository, hasher *PasswordHasher, secret string, tokenTTL time.Duration, logger *zap.Logger) AuthService {
	return &authService{
		users:    users,
		hasher:   hasher,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.create(ctx, in, models.RolePatient)
}

func (s *authService) RegisterAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	count, err := s.users.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		s.logger.Error("Failed to count admins", zap.Error(err))
		return nil, fmt.Errorf("failed to check existing admins: %w", err)
	}
	if count > 0 {
		return nil, ErrAdminExists
	}
	return s.create(ctx, in, models.RoleAdmin)
}

func (s *authService) create(ctx context.Context, in RegisterInput, role string) (*models.User, error) {
	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.logger.Error("Failed to hash password", zap.Error(err))
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PhoneNumber:  in.PhoneNumber,
		Role:         role,
		PasswordHash: passwordHash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			if role == models.RoleAdmin {
				return nil, ErrAdminExists
			}
			return nil, ErrUserAlreadyExists
		}
		s.logger.Error("Failed to create user", zap.String("username", in.Username), zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("role", role))
	return user, nil
}

func (s *authService) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", time.Time{}, ErrInvalidCredentials
		}
		s.logger.Error("Failed to get user by username", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to retrieve user: %w", err)
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expirationTime := now.Add(s.tokenTTL)
	claims := &models.Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("User logged in successfully.", zap.Int64("user_id", user.ID))
	return tokenString, expirationTime, nil
}

// Logout is stateless: tokens simply expire.
func (s *authService) Logout(_ context.Context, userID int64) error {
	s.logger.Info("User logged out.", zap.Int64("user_id", userID))
	return nil
}

func (s *authService) ParseToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
