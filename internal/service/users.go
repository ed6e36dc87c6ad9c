package service

import (
	"context"
	"errors"
	"fmt"

	"ckd-backend/internal/models"
	"ckd-backend/internal/repository"

	"go.uber.org/zap"
)

// UpdateAccountInput carries the fields a user may change on their own
// account. Nil fields are left untouched.
type UpdateAccountInput struct {
	Email       *string
	PhoneNumber *string
	Password    *string
}

type UserService interface {
	GetProfile(ctx context.Context, userID int64) (*models.User, error)
	UpdateAccount(ctx context.Context, userID int64, in UpdateAccountInput) (*models.User, error)
	ListUsers(ctx context.Context, actor Actor) ([]models.User, error)
	GetUser(ctx context.Context, actor Actor, userID int64) (*models.User, error)
}

type userService struct {
	users  repository.UserRepository
	hasher *PasswordHasher
	logger *zap.Logger
}

func NewUserService(users repository.UserRepository, hasher *PasswordHasher, logger *zap.Logger) UserService {
	return &userService{users: users, hasher: hasher, logger: logger}
}

func (s *userService) GetProfile(ctx context.Context, userID int64) (*models.User, error) {
	return s.get(ctx, userID)
}

func (s *userService) get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get user", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *userService) UpdateAccount(ctx context.Context, userID int64, in UpdateAccountInput) (*models.User, error) {
	user, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Email != nil {
		user.Email = *in.Email
	}
	if in.PhoneNumber != nil {
		if *in.PhoneNumber == "" {
			user.PhoneNumber = nil
		} else {
			user.PhoneNumber = in.PhoneNumber
		}
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrUserAlreadyExists
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrUserNotFound
		}
		s.logger.Error("Failed to update user", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, actor Actor) ([]models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.logger.Error("Failed to list users", zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *userService) GetUser(ctx context.Context, actor Actor, userID int64) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.get(ctx, userID)
}
