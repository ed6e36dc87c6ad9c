package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ckd-backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	CountByRole(ctx context.Context, role string) (int, error)
}

type userRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewUserRepository(db *sqlx.DB, logger *zap.Logger) UserRepository {
	return &userRepository{db: db, logger: logger}
}

const userColumns = `id, username, email, phone_number, role, password_hash, created_at`

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	return insertUser(ctx, r.db, user)
}

func insertUser(ctx context.Context, q sqlx.ExtContext, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := q.Rebind(`INSERT INTO users (username, email, phone_number, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	err := q.QueryRowxContext(ctx, query,
		user.Username, user.Email, user.PhoneNumber, user.Role, user.PasswordHash, user.CreatedAt,
	).Scan(&user.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", user.Username, ErrConflict)
	}
	return err
}

func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser writes the mutable account fields: email, phone and password.
func (r *userRepository) UpdateUser(ctx context.Context, user *models.User) error {
	query := r.db.Rebind(`UPDATE users SET email = ?, phone_number = ?, password_hash = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, user.Email, user.PhoneNumber, user.PasswordHash, user.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %q: %w", user.Email, ErrConflict)
	}
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *userRepository) CountByRole(ctx context.Context, role string) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM users WHERE role = ?`)
	if err := r.db.GetContext(ctx, &count, query, role); err != nil {
		return 0, err
	}
	return count, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
