package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spigotd/spigot/internal/model"
)

// CreateUser inserts a new user account. The ID, CreatedAt, and UpdatedAt
// fields on u are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Scopes == nil {
		u.Scopes = model.StringSet{}
	}

	const q = `INSERT INTO users
		(username, email, fullname, password_hash, is_active, scopes, created_at, updated_at)
		VALUES
		(:username, :email, :fullname, :password_hash, :is_active, :scopes, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, u)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByUsername returns a user by their unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE username = ?", username); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by their unique email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns user accounts ordered by username with pagination.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users,
		"SELECT * FROM users ORDER BY username LIMIT ? OFFSET ?", limit, offset); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser updates an existing user account. The UpdatedAt field on u is
// refreshed automatically.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now().UTC()

	const q = `UPDATE users SET
		email = :email, fullname = :fullname, password_hash = :password_hash,
		is_active = :is_active, scopes = :scopes, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, u)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user account by ID. Fails with ErrConflict if usage
// history references the user; such accounts must be deactivated instead.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	var usageCount int
	if err := s.db.GetContext(ctx, &usageCount,
		"SELECT COUNT(*) FROM usage_records WHERE user_id = ?", id); err != nil {
		return fmt.Errorf("count user usage: %w", err)
	}
	if usageCount > 0 {
		return ErrConflict
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the total and active user counts.
func (s *Store) CountUsers(ctx context.Context) (total, active int64, err error) {
	if err = s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	if err = s.db.GetContext(ctx, &active, "SELECT COUNT(*) FROM users WHERE is_active = 1"); err != nil {
		return 0, 0, fmt.Errorf("count active users: %w", err)
	}
	return total, active, nil
}

// HasAnyAdmin reports whether at least one account carries the admin scope.
// Used for first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM users WHERE scopes LIKE '%"admin"%'`); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}
