package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, username, email, password_hash, is_active, is_admin,
	twofa_enabled, twofa_secret, date_of_birth, failed_login_attempts,
	account_locked_until, session_token, created_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var twofaSecret, dob, token sql.NullString
	var lockedUntil, lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive,
		&u.IsAdmin, &u.TwoFAEnabled, &twofaSecret, &dob, &u.FailedLoginAttempts,
		&lockedUntil, &token, &u.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	u.TwoFASecret = scanNullStr(twofaSecret)
	u.DateOfBirth = scanNullStr(dob)
	u.SessionToken = scanNullStr(token)
	u.AccountLockedUntil = scanNullTime(lockedUntil)
	u.LastLogin = scanNullTime(lastLogin)
	return &u, nil
}

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(ctx context.Context, u User) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_active, is_admin, date_of_birth)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.Username, u.Email, u.PasswordHash, u.IsActive, u.IsAdmin, nullStr(u.DateOfBirth))
	if err != nil {
		return 0, fmt.Errorf("creating user: %w", err)
	}
	return res.LastInsertId()
}

// GetUser returns a user by ID, or nil if not found.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByUsername returns a user by username, or nil if not found.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByEmail returns a user by email, or nil if not found.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// SetSessionToken replaces the user's active session token. Passing an
// empty token clears it (logout).
func (s *Store) SetSessionToken(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET session_token = ? WHERE id = ?", nullStr(token), userID)
	return err
}

// RecordLogin resets lockout counters and stamps last_login.
func (s *Store) RecordLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = 0, account_locked_until = NULL,
			last_login = CURRENT_TIMESTAMP
		WHERE id = ?
	`, userID)
	return err
}

// RecordFailedLogin increments the failure counter and, at the given
// threshold, locks the account until the supplied time.
func (s *Store) RecordFailedLogin(ctx context.Context, userID int64, threshold int, lockUntil time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		if err := tx.QueryRowContext(ctx,
			"SELECT failed_login_attempts FROM users WHERE id = ?", userID).Scan(&attempts); err != nil {
			return err
		}
		attempts++
		if attempts >= threshold {
			_, err := tx.ExecContext(ctx,
				"UPDATE users SET failed_login_attempts = ?, account_locked_until = ? WHERE id = ?",
				attempts, lockUntil, userID)
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE users SET failed_login_attempts = ? WHERE id = ?", attempts, userID)
		return err
	})
}

// DeleteUser removes a user; chats, messages, attachments, documents and
// chunks cascade at the SQL layer. Callers must cascade files and vectors.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	return err
}
