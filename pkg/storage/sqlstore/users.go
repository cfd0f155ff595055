package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

const userColumns = `id, uuid, username, email, password_hash, first_name, last_name,
	is_active, is_superuser, failed_login_attempts, locked_until, last_login_at,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		u                   auth.User
		lockedUntil, lastIn sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.UUID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsActive, &u.IsSuperuser, &u.FailedLoginAttempts, &lockedUntil, &lastIn,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastIn)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	now := ts(time.Now())
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	err := s.queryRow(ctx, s.db, `
		INSERT INTO users (uuid, username, email, password_hash, first_name, last_name,
			is_active, is_superuser, failed_login_attempts, locked_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		u.UUID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.IsActive, u.IsSuperuser, u.FailedLoginAttempts, nullTime(u.LockedUntil),
		ts(u.CreatedAt), ts(u.UpdatedAt),
	).Scan(&u.ID)
	return s.fail("create user", err)
}

func (s *Store) getUser(ctx context.Context, op, where string, arg interface{}) (*auth.User, error) {
	u, err := scanUser(s.queryRow(ctx, s.db, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, s.fail(op, err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.getUser(ctx, "get user", "id = ?", id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.getUser(ctx, "get user by username", "username = ?", username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.getUser(ctx, "get user by email", "email = ?", email)
}

// updateUser runs an UPDATE that must touch exactly the given user.
func (s *Store) updateUser(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return s.fail(op, err)
	}
	if rowsAffected(res) == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, u *auth.User) error {
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return s.updateUser(ctx, "update profile",
		"UPDATE users SET email = ?, first_name = ?, last_name = ?, updated_at = ? WHERE id = ?",
		u.Email, u.FirstName, u.LastName, ts(updated), u.ID)
}

func (s *Store) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	return s.updateUser(ctx, "update password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		hash, ts(time.Now()), userID)
}

func (s *Store) SetUserActive(ctx context.Context, userID int64, active bool) error {
	return s.updateUser(ctx, "set user active",
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?",
		active, ts(time.Now()), userID)
}

// SetSuperuser grants or removes the superuser flag. The service never does
// this; it is used to bootstrap the first administrator.
func (s *Store) SetSuperuser(ctx context.Context, userID int64, superuser bool) error {
	return s.updateUser(ctx, "set superuser",
		"UPDATE users SET is_superuser = ?, updated_at = ? WHERE id = ?",
		superuser, ts(time.Now()), userID)
}

func (s *Store) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	return s.updateUser(ctx, "record login",
		"UPDATE users SET last_login_at = ? WHERE id = ?", ts(at), userID)
}

func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, "delete user", "DELETE FROM users WHERE id = ?", userID)
}

// UpdateLockout reads the counters under a row lock (postgres) or inside a
// serialized transaction (sqlite), applies fn and writes the result back.
func (s *Store) UpdateLockout(ctx context.Context, userID int64, fn auth.LockoutFunc) (auth.LockoutState, error) {
	var out auth.LockoutState

	err := s.inTx(ctx, "update lockout", func(tx *sql.Tx) error {
		var (
			current     auth.LockoutState
			lockedUntil sql.NullTime
		)
		err := s.queryRow(ctx, tx,
			"SELECT failed_login_attempts, locked_until FROM users WHERE id = ?"+s.dialect.lockRow,
			userID,
		).Scan(&current.FailedAttempts, &lockedUntil)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrUserNotFound
		}
		if err != nil {
			return s.fail("update lockout", err)
		}
		current.LockedUntil = timePtr(lockedUntil)

		next, err := fn(current)
		if err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx,
			"UPDATE users SET failed_login_attempts = ?, locked_until = ? WHERE id = ?",
			next.FailedAttempts, nullTime(next.LockedUntil), userID,
		); err != nil {
			return s.fail("update lockout", err)
		}

		out = auth.LockoutState{FailedAttempts: next.FailedAttempts, LockedUntil: timePtr(nullTime(next.LockedUntil))}
		return nil
	})
	return out, err
}

func (s *Store) listUsers(ctx context.Context, op, query string, args ...interface{}) ([]*auth.User, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	out := []*auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) ListLockedUsers(ctx context.Context, now time.Time) ([]*auth.User, error) {
	return s.listUsers(ctx, "list locked users",
		"SELECT "+userColumns+" FROM users WHERE locked_until IS NOT NULL AND locked_until > ? ORDER BY id",
		ts(now))
}

func (s *Store) ListUsersByRole(ctx context.Context, roleID int64, limit, offset int) ([]*auth.User, error) {
	return s.listUsers(ctx, "list users by role", `
		SELECT `+userColumns+` FROM users
		WHERE is_active = ? AND id IN (SELECT user_id FROM user_roles WHERE role_id = ?)
		ORDER BY id
		LIMIT ? OFFSET ?`,
		true, roleID, limit, offset)
}

func (s *Store) ClearLapsedLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db,
		"UPDATE users SET failed_login_attempts = 0, locked_until = NULL WHERE locked_until IS NOT NULL AND locked_until <= ?",
		ts(now))
	if err != nil {
		return 0, s.fail("clear lapsed locks", err)
	}
	return rowsAffected(res), nil
}
