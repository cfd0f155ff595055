package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

const roleColumns = "id, name, description, permissions, is_active, created_at, updated_at"

func scanRole(row scanner) (auth.Role, error) {
	var (
		r     auth.Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &perms, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return r, err
	}
	list, err := decodeList(perms)
	if err != nil {
		return r, err
	}
	r.Permissions = list
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	perms, err := encodeList(r.Permissions)
	if err != nil {
		return auth.StoreError("create role", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = ts(time.Now())
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	err = s.queryRow(ctx, s.db, `
		INSERT INTO roles (name, description, permissions, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		r.Name, r.Description, perms, r.IsActive, ts(r.CreatedAt), ts(r.UpdatedAt),
	).Scan(&r.ID)
	return s.fail("create role", err)
}

// SetRoleActive enables or disables a role by name.
func (s *Store) SetRoleActive(ctx context.Context, name string, active bool) error {
	res, err := s.exec(ctx, s.db, "UPDATE roles SET is_active = ?, updated_at = ? WHERE name = ?",
		active, ts(time.Now()), name)
	if err != nil {
		return s.fail("set role active", err)
	}
	if rowsAffected(res) == 0 {
		return auth.ErrRoleNotFound
	}
	return nil
}

func (s *Store) UpdateRolePermissions(ctx context.Context, roleID int64, fn auth.PermissionsFunc) (*auth.Role, error) {
	var out auth.Role

	err := s.inTx(ctx, "update role permissions", func(tx *sql.Tx) error {
		r, err := scanRole(s.queryRow(ctx, tx, "SELECT "+roleColumns+" FROM roles WHERE id = ?"+s.dialect.lockRow, roleID))
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrRoleNotFound
		}
		if err != nil {
			return s.fail("update role permissions", err)
		}

		r.Permissions = fn(r.Permissions)
		perms, err := encodeList(r.Permissions)
		if err != nil {
			return auth.StoreError("update role permissions", err)
		}
		r.UpdatedAt = ts(time.Now())
		if _, err := s.exec(ctx, tx, "UPDATE roles SET permissions = ?, updated_at = ? WHERE id = ?",
			perms, r.UpdatedAt, roleID); err != nil {
			return s.fail("update role permissions", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	r, err := scanRole(s.queryRow(ctx, s.db, "SELECT "+roleColumns+" FROM roles WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrRoleNotFound
	}
	if err != nil {
		return nil, s.fail("get role", err)
	}
	return &r, nil
}

func (s *Store) listRoles(ctx context.Context, op, query string, args ...interface{}) ([]auth.Role, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	out := []auth.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	return s.listRoles(ctx, "list roles", "SELECT "+roleColumns+" FROM roles ORDER BY name")
}

func (s *Store) GetUserRoles(ctx context.Context, userID int64) ([]auth.Role, error) {
	return s.listRoles(ctx, "get user roles", `
		SELECT r.id, r.name, r.description, r.permissions, r.is_active, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.name`, userID)
}

func (s *Store) AssignRole(ctx context.Context, grant auth.UserRole) (bool, error) {
	var created bool

	err := s.inTx(ctx, "assign role", func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, "SELECT 1 FROM users WHERE id = ?", grant.UserID, auth.ErrUserNotFound); err != nil {
			return err
		}
		if err := s.mustExist(ctx, tx, "SELECT 1 FROM roles WHERE id = ?", grant.RoleID, auth.ErrRoleNotFound); err != nil {
			return err
		}

		grantedAt := grant.GrantedAt
		if grantedAt.IsZero() {
			grantedAt = time.Now()
		}
		var grantedBy sql.NullInt64
		if grant.GrantedBy != nil {
			grantedBy = sql.NullInt64{Int64: *grant.GrantedBy, Valid: true}
		}

		res, err := s.exec(ctx, tx, `
			INSERT INTO user_roles (user_id, role_id, granted_at, granted_by)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, role_id) DO NOTHING`,
			grant.UserID, grant.RoleID, ts(grantedAt), grantedBy)
		if err != nil {
			return s.fail("assign role", err)
		}
		created = rowsAffected(res) > 0
		return nil
	})
	return created, err
}

func (s *Store) mustExist(ctx context.Context, tx *sql.Tx, query string, id int64, missing error) error {
	var one int
	err := s.queryRow(ctx, tx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	if err != nil {
		return s.fail("lookup", err)
	}
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.exec(ctx, s.db, "DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	return s.fail("revoke role", err)
}
