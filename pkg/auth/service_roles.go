package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/platinummonkey/hrauth/pkg/cache"
)

// Role holder paging bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page clamps a requested limit and offset to the paging bounds.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return min(limit, MaxPageSize), max(offset, 0)
}

func (s *Service) getRole(ctx context.Context, name string) (*Role, error) {
	return storeCall(ctx, s, "get_role", func(ctx context.Context) (*Role, error) {
		return s.store.GetRoleByName(ctx, name)
	})
}

// ListUsersByRole pages through the active holders of roleName in id order.
func (s *Service) ListUsersByRole(ctx context.Context, roleName string, limit, offset int) ([]PublicUser, error) {
	role, err := s.getRole(ctx, roleName)
	if err != nil {
		return nil, err
	}

	limit, offset = Page(limit, offset)
	users, err := storeCall(ctx, s, "list_users_by_role", func(ctx context.Context) ([]*User, error) {
		return s.store.ListUsersByRole(ctx, role.ID, limit, offset)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, NewPublicUser(u, nil, now))
	}
	return out, nil
}

// AddRolePermission adds perm to the role. Adding a held permission is a
// no-op.
func (s *Service) AddRolePermission(ctx context.Context, roleName, perm string) (*Role, error) {
	return s.updateRolePermissions(ctx, roleName, perm, func(cur []string) ([]string, bool) {
		if slices.Contains(cur, perm) {
			return cur, false
		}
		return append(cur, perm), true
	})
}

// RemoveRolePermission removes perm from the role. Removing a permission the
// role does not hold is a no-op.
func (s *Service) RemoveRolePermission(ctx context.Context, roleName, perm string) (*Role, error) {
	return s.updateRolePermissions(ctx, roleName, perm, func(cur []string) ([]string, bool) {
		next := slices.DeleteFunc(cur, func(p string) bool { return p == perm })
		return next, len(next) != len(cur)
	})
}

func (s *Service) updateRolePermissions(ctx context.Context, roleName, perm string, edit func([]string) ([]string, bool)) (*Role, error) {
	if strings.TrimSpace(perm) == "" {
		return nil, fmt.Errorf("%w: permission is required", ErrInvalidInput)
	}
	role, err := s.getRole(ctx, roleName)
	if err != nil {
		return nil, err
	}

	changed := false
	updated, err := storeCall(ctx, s, "update_role_permissions", func(ctx context.Context) (*Role, error) {
		return s.store.UpdateRolePermissions(ctx, role.ID, func(cur []string) []string {
			next, ok := edit(cur)
			changed = ok
			return next
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		_ = s.audit.LogAction(ctx, &AuditLog{
			Action: ActionRoleUpdated, Status: StatusSuccess, ResourceType: "role", ResourceID: roleName,
		})
		s.logger.WithFields(map[string]interface{}{
			"role":        updated.Name,
			"permissions": updated.Permissions,
		}).Info("role permissions updated")
	}
	return updated, nil
}

// SetRoleActive enables or disables a role. Permission checks ignore
// inactive roles from the next request on.
func (s *Service) SetRoleActive(ctx context.Context, roleName string, active bool) error {
	if err := storeExec(ctx, s, "set_role_active", func(ctx context.Context) error {
		return s.store.SetRoleActive(ctx, roleName, active)
	}); err != nil {
		return err
	}

	// Cached profiles list active role names.
	if s.cache != nil {
		s.cache.InvalidatePattern(ctx, cache.ProfilePattern())
	}
	action := ActionRoleDeactivated
	if active {
		action = ActionRoleActivated
	}
	_ = s.audit.LogAction(ctx, &AuditLog{Action: action, Status: StatusSuccess, ResourceType: "role", ResourceID: roleName})
	return nil
}
