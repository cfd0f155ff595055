package rbac

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

// Subject is anything carrying a superuser flag and a set of assigned roles.
// *auth.Identity implements it.
type Subject interface {
	Superuser() bool
	AssignedRoles() []auth.Role
}

// HasPermission reports whether subject holds perm. Superusers hold every
// permission; otherwise some active role must carry perm or the wildcard.
func HasPermission(subject Subject, perm string) bool {
	if subject == nil {
		return false
	}
	if subject.Superuser() {
		return true
	}
	for _, r := range subject.AssignedRoles() {
		if r.IsActive && r.Grants(perm) {
			return true
		}
	}
	return false
}

// HasRole reports whether subject holds the named active role. Superusers
// hold every role.
func HasRole(subject Subject, name string) bool {
	if subject == nil {
		return false
	}
	if subject.Superuser() {
		return true
	}
	for _, r := range subject.AssignedRoles() {
		if r.IsActive && r.Name == name {
			return true
		}
	}
	return false
}

// HasAllPermissions fails closed on the first missing permission.
func HasAllPermissions(subject Subject, perms ...string) bool {
	for _, p := range perms {
		if !HasPermission(subject, p) {
			return false
		}
	}
	return subject != nil
}

// HasAnyPermission succeeds on the first held permission.
func HasAnyPermission(subject Subject, perms ...string) bool {
	for _, p := range perms {
		if HasPermission(subject, p) {
			return true
		}
	}
	return false
}

// HasAllRoles fails closed on the first missing role.
func HasAllRoles(subject Subject, names ...string) bool {
	for _, n := range names {
		if !HasRole(subject, n) {
			return false
		}
	}
	return subject != nil
}

// HasAnyRole succeeds on the first held role.
func HasAnyRole(subject Subject, names ...string) bool {
	for _, n := range names {
		if HasRole(subject, n) {
			return true
		}
	}
	return false
}

// Decision explains the outcome of a permission check.
type Decision struct {
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason,omitempty"`
	MatchedRoles []string `json:"matched_roles,omitempty"`
}

// Check evaluates perm against subject and reports which roles granted it.
func Check(subject Subject, perm string) Decision {
	if subject == nil {
		return Decision{Reason: "no subject"}
	}
	if subject.Superuser() {
		return Decision{Allowed: true, Reason: "superuser"}
	}

	var matched []string
	for _, r := range subject.AssignedRoles() {
		if r.IsActive && r.Grants(perm) {
			matched = append(matched, r.Name)
		}
	}
	if len(matched) == 0 {
		return Decision{Reason: fmt.Sprintf("no active role grants %s", perm)}
	}
	sort.Strings(matched)
	return Decision{
		Allowed:      true,
		Reason:       fmt.Sprintf("granted by roles: %v", matched),
		MatchedRoles: matched,
	}
}

// Authorize is Check narrowed by the API key scopes of id.
func Authorize(id *auth.Identity, perm string) Decision {
	if id == nil {
		return Decision{Reason: "no subject"}
	}
	if !id.HasScope(perm) {
		return Decision{Reason: fmt.Sprintf("api key scopes exclude %s", perm)}
	}
	return Check(id, perm)
}
