package rbac

import "github.com/platinummonkey/hrauth/pkg/auth"

// Resource represents a resource type guarded by permissions
type Resource string

const (
	ResourceUsers       Resource = "users"
	ResourceRoles       Resource = "roles"
	ResourceEmployees   Resource = "employees"
	ResourceDepartments Resource = "departments"
	ResourceSalaries    Resource = "salaries"
	ResourceStatistics  Resource = "statistics"
	ResourceProfile     Resource = "profile"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Permission is a resource and action pair. Its string form
// "resource:action" is what roles carry.
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Perm is shorthand for Permission{r, a}.String().
func Perm(r Resource, a Action) string {
	return Permission{Resource: r, Action: a}.String()
}

// Permissions used by the auth endpoints themselves.
var (
	PermUsersRead   = Perm(ResourceUsers, ActionRead)
	PermUsersAdmin  = Perm(ResourceUsers, ActionAdmin)
	PermRolesRead   = Perm(ResourceRoles, ActionRead)
	PermRolesAdmin  = Perm(ResourceRoles, ActionAdmin)
	PermProfileRead = Perm(ResourceProfile, ActionRead)
)

// Built-in role names
const (
	RoleUser      = "user"
	RoleHRManager = "hr_manager"
	RoleAuditor   = "auditor"
	RoleAdmin     = "admin"
)

// RoleDefinition describes a role to be created at startup.
type RoleDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// BuiltInRoles returns all built-in role definitions
func BuiltInRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleUser,
			Description: "Default role granted at registration",
			Permissions: []string{
				PermProfileRead,
				Perm(ResourceDepartments, ActionRead),
			},
		},
		{
			Name:        RoleHRManager,
			Description: "Manages employee, department and salary records",
			Permissions: []string{
				PermProfileRead,
				Perm(ResourceEmployees, ActionRead),
				Perm(ResourceEmployees, ActionWrite),
				Perm(ResourceEmployees, ActionDelete),
				Perm(ResourceDepartments, ActionRead),
				Perm(ResourceDepartments, ActionWrite),
				Perm(ResourceSalaries, ActionRead),
				Perm(ResourceSalaries, ActionWrite),
				Perm(ResourceStatistics, ActionRead),
			},
		},
		{
			Name:        RoleAuditor,
			Description: "Read-only access for auditing purposes",
			Permissions: []string{
				PermProfileRead,
				PermUsersRead,
				PermRolesRead,
				Perm(ResourceEmployees, ActionRead),
				Perm(ResourceDepartments, ActionRead),
				Perm(ResourceSalaries, ActionRead),
				Perm(ResourceStatistics, ActionRead),
			},
		},
		{
			Name:        RoleAdmin,
			Description: "Full access",
			Permissions: []string{auth.WildcardPermission},
		},
	}
}
