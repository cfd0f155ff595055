package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/hrauth/pkg/auth"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// seedFile is the layout of a role seed document:
//
//	roles:
//	  - name: payroll
//	    description: Salary administration
//	    permissions: ["salaries:read", "salaries:write"]
type seedFile struct {
	Roles []RoleDefinition `yaml:"roles"`
}

// RoleCreator persists roles. *auth.Service implements it.
type RoleCreator interface {
	CreateRole(ctx context.Context, name, description string, permissions []string) (*auth.Role, error)
}

// LoadSeed parses a YAML role seed document.
func LoadSeed(r io.Reader) ([]RoleDefinition, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse role seed: %w", err)
	}

	seen := make(map[string]bool, len(f.Roles))
	for i, def := range f.Roles {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("role %d: %w", i, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("role %q defined twice", def.Name)
		}
		seen[def.Name] = true
	}
	return f.Roles, nil
}

// LoadSeedFile parses the YAML role seed at path.
func LoadSeedFile(path string) ([]RoleDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open role seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// Validate checks the role name and that each permission is either the
// wildcard or of the form resource:action.
func (d RoleDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("role name is required")
	}
	for _, p := range d.Permissions {
		if p == auth.WildcardPermission {
			continue
		}
		resource, action, ok := strings.Cut(p, ":")
		if !ok || resource == "" || action == "" {
			return fmt.Errorf("invalid permission %q on role %q", p, d.Name)
		}
	}
	return nil
}

// InitializeRoles creates each role unless one of that name already exists.
// It returns how many roles were created.
func InitializeRoles(ctx context.Context, creator RoleCreator, defs []RoleDefinition, logger *observability.Logger) (int, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	created := 0
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return created, err
		}
		_, err := creator.CreateRole(ctx, def.Name, def.Description, def.Permissions)
		switch {
		case errors.Is(err, auth.ErrDuplicateRole):
			continue
		case err != nil:
			return created, fmt.Errorf("failed to create role %s: %w", def.Name, err)
		}
		created++
		logger.WithField("role", def.Name).Info("created role")
	}
	return created, nil
}
