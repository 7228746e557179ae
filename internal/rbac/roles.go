package rbac

import (
	"fmt"
	"slices"
	"strings"
)

const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RolePastor     = "pastor"
	RoleMinister   = "minister"
	RoleViewer     = "viewer"
)

// Role is a named bundle of grants. Custom roles come from the backend and
// carry any subset of the catalog.
type Role struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Label          string `json:"label"`
	LocalizedLabel string `json:"localizedLabel,omitempty"`
	Description    string `json:"description,omitempty"`
	Permissions    Grants `json:"permissions"`
	BuiltIn        bool   `json:"builtIn,omitempty"`
}

func (r Role) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidGrant, errEmptyRoleName)
	}
	if err := r.Permissions.Validate(); err != nil {
		return fmt.Errorf("role %s: %w", r.Name, err)
	}
	return nil
}

func builtinRoles() []Role {
	return []Role{
		{
			Name:        RoleSuperAdmin,
			Label:       "Super admin",
			Description: "Full access to every resource",
			Permissions: Catalog(),
			BuiltIn:     true,
		},
		{
			Name:        RoleAdmin,
			Label:       "Administrator",
			Description: "Manages the organization, cannot change role definitions",
			Permissions: withoutRoleMutation(),
			BuiltIn:     true,
		},
		{
			Name:        RolePastor,
			Label:       "Pastor",
			Description: "Leads the organization, cannot change role definitions",
			Permissions: withoutRoleMutation(),
			BuiltIn:     true,
		},
		{
			Name:        RoleMinister,
			Label:       "Minister",
			Description: "Maintains members and services",
			Permissions: Grants{
				ResourceMember:        {ActionCreate, ActionRead, ActionUpdate, ActionList},
				ResourceChurchService: {ActionCreate, ActionRead, ActionUpdate, ActionList},
				ResourceAnalytics:     {ActionRead},
			},
			BuiltIn: true,
		},
		{
			Name:        RoleViewer,
			Label:       "Viewer",
			Description: "Read only access",
			Permissions: readOnly(),
			BuiltIn:     true,
		},
	}
}

func withoutRoleMutation() Grants {
	grants := Catalog()
	grants[ResourceRole] = slices.DeleteFunc(grants[ResourceRole], func(a Action) bool {
		return a == ActionCreate || a == ActionUpdate || a == ActionDelete
	})
	return grants
}

func readOnly() Grants {
	grants := Grants{}
	for _, resource := range Resources() {
		for _, action := range Actions(resource) {
			if action == ActionRead || action == ActionList {
				grants[resource] = append(grants[resource], action)
			}
		}
	}
	return grants
}

// BuiltinRoles returns fresh copies of the built-in roles.
func BuiltinRoles() []Role {
	return builtinRoles()
}

// GrantsFor returns the built-in grants for a role name. Several comma separated
// names are merged. Unknown names yield empty grants.
func GrantsFor(role string) Grants {
	merged := Grants{}
	for _, name := range ParseRoleNames(role) {
		for _, builtin := range builtinRoles() {
			if builtin.Name != name {
				continue
			}
			for resource, actions := range builtin.Permissions {
				merged[resource] = append(merged[resource], actions...)
			}
		}
	}
	normalized, err := merged.Normalize()
	if err != nil {
		return Grants{}
	}
	return normalized
}

// IsBuiltin reports whether the name belongs to a compiled-in role.
func IsBuiltin(name string) bool {
	return slices.ContainsFunc(builtinRoles(), func(r Role) bool { return r.Name == name })
}
