package rbac

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Grants maps a resource to the actions allowed on it. Absence means deny.
type Grants map[Resource][]Action

// Allows reports whether every given action is granted on the resource.
func (g Grants) Allows(resource Resource, actions ...Action) bool {
	if len(actions) == 0 {
		return false
	}
	granted := g[resource]
	for _, action := range actions {
		if !slices.Contains(granted, action) {
			return false
		}
	}
	return true
}

// Validate checks every grant against the catalog.
func (g Grants) Validate() error {
	var invalid []string
	for resource, actions := range g {
		if !ValidResource(resource) {
			invalid = append(invalid, fmt.Sprintf("unknown resource %q", resource))
			continue
		}
		for _, action := range actions {
			if !Valid(resource, action) {
				invalid = append(invalid, fmt.Sprintf("%s is not an action of %s", action, resource))
			}
		}
	}
	if len(invalid) > 0 {
		slices.Sort(invalid)
		return fmt.Errorf("%w: %s", ErrInvalidGrant, strings.Join(invalid, "; "))
	}
	return nil
}

// Normalize returns a copy with duplicates removed, actions in catalog order
// and resources without actions dropped. Invalid grants are reported.
func (g Grants) Normalize() (Grants, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	normalized := make(Grants, len(g))
	for _, resource := range Resources() {
		granted := g[resource]
		var actions []Action
		for _, action := range Actions(resource) {
			if slices.Contains(granted, action) {
				actions = append(actions, action)
			}
		}
		if len(actions) > 0 {
			normalized[resource] = actions
		}
	}
	return normalized, nil
}

// Permissions flattens the grants into pairs in catalog order.
func (g Grants) Permissions() []Permission {
	var perms []Permission
	for _, resource := range Resources() {
		for _, action := range Actions(resource) {
			if slices.Contains(g[resource], action) {
				perms = append(perms, Permission{Resource: resource, Action: action})
			}
		}
	}
	return perms
}

func (g Grants) Clone() Grants {
	clone := make(Grants, len(g))
	for resource, actions := range g {
		clone[resource] = slices.Clone(actions)
	}
	return clone
}

// GrantsFromPermissions builds grants from individual pairs.
func GrantsFromPermissions(perms ...Permission) (Grants, error) {
	grants := Grants{}
	for _, perm := range perms {
		grants[perm.Resource] = append(grants[perm.Resource], perm.Action)
	}
	return grants.Normalize()
}

var errEmptyRoleName = errors.New("role name is required")
