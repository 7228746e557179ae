package dashboard

import (
	"context"

	"churchadmin/internal/guard"
	"churchadmin/internal/rbac"
)

// Section is one sidebar entry. Its gate decides whether the entry shows and
// re-resolves on its own after a login or organization switch.
type Section struct {
	Name string
	Path string
	Gate *guard.Gate
}

func newNavigation(resolver *guard.Resolver) []Section {
	section := func(name, path string, resource rbac.Resource, action rbac.Action) Section {
		return Section{Name: name, Path: path, Gate: resolver.Gate(guard.OrgPermission(resource, action))}
	}
	return []Section{
		section("Members", "/members", rbac.ResourceMember, rbac.ActionList),
		section("Services", "/services", rbac.ResourceChurchService, rbac.ActionList),
		section("Ministers", "/ministers", rbac.ResourceMinister, rbac.ActionList),
		section("Users", "/users", rbac.ResourceUser, rbac.ActionList),
		section("Roles", "/roles", rbac.ResourceRole, rbac.ActionList),
		section("Activity", "/activity", rbac.ResourceAnalytics, rbac.ActionRead),
	}
}

// Visible returns the sections the actor may open. Gates that already settled
// for the current session epoch answer without a permission check.
func (c *Client) Visible(ctx context.Context) []Section {
	visible := make([]Section, 0, len(c.Navigation))
	for _, s := range c.Navigation {
		decision := s.Gate.Decision()
		if decision.State == guard.StateChecking {
			decision = s.Gate.Refresh(ctx)
		}
		if decision.Allowed() {
			visible = append(visible, s)
		}
	}
	return visible
}
