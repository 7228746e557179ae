package guard

import (
	"fmt"
	"strings"

	"churchadmin/internal/rbac"
)

type Kind int

const (
	KindAuthenticated Kind = iota
	KindPermission
	KindRoles
	KindOrgPermission
)

// Guard describes one gate layer.
type Guard struct {
	Kind     Kind
	Resource rbac.Resource
	Actions  []rbac.Action
	Roles    []string
	Fallback string
}

// Authenticated gates on a signed-in actor and redirects to login otherwise.
func Authenticated() Guard {
	return Guard{Kind: KindAuthenticated}
}

// Permission gates on a remote permission check in the active organization.
func Permission(resource rbac.Resource, actions ...rbac.Action) Guard {
	return Guard{Kind: KindPermission, Resource: resource, Actions: actions}
}

// Roles gates on the actor holding one of the role names.
func Roles(names ...string) Guard {
	return Guard{Kind: KindRoles, Roles: names}
}

// OrgPermission is an authenticated route that also needs permissions in the
// active organization.
func OrgPermission(resource rbac.Resource, actions ...rbac.Action) Guard {
	return Guard{Kind: KindOrgPermission, Resource: resource, Actions: actions}
}

func (g Guard) WithFallback(text string) Guard {
	g.Fallback = text
	return g
}

func (g Guard) fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%s:", g.Kind, g.Resource)
	for _, a := range g.Actions {
		b.WriteString(string(a))
		b.WriteByte(',')
	}
	b.WriteByte(':')
	b.WriteString(strings.Join(g.Roles, ","))
	return b.String()
}

// Notice is the text shown when this guard denies.
func (g Guard) Notice() string {
	if g.Fallback != "" {
		return g.Fallback
	}
	switch g.Kind {
	case KindAuthenticated:
		return "Please sign in to continue"
	case KindRoles:
		return fmt.Sprintf("This page requires one of the roles: %s", strings.Join(g.Roles, ", "))
	case KindOrgPermission:
		return fmt.Sprintf("Required permissions: %s (%s)", resourceLabel(g.Resource), joinActions(g.Actions, ", "))
	default:
		return fmt.Sprintf("You do not have permission to %s %s", joinActions(g.Actions, " and "), resourceLabel(g.Resource))
	}
}

func resourceLabel(resource rbac.Resource) string {
	return strings.ReplaceAll(string(resource), "_", " ")
}

func joinActions(actions []rbac.Action, sep string) string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	return strings.Join(names, sep)
}
