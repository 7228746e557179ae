// Package rbac holds the closed catalog of resources and actions the dashboard
// gates on, and the built-in roles expressed over that catalog.
package rbac

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Resource string

const (
	ResourceMember        Resource = "member"
	ResourceChurchService Resource = "church_service"
	ResourceMinister      Resource = "minister"
	ResourceAnalytics     Resource = "analytics"
	ResourceRole          Resource = "role"
	ResourceUser          Resource = "user"
	ResourceSession       Resource = "session"
)

type Action string

const (
	ActionCreate        Action = "create"
	ActionRead          Action = "read"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionList          Action = "list"
	ActionEnroll        Action = "enroll"
	ActionExit          Action = "exit"
	ActionBan           Action = "ban"
	ActionSetPassword   Action = "set-password"
	ActionAssign        Action = "assign"
	ActionRevoke        Action = "revoke"
	ActionApprove       Action = "approve"
	ActionSuspend       Action = "suspend"
	ActionManageAccess  Action = "manage-access"
	ActionViewReports   Action = "view-reports"
	ActionViewDashboard Action = "view-dashboard"
	ActionExportData    Action = "export-data"
	ActionImpersonate   Action = "impersonate"
	ActionSetRole       Action = "set-role"
)

var ErrInvalidGrant = errors.New("invalid grant")

// Permission is a single (resource, action) pair.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

func (p Permission) String() string {
	return fmt.Sprintf("%s:%s", p.Resource, p.Action)
}

type catalogEntry struct {
	resource Resource
	actions  []Action
}

var catalog = []catalogEntry{
	{ResourceMember, []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionApprove, ActionSuspend, ActionExportData}},
	{ResourceChurchService, []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionEnroll, ActionExit, ActionManageAccess}},
	{ResourceMinister, []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionAssign, ActionRevoke, ActionViewReports, ActionViewDashboard}},
	{ResourceAnalytics, []Action{ActionRead}},
	{ResourceRole, []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionAssign}},
	{ResourceUser, []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionList, ActionBan, ActionSetRole, ActionSetPassword, ActionImpersonate}},
	{ResourceSession, []Action{ActionList, ActionRevoke, ActionDelete}},
}

// Resources returns every resource in catalog order.
func Resources() []Resource {
	resources := make([]Resource, 0, len(catalog))
	for _, entry := range catalog {
		resources = append(resources, entry.resource)
	}
	return resources
}

// Actions returns the actions valid for the resource, or nil for an unknown resource.
func Actions(resource Resource) []Action {
	for _, entry := range catalog {
		if entry.resource == resource {
			return slices.Clone(entry.actions)
		}
	}
	return nil
}

func ValidResource(resource Resource) bool {
	return Actions(resource) != nil
}

// Valid reports whether the action belongs to the resource's catalog entry.
func Valid(resource Resource, action Action) bool {
	return slices.Contains(Actions(resource), action)
}

// Permissions returns the full cross-product of the catalog as valid pairs only.
func Permissions() []Permission {
	var perms []Permission
	for _, entry := range catalog {
		for _, action := range entry.actions {
			perms = append(perms, Permission{Resource: entry.resource, Action: action})
		}
	}
	return perms
}

// Catalog returns a copy of the resource to actions mapping.
func Catalog() Grants {
	grants := make(Grants, len(catalog))
	for _, entry := range catalog {
		grants[entry.resource] = slices.Clone(entry.actions)
	}
	return grants
}

// ParseRoleNames splits a role string that may carry several comma separated names.
func ParseRoleNames(role string) []string {
	var names []string
	for _, name := range strings.Split(role, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
