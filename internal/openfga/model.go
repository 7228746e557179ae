package openfga

import (
	"encoding/json"
	"fmt"
	"strings"

	"churchadmin/internal/rbac"

	"github.com/openfga/go-sdk/client"
)

const (
	TypeUser         = "user"
	TypeRole         = "role"
	TypeOrganization = "organization"

	RelationAssignee = "assignee"
)

// Relation names the organization relation that grants action on resource,
// e.g. member_export_data.
func Relation(resource rbac.Resource, action rbac.Action) string {
	return strings.ReplaceAll(string(resource)+"_"+string(action), "-", "_")
}

func UserObject(userID string) string {
	return TypeUser + ":" + userID
}

func OrganizationObject(organizationID string) string {
	return TypeOrganization + ":" + organizationID
}

// RoleObject scopes a role to one organization so the same role name can be
// granted differently per church.
func RoleObject(organizationID, role string) string {
	return TypeRole + ":" + organizationID + "." + role
}

// AuthorizationModel derives the model from the permission catalog: one
// organization relation per catalog pair, assignable to users directly or
// through a role.
func AuthorizationModel() (client.ClientWriteAuthorizationModelRequest, error) {
	relations := map[string]any{}
	metadata := map[string]any{}
	for _, p := range rbac.Permissions() {
		name := Relation(p.Resource, p.Action)
		relations[name] = map[string]any{"this": map[string]any{}}
		metadata[name] = map[string]any{
			"directly_related_user_types": []any{
				map[string]any{"type": TypeUser},
				map[string]any{"type": TypeRole, "relation": RelationAssignee},
			},
		}
	}

	doc := map[string]any{
		"schema_version": "1.1",
		"type_definitions": []any{
			map[string]any{"type": TypeUser},
			map[string]any{
				"type":      TypeRole,
				"relations": map[string]any{RelationAssignee: map[string]any{"this": map[string]any{}}},
				"metadata": map[string]any{"relations": map[string]any{
					RelationAssignee: map[string]any{
						"directly_related_user_types": []any{map[string]any{"type": TypeUser}},
					},
				}},
			},
			map[string]any{
				"type":      TypeOrganization,
				"relations": relations,
				"metadata":  map[string]any{"relations": metadata},
			},
		},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return client.ClientWriteAuthorizationModelRequest{}, fmt.Errorf("failed to encode model: %w", err)
	}
	var req client.ClientWriteAuthorizationModelRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return client.ClientWriteAuthorizationModelRequest{}, fmt.Errorf("failed to decode model: %w", err)
	}
	return req, nil
}

// RoleTuples grants every permission of each role to the role's assignees
// inside one organization.
func RoleTuples(organizationID string, roles []rbac.Role) []client.ClientTupleKey {
	var tuples []client.ClientTupleKey
	for _, role := range roles {
		assignees := RoleObject(organizationID, role.Name) + "#" + RelationAssignee
		for _, p := range role.Permissions.Permissions() {
			tuples = append(tuples, client.ClientTupleKey{
				User:     assignees,
				Relation: Relation(p.Resource, p.Action),
				Object:   OrganizationObject(organizationID),
			})
		}
	}
	return tuples
}

// AssignmentTuple makes userID an assignee of role in the organization.
func AssignmentTuple(organizationID, userID, role string) client.ClientTupleKey {
	return client.ClientTupleKey{
		User:     UserObject(userID),
		Relation: RelationAssignee,
		Object:   RoleObject(organizationID, role),
	}
}
