package backend

import (
	"context"
	"net/http"

	"churchadmin/internal/model"
	"churchadmin/internal/rbac"
)

type hasPermissionRequest struct {
	OrganizationID string                          `json:"organizationId"`
	Permission     map[rbac.Resource][]rbac.Action `json:"permission"`
}

type hasPermissionResponse struct {
	HasPermission *bool `json:"hasPermission"`
}

// HasPermission asks the backend whether the session's actor holds every
// action on the resource inside the organization.
func (c *Client) HasPermission(ctx context.Context, organizationID string, resource rbac.Resource, actions []rbac.Action) (bool, error) {
	var out hasPermissionResponse
	err := c.doJSON(ctx, http.MethodPost, "/organization/has-permission", hasPermissionRequest{
		OrganizationID: organizationID,
		Permission:     map[rbac.Resource][]rbac.Action{resource: actions},
	}, &out)
	if err != nil {
		return false, err
	}
	if out.HasPermission == nil {
		return false, &Error{Kind: ErrInconclusive, Method: http.MethodPost, Path: "/organization/has-permission", Message: "hasPermission missing"}
	}
	return *out.HasPermission, nil
}

func (c *Client) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	var out []model.Organization
	if err := c.doJSON(ctx, http.MethodGet, "/organization/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetActiveOrganization(ctx context.Context, organizationID string) (model.Organization, error) {
	var out model.Organization
	err := c.doJSON(ctx, http.MethodPost, "/organization/set-active", map[string]string{
		"organizationId": organizationID,
	}, &out)
	if err != nil {
		return model.Organization{}, err
	}
	if out.ID == "" {
		out.ID = organizationID
	}
	return out, nil
}
