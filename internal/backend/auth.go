package backend

import (
	"context"
	"net/http"

	"churchadmin/internal/model"
)

type userResponse struct {
	User model.Actor `json:"user"`
}

type sessionResponse struct {
	User    *model.Actor `json:"user"`
	Session *struct {
		ActiveOrganizationID string `json:"activeOrganizationId"`
	} `json:"session"`
	ActiveOrganizationID string `json:"activeOrganizationId"`
}

func (c *Client) SignIn(ctx context.Context, email, password string) (model.Actor, error) {
	var out userResponse
	err := c.doJSON(ctx, http.MethodPost, "/sign-in", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return model.Actor{}, err
	}
	return out.User, nil
}

func (c *Client) SignUp(ctx context.Context, name, email, password string) (model.Actor, error) {
	var out userResponse
	err := c.doJSON(ctx, http.MethodPost, "/sign-up", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return model.Actor{}, err
	}
	return out.User, nil
}

// SignOut ends the backend session. Local cookies are dropped whatever the outcome.
func (c *Client) SignOut(ctx context.Context) error {
	defer c.ClearCookies()
	return c.doJSON(ctx, http.MethodPost, "/sign-out", nil, nil)
}

// GetSession recovers the session bound to the cookie jar.
func (c *Client) GetSession(ctx context.Context) (model.SessionInfo, error) {
	var out sessionResponse
	if err := c.doJSON(ctx, http.MethodGet, "/session", nil, &out); err != nil {
		return model.SessionInfo{}, err
	}
	if out.User == nil || out.User.ID == "" {
		return model.SessionInfo{}, &Error{Kind: ErrUnauthenticated, Method: http.MethodGet, Path: "/session", Message: "no active session"}
	}

	info := model.SessionInfo{User: *out.User, ActiveOrganizationID: out.ActiveOrganizationID}
	if out.Session != nil && out.Session.ActiveOrganizationID != "" {
		info.ActiveOrganizationID = out.Session.ActiveOrganizationID
	}
	return info, nil
}
