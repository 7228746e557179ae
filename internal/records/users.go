package records

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"churchadmin/internal/backend"
	"churchadmin/internal/model"
	"churchadmin/internal/query"
	"churchadmin/internal/validator"
)

var passwordMessage = fmt.Sprintf("Password must be at least %d characters", validator.MinPasswordLength)

type UserFilter struct {
	ListParams
	Role   string
	Banned *bool
}

func (f UserFilter) Values() url.Values {
	v := f.ListParams.Values()
	if f.Role != "" {
		v.Set("role", f.Role)
	}
	if f.Banned != nil {
		v.Set("banned", strconv.FormatBool(*f.Banned))
	}
	return v
}

// Users are the system accounts managed from the admin screens.
type Users struct {
	*Collection[model.AdminUser, model.AdminUserInput, model.AdminUserUpdate]
}

func NewUsers(deps Deps) *Users {
	return &Users{newCollection[model.AdminUser, model.AdminUserInput, model.AdminUserUpdate]("users", deps)}
}

func (u *Users) Ban(ctx context.Context, id string, req model.BanRequest) (model.AdminUser, error) {
	path := backend.Path(u.name, id, "ban")
	if err := u.check(http.MethodPost, path, req); err != nil {
		return model.AdminUser{}, err
	}
	if req.ExpiresIn > 0 {
		req.Seconds = int64(req.ExpiresIn.Seconds())
	}
	return u.mutate(ctx, http.MethodPost, path, id, req)
}

func (u *Users) Unban(ctx context.Context, id string) (model.AdminUser, error) {
	return u.mutate(ctx, http.MethodPost, backend.Path(u.name, id, "unban"), id, nil)
}

func (u *Users) SetRole(ctx context.Context, id, role string) (model.AdminUser, error) {
	path := backend.Path(u.name, id, "role")
	role = strings.TrimSpace(role)
	if err := u.validate.Var(role, "required"); err != nil {
		return model.AdminUser{}, &backend.Error{Kind: backend.ErrValidation, Method: http.MethodPost, Path: path, Message: "Role is required", Cause: err}
	}
	return u.mutate(ctx, http.MethodPost, path, id, map[string]string{"role": role})
}

// SetPassword replaces a user's password. It is checked against the local
// policy before the backend sees it.
func (u *Users) SetPassword(ctx context.Context, id, password string) error {
	path := backend.Path(u.name, id, "password")
	if err := u.validate.Var(password, "required,password_policy"); err != nil {
		return &backend.Error{Kind: backend.ErrValidation, Method: http.MethodPost, Path: path, Message: passwordMessage, Cause: err}
	}
	_, err := u.mutate(ctx, http.MethodPost, path, id, map[string]string{"newPassword": password})
	return err
}

// Sessions lists the backend login sessions of one user.
func (u *Users) Sessions(ctx context.Context, id string) ([]model.UserSession, error) {
	orgID, current, err := u.tenant()
	if err != nil {
		return nil, err
	}
	key := query.Key{u.name, orgID, "sessions", id}
	sessions, err := query.Fetch(ctx, u.cache, key, func(ctx context.Context) ([]model.UserSession, error) {
		var sessions []model.UserSession
		if _, err := u.backend.Do(ctx, http.MethodGet, backend.Path(u.name, id, "sessions"), nil, nil, &sessions); err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = []model.UserSession{}
		}
		return sessions, current()
	})
	if err != nil {
		return nil, err
	}
	if err := current(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (u *Users) RevokeSession(ctx context.Context, sessionID string) error {
	orgID, _, err := u.tenant()
	if err != nil {
		return err
	}
	if _, err := u.backend.Do(ctx, http.MethodDelete, backend.Path("sessions", sessionID), nil, nil, nil); err != nil {
		return err
	}
	u.cache.Invalidate(query.Key{u.name, orgID, "sessions"})
	return nil
}
