package records

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"churchadmin/internal/backend"
	"churchadmin/internal/query"
	"churchadmin/internal/rbac"
)

const rolesResource = "roles"

// RoleUpdate patches a custom role. Empty fields are left untouched.
type RoleUpdate struct {
	Label       string      `json:"label,omitempty"`
	Description string      `json:"description,omitempty"`
	Permissions rbac.Grants `json:"permissions,omitempty"`
}

// Roles manages role definitions of the active organization. Built-in roles
// are listed but never changed.
type Roles struct {
	backend Doer
	session Session
	cache   *query.Cache
	logger  *slog.Logger
}

func NewRoles(deps Deps) *Roles {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Roles{
		backend: deps.Backend,
		session: deps.Session,
		cache:   deps.Cache,
		logger:  logger.With("component", "records", "resource", rolesResource),
	}
}

func (r *Roles) List(ctx context.Context) ([]rbac.Role, error) {
	return fetchRoles(ctx, r, "list", "", func(roles []rbac.Role) []rbac.Role {
		if roles == nil {
			return []rbac.Role{}
		}
		for i := range roles {
			if rbac.IsBuiltin(roles[i].Name) {
				roles[i].BuiltIn = true
			}
		}
		return roles
	})
}

// Catalog is the permission catalog as the backend advertises it.
func (r *Roles) Catalog(ctx context.Context) (rbac.Grants, error) {
	return fetchRoles(ctx, r, "catalog", "permissions", func(g rbac.Grants) rbac.Grants {
		if g == nil {
			return rbac.Grants{}
		}
		return g
	})
}

// Mine is the caller's role in the active organization.
func (r *Roles) Mine(ctx context.Context) (rbac.Role, error) {
	return fetchRoles(ctx, r, "me", "me", func(role rbac.Role) rbac.Role { return role })
}

func fetchRoles[T any](ctx context.Context, r *Roles, kind, segment string, finish func(T) T) (T, error) {
	var zero T
	orgID, epoch, ok := r.session.ActiveTenant()
	if !ok {
		return zero, ErrNoTenant
	}
	current := func() error {
		if _, now, _ := r.session.ActiveTenant(); now != epoch {
			return query.ErrStale
		}
		return nil
	}

	path := backend.Path(rolesResource)
	if segment != "" {
		path = backend.Path(rolesResource, segment)
	}
	out, err := query.Fetch(ctx, r.cache, query.Key{rolesResource, orgID, kind}, func(ctx context.Context) (T, error) {
		var out T
		if _, err := r.backend.Do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
			return zero, err
		}
		return finish(out), current()
	})
	if err != nil {
		return zero, err
	}
	if err := current(); err != nil {
		return zero, err
	}
	return out, nil
}

// Create adds a custom role. Grants outside the catalog are rejected before
// any request is made.
func (r *Roles) Create(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	path := backend.Path(rolesResource)
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return rbac.Role{}, &backend.Error{Kind: backend.ErrValidation, Method: http.MethodPost, Path: path, Message: "Role name is required"}
	}
	if rbac.IsBuiltin(role.Name) {
		return rbac.Role{}, &backend.Error{Kind: backend.ErrValidation, Method: http.MethodPost, Path: path, Message: "Built-in roles cannot be redefined"}
	}
	if err := role.Validate(); err != nil {
		return rbac.Role{}, grantError(http.MethodPost, path, err)
	}
	normalized, err := role.Permissions.Normalize()
	if err != nil {
		return rbac.Role{}, grantError(http.MethodPost, path, err)
	}
	role.Permissions = normalized
	role.BuiltIn = false

	orgID, _, ok := r.session.ActiveTenant()
	if !ok {
		return rbac.Role{}, ErrNoTenant
	}
	var created rbac.Role
	if _, err := r.backend.Do(ctx, http.MethodPost, path, nil, role, &created); err != nil {
		return rbac.Role{}, err
	}
	r.cache.Invalidate(query.ResourceKey(rolesResource, orgID))
	r.logger.InfoContext(ctx, "Role created", "organization_id", orgID, "role", created.Name)
	return created, nil
}

func (r *Roles) Update(ctx context.Context, id string, patch RoleUpdate) (rbac.Role, error) {
	path := backend.Path(rolesResource, id)
	if rbac.IsBuiltin(id) {
		return rbac.Role{}, &backend.Error{Kind: backend.ErrValidation, Method: http.MethodPatch, Path: path, Message: "Built-in roles cannot be changed"}
	}
	if patch.Permissions != nil {
		normalized, err := patch.Permissions.Normalize()
		if err != nil {
			return rbac.Role{}, grantError(http.MethodPatch, path, err)
		}
		patch.Permissions = normalized
	}

	orgID, _, ok := r.session.ActiveTenant()
	if !ok {
		return rbac.Role{}, ErrNoTenant
	}
	var updated rbac.Role
	if _, err := r.backend.Do(ctx, http.MethodPatch, path, nil, patch, &updated); err != nil {
		return rbac.Role{}, err
	}
	r.cache.Invalidate(query.ResourceKey(rolesResource, orgID))
	return updated, nil
}

func (r *Roles) Delete(ctx context.Context, id string) error {
	path := backend.Path(rolesResource, id)
	if rbac.IsBuiltin(id) {
		return &backend.Error{Kind: backend.ErrValidation, Method: http.MethodDelete, Path: path, Message: "Built-in roles cannot be deleted"}
	}
	orgID, _, ok := r.session.ActiveTenant()
	if !ok {
		return ErrNoTenant
	}
	if _, err := r.backend.Do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return err
	}
	r.cache.Invalidate(query.ResourceKey(rolesResource, orgID))
	r.logger.InfoContext(ctx, "Role deleted", "organization_id", orgID, "role_id", id)
	return nil
}

func grantError(method, path string, err error) error {
	return &backend.Error{Kind: backend.ErrValidation, Method: method, Path: path, Message: "Role contains permissions outside the catalog", Cause: err}
}
