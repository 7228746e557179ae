// Package records exposes the church record collections of the active
// organization: paged lists, details and mutations, all read through the
// query cache and invalidated after every successful write.
package records

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"churchadmin/internal/backend"
	"churchadmin/internal/model"
	"churchadmin/internal/query"
	"churchadmin/internal/validator"
)

const DefaultLimit = 10

var ErrNoTenant = errors.New("no active organization")

// Doer is the slice of the backend client the collections need.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) (*model.Pagination, error)
}

// Session reports the tenant every request is scoped to.
type Session interface {
	ActiveTenant() (organizationID string, epoch uint64, ok bool)
}

// Filter turns typed list filters into query parameters.
type Filter interface {
	Values() url.Values
}

// ListParams is the paging and free text part shared by every list filter.
type ListParams struct {
	Page   int
	Limit  int
	Search string
}

func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.Page > 1 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 && p.Limit != DefaultLimit {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	return v
}

// Page is one page of a list. Items is never nil.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// Pages is the number of pages needed for total items at limit per page.
func Pages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Deps are shared by every collection of one dashboard client.
type Deps struct {
	Backend   Doer
	Session   Session
	Cache     *query.Cache
	Validator *validator.Validator
	Logger    *slog.Logger
}

// Collection is a CRUD resource of type T created from C and patched with U.
type Collection[T, C, U any] struct {
	name     string
	backend  Doer
	session  Session
	cache    *query.Cache
	validate *validator.Validator
	logger   *slog.Logger
}

func newCollection[T, C, U any](name string, deps Deps) *Collection[T, C, U] {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validate := deps.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &Collection[T, C, U]{
		name:     name,
		backend:  deps.Backend,
		session:  deps.Session,
		cache:    deps.Cache,
		validate: validate,
		logger:   logger.With("component", "records", "resource", name),
	}
}

func (c *Collection[T, C, U]) Name() string {
	return c.name
}

// tenant returns the active organization and a check that fails with
// query.ErrStale once the tenant changed.
func (c *Collection[T, C, U]) tenant() (string, func() error, error) {
	orgID, epoch, ok := c.session.ActiveTenant()
	if !ok {
		return "", nil, ErrNoTenant
	}
	current := func() error {
		_, now, _ := c.session.ActiveTenant()
		if now != epoch {
			return query.ErrStale
		}
		return nil
	}
	return orgID, current, nil
}

// List returns one page. A page past the last one is empty, not an error.
func (c *Collection[T, C, U]) List(ctx context.Context, filter Filter) (Page[T], error) {
	orgID, current, err := c.tenant()
	if err != nil {
		return Page[T]{}, err
	}
	params := url.Values{}
	if filter != nil {
		params = filter.Values()
	}

	page, err := query.Fetch(ctx, c.cache, query.ListKey(c.name, orgID, params), func(ctx context.Context) (Page[T], error) {
		var items []T
		pagination, err := c.backend.Do(ctx, http.MethodGet, backend.Path(c.name), params, nil, &items)
		if err != nil {
			return Page[T]{}, err
		}
		if err := current(); err != nil {
			return Page[T]{}, err
		}
		return newPage(items, pagination, params), nil
	})
	if err != nil {
		return Page[T]{}, err
	}
	if err := current(); err != nil {
		return Page[T]{}, err
	}
	return page, nil
}

func newPage[T any](items []T, pagination *model.Pagination, params url.Values) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{Items: items, Total: len(items), Page: 1, Limit: DefaultLimit}
	if n, err := strconv.Atoi(params.Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(params.Get("limit")); err == nil && n > 0 {
		p.Limit = n
	}
	if pagination != nil {
		p.Total = pagination.Total
		if pagination.Page > 0 {
			p.Page = pagination.Page
		}
		if pagination.Limit > 0 {
			p.Limit = pagination.Limit
		}
	}
	p.Pages = Pages(p.Total, p.Limit)
	return p
}

// Get returns one record. A missing record fails with backend.ErrNotFound.
func (c *Collection[T, C, U]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	orgID, current, err := c.tenant()
	if err != nil {
		return zero, err
	}
	item, err := query.Fetch(ctx, c.cache, query.DetailKey(c.name, orgID, id), func(ctx context.Context) (T, error) {
		var item T
		if _, err := c.backend.Do(ctx, http.MethodGet, backend.Path(c.name, id), nil, nil, &item); err != nil {
			return zero, err
		}
		return item, current()
	})
	if err != nil {
		return zero, err
	}
	if err := current(); err != nil {
		return zero, err
	}
	return item, nil
}

func (c *Collection[T, C, U]) Create(ctx context.Context, input C) (T, error) {
	var zero T
	if err := c.check(http.MethodPost, backend.Path(c.name), input); err != nil {
		return zero, err
	}
	orgID, _, err := c.tenant()
	if err != nil {
		return zero, err
	}
	var created T
	if _, err := c.backend.Do(ctx, http.MethodPost, backend.Path(c.name), nil, input, &created); err != nil {
		return zero, err
	}
	c.cache.Invalidate(query.ListPrefix(c.name, orgID))
	c.logger.InfoContext(ctx, "Record created", "organization_id", orgID)
	return created, nil
}

func (c *Collection[T, C, U]) Update(ctx context.Context, id string, patch U) (T, error) {
	var zero T
	path := backend.Path(c.name, id)
	if err := c.check(http.MethodPatch, path, patch); err != nil {
		return zero, err
	}
	orgID, _, err := c.tenant()
	if err != nil {
		return zero, err
	}
	var updated T
	if _, err := c.backend.Do(ctx, http.MethodPatch, path, nil, patch, &updated); err != nil {
		return zero, err
	}
	c.cache.Invalidate(query.ListPrefix(c.name, orgID))
	c.cache.Set(query.DetailKey(c.name, orgID, id), updated)
	c.logger.InfoContext(ctx, "Record updated", "organization_id", orgID, "id", id)
	return updated, nil
}

func (c *Collection[T, C, U]) Delete(ctx context.Context, id string) error {
	orgID, _, err := c.tenant()
	if err != nil {
		return err
	}
	if _, err := c.backend.Do(ctx, http.MethodDelete, backend.Path(c.name, id), nil, nil, nil); err != nil {
		return err
	}
	c.cache.Remove(query.DetailKey(c.name, orgID, id))
	c.cache.Invalidate(query.ListPrefix(c.name, orgID))
	c.logger.InfoContext(ctx, "Record deleted", "organization_id", orgID, "id", id)
	return nil
}

// mutate runs a sub-resource action on id and refreshes its cached views.
func (c *Collection[T, C, U]) mutate(ctx context.Context, method, path, id string, body any) (T, error) {
	var zero T
	orgID, _, err := c.tenant()
	if err != nil {
		return zero, err
	}
	var out T
	if _, err := c.backend.Do(ctx, method, path, nil, body, &out); err != nil {
		return zero, err
	}
	c.cache.Invalidate(query.ListPrefix(c.name, orgID))
	c.cache.Remove(query.DetailKey(c.name, orgID, id))
	return out, nil
}

// check validates input locally so obviously bad forms never reach the backend.
func (c *Collection[T, C, U]) check(method, path string, input any) error {
	if err := c.validate.Validate(input); err != nil {
		return invalid(method, path, err)
	}
	return nil
}

func invalid(method, path string, err error) error {
	return &backend.Error{Kind: backend.ErrValidation, Method: method, Path: path, Message: validator.Message(err), Cause: err}
}
