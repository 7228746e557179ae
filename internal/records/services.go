package records

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"churchadmin/internal/backend"
	"churchadmin/internal/model"
	"churchadmin/internal/query"
)

type ServiceFilter struct {
	ListParams
	Type   string
	Active *bool
}

func (f ServiceFilter) Values() url.Values {
	v := f.ListParams.Values()
	if f.Type != "" {
		v.Set("type", f.Type)
	}
	if f.Active != nil {
		v.Set("active", strconv.FormatBool(*f.Active))
	}
	return v
}

// Services are the church's ministries. Members enroll into and exit them.
type Services struct {
	*Collection[model.ChurchService, model.ChurchServiceInput, model.ChurchServiceUpdate]
}

func NewServices(deps Deps) *Services {
	return &Services{newCollection[model.ChurchService, model.ChurchServiceInput, model.ChurchServiceUpdate]("church-services", deps)}
}

func (s *Services) Enroll(ctx context.Context, serviceID, memberID string) (model.ChurchService, error) {
	out, err := s.mutate(ctx, http.MethodPost, backend.Path(s.name, serviceID, "members"), serviceID,
		map[string]string{"memberId": memberID})
	if err != nil {
		return out, err
	}
	s.invalidateMembers()
	return out, nil
}

func (s *Services) Exit(ctx context.Context, serviceID, memberID string) (model.ChurchService, error) {
	out, err := s.mutate(ctx, http.MethodDelete, backend.Path(s.name, serviceID, "members", memberID), serviceID, nil)
	if err != nil {
		return out, err
	}
	s.invalidateMembers()
	return out, nil
}

// invalidateMembers drops member views, whose service filters just changed.
func (s *Services) invalidateMembers() {
	if orgID, _, ok := s.session.ActiveTenant(); ok {
		s.cache.Invalidate(query.ResourceKey("members", orgID))
	}
}
