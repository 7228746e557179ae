package records

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"churchadmin/internal/backend"
	"churchadmin/internal/model"
	"churchadmin/internal/query"
)

const DefaultSearchLimit = 10

type MemberFilter struct {
	ListParams
	Status    model.MemberStatus
	Gender    string
	ServiceID string
}

func (f MemberFilter) Values() url.Values {
	v := f.ListParams.Values()
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Gender != "" {
		v.Set("gender", f.Gender)
	}
	if f.ServiceID != "" {
		v.Set("serviceId", f.ServiceID)
	}
	return v
}

type Members struct {
	*Collection[model.Member, model.MemberInput, model.MemberUpdate]
}

func NewMembers(deps Deps) *Members {
	return &Members{newCollection[model.Member, model.MemberInput, model.MemberUpdate]("members", deps)}
}

// Search is the quick lookup used by pickers. A blank query returns no
// results without asking the backend.
func (m *Members) Search(ctx context.Context, q string, limit int) ([]model.Member, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []model.Member{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	orgID, current, err := m.tenant()
	if err != nil {
		return nil, err
	}

	params := url.Values{"q": {q}, "limit": {strconv.Itoa(limit)}}
	results, err := query.Fetch(ctx, m.cache, query.SearchKey(m.name, orgID, params), func(ctx context.Context) ([]model.Member, error) {
		var results []model.Member
		if _, err := m.backend.Do(ctx, http.MethodGet, backend.Path(m.name, "search"), params, nil, &results); err != nil {
			return nil, err
		}
		if results == nil {
			results = []model.Member{}
		}
		return results, current()
	})
	if err != nil {
		return nil, err
	}
	if err := current(); err != nil {
		return nil, err
	}
	return results, nil
}
