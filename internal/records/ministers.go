package records

import (
	"net/url"
	"strconv"

	"churchadmin/internal/model"
)

type MinisterFilter struct {
	ListParams
	ServiceID string
	Active    *bool
}

func (f MinisterFilter) Values() url.Values {
	v := f.ListParams.Values()
	if f.ServiceID != "" {
		v.Set("serviceId", f.ServiceID)
	}
	if f.Active != nil {
		v.Set("active", strconv.FormatBool(*f.Active))
	}
	return v
}

type Ministers struct {
	*Collection[model.Minister, model.MinisterInput, model.MinisterUpdate]
}

func NewMinisters(deps Deps) *Ministers {
	return &Ministers{newCollection[model.Minister, model.MinisterInput, model.MinisterUpdate]("ministers", deps)}
}
