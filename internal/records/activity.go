package records

import (
	"context"
	"net/url"

	"churchadmin/internal/model"
)

type ActivityFilter struct {
	ListParams
	ActorID  string
	Resource string
	Action   string
}

func (f ActivityFilter) Values() url.Values {
	v := f.ListParams.Values()
	if f.ActorID != "" {
		v.Set("actorId", f.ActorID)
	}
	if f.Resource != "" {
		v.Set("resource", f.Resource)
	}
	if f.Action != "" {
		v.Set("action", f.Action)
	}
	return v
}

// ActivityLogs is the read only audit feed kept by the backend.
type ActivityLogs struct {
	logs *Collection[model.ActivityLog, struct{}, struct{}]
}

func NewActivityLogs(deps Deps) *ActivityLogs {
	return &ActivityLogs{logs: newCollection[model.ActivityLog, struct{}, struct{}]("activity-logs", deps)}
}

func (a *ActivityLogs) List(ctx context.Context, filter ActivityFilter) (Page[model.ActivityLog], error) {
	return a.logs.List(ctx, filter)
}
