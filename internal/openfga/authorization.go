package openfga

import (
	"context"
	"errors"

	"churchadmin/internal/model"
	"churchadmin/internal/rbac"

	"golang.org/x/sync/errgroup"
)

var ErrNoActor = errors.New("no signed in user")

// Checker answers a single relationship check.
type Checker interface {
	Check(ctx context.Context, user, relation, object string) (bool, error)
}

// Authority answers dashboard permission checks from OpenFGA instead of the
// REST backend.
type Authority struct {
	checker Checker
	actor   func() (model.Actor, bool)
}

func NewAuthority(checker Checker, actor func() (model.Actor, bool)) *Authority {
	return &Authority{checker: checker, actor: actor}
}

// HasPermission holds only if every action is granted. Any failed check
// fails the whole answer.
func (a *Authority) HasPermission(ctx context.Context, organizationID string, resource rbac.Resource, actions []rbac.Action) (bool, error) {
	actor, ok := a.actor()
	if !ok {
		return false, ErrNoActor
	}
	if len(actions) == 0 {
		return false, nil
	}

	results := make([]bool, len(actions))
	g, ctx := errgroup.WithContext(ctx)
	for i, action := range actions {
		g.Go(func() error {
			allowed, err := a.checker.Check(ctx, UserObject(actor.ID), Relation(resource, action), OrganizationObject(organizationID))
			results[i] = allowed
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, allowed := range results {
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}
