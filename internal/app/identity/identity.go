// Package identity carries the authenticated caller through a request context.
// Requests without an actor come from trusted in-cluster callers.
package identity

import (
	"context"
	"strings"
)

type Actor struct {
	UserID string
	Roles  []string
}

type ctxKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the caller, if the request carried one.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(Actor)
	if !ok || strings.TrimSpace(actor.UserID) == "" {
		return Actor{}, false
	}
	return actor, true
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
