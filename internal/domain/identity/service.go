// internal/domain/identity/service.go

package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when an action needs an actor and none is present
var ErrUnauthenticated = errors.New("unauthenticated")

// Actor is the member performing an action
type Actor struct {
	ID          string
	DisplayName string
	Email       string
}

// Name returns the name shown next to the actor's messages
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Email != "" {
		return a.Email
	}
	return "User"
}

// Provider supplies the current actor. The core only reads identities, it
// never manages their lifecycle.
type Provider interface {
	// CurrentActor returns the actor bound to ctx, or nil when anonymous
	CurrentActor(ctx context.Context) *Actor
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ContextProvider resolves the actor stored in the context by WithActor
type ContextProvider struct{}

// CurrentActor returns the actor stored in ctx
func (ContextProvider) CurrentActor(ctx context.Context) *Actor {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.ID == "" {
		return nil
	}
	return &actor
}

// Static always returns the same actor; a nil Static is anonymous
type Static struct {
	Actor *Actor
}

// CurrentActor returns the configured actor
func (s Static) CurrentActor(ctx context.Context) *Actor {
	if s.Actor == nil {
		return nil
	}
	actor := *s.Actor
	return &actor
}
