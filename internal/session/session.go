// Package session carries the caller's org and identity through a context.
package session

import (
	"context"
	"errors"
)

type Session struct {
	OrgID   string
	ActorID string
}

type ctxKey struct{}

var ErrMissing = errors.New("no session in context")

func With(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func From(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

// Actor returns the acting user id, or "" when the context has no session.
func Actor(ctx context.Context) string {
	s, _ := From(ctx)
	return s.ActorID
}
