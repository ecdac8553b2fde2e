package middleware

import (
	"context"

	"github.com/sobun/chat/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal from the context (set by BearerAuth).
// The zero value means unauthenticated.
func GetPrincipal(ctx context.Context) model.Principal {
	p, _ := ctx.Value(principalKey).(model.Principal)
	return p
}

// GetUserID returns the authenticated user id from the context, or "".
func GetUserID(ctx context.Context) string {
	return GetPrincipal(ctx).UserID
}
