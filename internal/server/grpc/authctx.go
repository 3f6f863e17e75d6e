package grpcserver

import (
	"context"

	"github.com/and161185/todo-keeper/internal/service"
)

type ctxKey string

const identityKey ctxKey = "tk.identity"

// WithIdentity stores the authenticated caller in context.
func WithIdentity(ctx context.Context, id service.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the authenticated caller from context.
func IdentityFromCtx(ctx context.Context) (service.Identity, bool) {
	id, ok := ctx.Value(identityKey).(service.Identity)
	return id, ok
}
