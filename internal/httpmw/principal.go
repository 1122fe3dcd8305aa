package httpmw

import (
	"context"
)

type userIDKey struct{}

// WithUserID attaches the resolved authenticated user id to the context.
// The auth layer (session/OAuth) is responsible for calling this; the rate
// limit gate only reads it.
func WithUserID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFromContext returns the authenticated user id, or "" for anonymous
// requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
