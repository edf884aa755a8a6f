// Package projectcontext carries the caller's project identity, resolved
// by the API-key middleware, through request contexts. The engine trusts
// this identity and never re-derives it.
package projectcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type contextKey struct{}

func WithProjectID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func ProjectIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(contextKey{}).(snowflake.ID)
	return id, ok
}
