package context

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorIDKey
	anonymousIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActor records the authenticated user performing the request.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(actorIDKey).(string)
	return v
}

func WithAnonymousID(ctx context.Context, anonymousID string) context.Context {
	return context.WithValue(ctx, anonymousIDKey, strings.TrimSpace(anonymousID))
}

func AnonymousIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(anonymousIDKey).(string)
	return v
}

// ActorSnowflake returns the actor parsed as a snowflake id, or nil when the
// request is anonymous or the id is malformed.
func ActorSnowflake(ctx context.Context) *snowflake.ID {
	raw := ActorFromContext(ctx)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}
