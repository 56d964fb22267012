package grpcserver

import (
	"context"

	"github.com/and161185/dataservice/internal/model"
)

type ctxKey string

const actorKey ctxKey = "dds.actor"

// WithActor stores the authenticated actor in context.
func WithActor(ctx context.Context, a model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromCtx fetches the authenticated actor from context.
func ActorFromCtx(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(actorKey).(model.Actor)
	return a, ok
}
