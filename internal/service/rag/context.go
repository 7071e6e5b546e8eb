package rag

import (
	"context"

	"agentrag/internal/models"
)

type runIDContextKey struct{}
type clientContextKey struct{}

// WithRunID makes GenerateResponse use id instead of generating one.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDContextKey{}, id)
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDContextKey{}).(string)
	return id
}

// ContextWithClient exposes the run's client to tools invoked during the run.
func ContextWithClient(ctx context.Context, client models.Client) context.Context {
	return context.WithValue(ctx, clientContextKey{}, client)
}

func ClientFromContext(ctx context.Context) (models.Client, bool) {
	client, ok := ctx.Value(clientContextKey{}).(models.Client)
	return client, ok
}
