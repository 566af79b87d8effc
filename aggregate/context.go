package aggregate

import "context"

type ctxKey int

const (
	metaKey ctxKey = iota
	causationKey
	correlationKey
)

// CtxWithMeta returns a context carrying meta data to be stored
// alongside any events saved with it
func CtxWithMeta(ctx context.Context, meta map[string]string) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

// CtxMeta extracts event meta data from the context
func CtxMeta(ctx context.Context) map[string]string {
	meta, _ := ctx.Value(metaKey).(map[string]string)

	return meta
}

// CtxWithCausationID returns a context carrying the id of the event that
// caused the events saved with it
func CtxWithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CtxCausationID extracts the causation event id from the context
func CtxCausationID(ctx context.Context) string {
	id, _ := ctx.Value(causationKey).(string)

	return id
}

// CtxWithCorrelationID returns a context carrying the correlation id
// stored alongside any events saved with it
func CtxWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CtxCorrelationID extracts the correlation event id from the context
func CtxCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)

	return id
}
