package ctxutil

import "context"

type requestIDKey struct{}

// WithRequestID tags a request-scoped context with the id echoed back in
// the X-Request-ID header. Webhook deliveries and operator API calls
// alike carry one, so a provider retry can be matched across log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
