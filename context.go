package goSession

import "context"

type sourceContextKey struct{}

// WithSource attaches the name of the surface that triggered a call (a bot
// command, an HTTP route, a scheduler) to ctx. The manager copies it into
// audit metadata and log records.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceContextKey{}, source)
}

func sourceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	source, _ := ctx.Value(sourceContextKey{}).(string)
	return source
}
