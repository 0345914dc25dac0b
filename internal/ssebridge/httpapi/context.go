package httpapi

import "context"

// detachedContext keeps ctx's values (log fields, trace span, credential
// hash) but drops its cancellation, for work that must keep running after
// the HTTP handler that started it has already responded.
func detachedContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
