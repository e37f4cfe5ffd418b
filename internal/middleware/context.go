package middleware

import "context"

type contextKey int

const userIDKey contextKey = iota

// WithUserID returns a copy of ctx carrying the rate-limit key for the
// current request. For /chat this is the session ID (so one noisy session
// can't starve others); chi's middleware chain runs before the handler
// parses the body, so callers that need the body's session_id populate this
// via a pre-middleware that peeks the request before RateLimit executes.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the rate-limit key set by WithUserID, or "" if
// none was set.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
