package context

import (
	stdctx "context"
)

// attemptKey is the context key for the current retry attempt.
// This is in a separate package to avoid circular dependencies.
type attemptKey struct{}

// runIDKey is the context key for the skill run identifier.
type runIDKey struct{}

// WithAttempt records the 1-based attempt number of the call in flight.
func WithAttempt(ctx stdctx.Context, attempt int) stdctx.Context {
	return stdctx.WithValue(ctx, attemptKey{}, attempt)
}

// Attempt returns the attempt number stored in ctx, or 1 when none was set.
func Attempt(ctx stdctx.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}

// WithRunID tags the context with an identifier for one skill or CLI invocation.
func WithRunID(ctx stdctx.Context, id string) stdctx.Context {
	return stdctx.WithValue(ctx, runIDKey{}, id)
}

// GetRunID retrieves the run identifier.
// Returns the id and a bool indicating if it was set.
func GetRunID(ctx stdctx.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}
