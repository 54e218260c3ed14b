package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const callerKey contextKey = "caller"

// CallerHeader carries the identity recorded as executed_by and created_by.
const CallerHeader = "X-User-ID"

// maxCallerLength matches the width of the created_by and executed_by columns.
const maxCallerLength = 100

// ContextWithCaller returns a new context that carries the caller identity.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey, normalizeCaller(caller))
}

// CallerFromContext retrieves the caller identity from the context, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	caller, ok := ctx.Value(callerKey).(string)
	if !ok || caller == "" {
		return "", false
	}
	return caller, true
}

// CallerOrDefault returns the caller identity, or fallback when the request was anonymous.
func CallerOrDefault(ctx context.Context, fallback string) string {
	if caller, ok := CallerFromContext(ctx); ok {
		return caller
	}
	return fallback
}

// CallerMiddleware copies the caller header into the request context.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := normalizeCaller(r.Header.Get(CallerHeader)); caller != "" {
			r = r.WithContext(ContextWithCaller(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}

func normalizeCaller(caller string) string {
	caller = strings.TrimSpace(caller)
	if runes := []rune(caller); len(runes) > maxCallerLength {
		caller = string(runes[:maxCallerLength])
	}
	return caller
}
