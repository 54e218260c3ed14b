package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/dealreport/internal/calcloader"
	"github.com/rpattn/dealreport/internal/repository"
)

type ctxKey string

const (
	calcLoaderKey ctxKey = "calcLoader"
	requestIDKey  ctxKey = "requestID"
)

// DataLoaderMiddleware attaches a per-request calculation loader to the context
func DataLoaderMiddleware(repo repository.CalculationRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ContextWithCalcLoader(r.Context(), calcloader.NewCalcLoader(repo))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithCalcLoader stores loader in ctx.
func ContextWithCalcLoader(ctx context.Context, loader *calcloader.CalcLoader) context.Context {
	return context.WithValue(ctx, calcLoaderKey, loader)
}

// CalcLoaderFromContext retrieves the calculation loader from context
func CalcLoaderFromContext(ctx context.Context) *calcloader.CalcLoader {
	if l, ok := ctx.Value(calcLoaderKey).(*calcloader.CalcLoader); ok {
		return l
	}
	return nil
}
