package i18n

import (
	"net/http"

	"github.com/pavelanni/reviewer/internal/reply"
)

// Middleware injects a localizer into every request context. The
// Accept-Language header wins over the configured default language.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := NewLocalizer(r.Header.Get("Accept-Language"), lang)
			ctx := WithLocalizer(r.Context(), loc)
			ctx = reply.ContextWithPhrasebook(ctx, Phrases(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
