package middleware

import (
	"context"
	"net/http"
	"strings"

	sessioncore "github.com/modmesh/sessioncore"
	"github.com/modmesh/sessioncore/session"
)

type sessionContextKey struct{}

// SessionFromContext returns the session attached by [Attach], if any.
func SessionFromContext(ctx context.Context) (*session.View, bool) {
	view, ok := ctx.Value(sessionContextKey{}).(*session.View)
	return view, ok
}

// Attach resolves the request's bearer token to a session and attaches the
// view to the request context. It fails open: a missing, unknown, or
// unresolvable token leaves the request anonymous and never surfaces engine
// error detail into the response path. Handlers that require a session check
// [SessionFromContext] themselves.
func Attach(engine *sessioncore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			view, err := engine.GetSession(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, view)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require rejects requests that reach it without an attached session. It
// layers on [Attach] for handlers that must not run anonymously.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			http.Error(w, "session required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
