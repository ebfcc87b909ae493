package middleware

import (
	"context"
	"net/http"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal admitted by [RequirePrincipal].
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalContextKey{}).(string)
	return p, ok
}

// RequirePrincipal answers 401 unless the request's session carries a
// principal name. It must run inside [Sessions].
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal := s.PrincipalName()
		if principal == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
