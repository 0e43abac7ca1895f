package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gramseva/points/internal/domain"
)

type contextKey string

const principalKey contextKey = "gramseva-principal"

// Middleware extracts and verifies the bearer credential, placing the
// principal in the request context. Requests without a credential pass
// through unauthenticated; handlers enforce their own gates.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := bearerToken(req)
		if token != "" {
			if p, err := r.Resolve(token); err == nil {
				req = req.WithContext(WithPrincipal(req.Context(), p))
			}
		}
		next.ServeHTTP(w, req)
	})
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal in the context, or nil.
func PrincipalFrom(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalKey).(*domain.Principal)
	return p
}

// bearerToken pulls the credential from the Authorization header or the
// session cookie, header winning.
func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := req.Cookie("gramseva_session"); err == nil {
		return c.Value
	}
	return ""
}
