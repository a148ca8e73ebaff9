package authz

import (
	"context"
	"log"
	"net/http"
)

// PrincipalFromRequest extracts the effective principal from the identity
// headers set by the authenticating proxy in front of the service:
// X-Principal, then X-User, else anonymous.
func PrincipalFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Principal"); v != "" {
		return v
	}
	if v := r.Header.Get("X-User"); v != "" {
		return "user:" + v
	}
	return "user:anonymous"
}

// ActAs lets a developer impersonate a principal with the act_as cookie.
// Only mounted when AUTHZ_ALLOW_ACT_AS is set.
func ActAs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("act_as"); err == nil && c.Value != "" {
			r = r.Clone(r.Context())
			r.Header.Set("X-Principal", c.Value)
		}
		next.ServeHTTP(w, r)
	})
}

// Can checks authorization using the provided client and request context.
func Can(ctx context.Context, c Client, r *http.Request, object, relation string) (bool, error) {
	principal := PrincipalFromRequest(r)
	allowed, err := c.Check(ctx, principal, object, relation)
	if err != nil {
		// do not allow on error
		log.Printf("[Authz] check error user=%s object=%s relation=%s: %v", principal, object, relation, err)
		return false, err
	}
	if !allowed {
		log.Printf("[Authz] denied user=%s object=%s relation=%s", principal, object, relation)
	}
	return allowed, nil
}
