package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"lynxtms.io/internal/auth"
	"lynxtms.io/internal/authz"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	apiKeyHeader = "X-API-Key"
)

var (
	errSubjectRequired    = errors.New("subject_id is required")
	errInvalidSubjectKind = errors.New("subject_kind must be user or api_key")
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

type apiKeyCtxKey struct{}

func contextWithAPIKey(ctx context.Context, key authz.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey{}, key)
}

func apiKeyFromContext(ctx context.Context) (authz.APIKey, bool) {
	key, ok := ctx.Value(apiKeyCtxKey{}).(authz.APIKey)
	return key, ok
}

// withAuth authenticates callers by bearer JWT or X-API-Key. Probe and
// metrics paths stay open.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if raw := strings.TrimSpace(r.Header.Get(apiKeyHeader)); raw != "" {
			key, err := a.keys.Authenticate(r.Context(), raw)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithAPIKey(r.Context(), key)))
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithCaller(r.Context(), claims.Subject, claims.OrganizationID, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates management endpoints on the caller's token roles.
func (a *API) requireAdmin(r *http.Request) error {
	if auth.HasRole(r.Context(), "admin") || auth.HasRole(r.Context(), "super_admin") {
		return nil
	}
	return errors.New("admin role required")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
