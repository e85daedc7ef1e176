package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"opsgate.io/internal/auth"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	apiKeyHeader = "X-API-Key"
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
}

// withAuth resolves the caller's identity from a bearer token or API key and
// attaches it to the request context. All failures surface as the same 401;
// the precise reason goes to the log only.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var (
			identity auth.Identity
			err      error
		)
		switch {
		case r.Header.Get(authHeader) != "":
			var token string
			token, err = extractBearerToken(r.Header.Get(authHeader))
			if err == nil {
				identity, err = a.auth.Authenticate(r.Context(), token)
			}
		case r.Header.Get(apiKeyHeader) != "":
			identity, err = a.auth.AuthenticateAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
		default:
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if err != nil {
			a.log.Warn("authentication rejected",
				zap.String("path", r.URL.Path),
				zap.String("ip", clientIP(r)),
				zap.Error(err))
			if errors.Is(err, auth.ErrTokenExpired) ||
				errors.Is(err, auth.ErrTokenMalformed) ||
				errors.Is(err, auth.ErrAPIKeyInvalid) {
				writeError(w, r, http.StatusUnauthorized, "invalid or expired credentials")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

// ensurePermissions authorizes the request's identity for every listed
// permission, writing the response itself on failure.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, perms ...string) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	if err := a.auth.Authorize(r.Context(), identity, r.URL.Path, perms...); err != nil {
		handleAuthError(w, r, err)
		return auth.Identity{}, false
	}
	return identity, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrTokenMalformed
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", auth.ErrTokenMalformed
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrTokenMalformed
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
