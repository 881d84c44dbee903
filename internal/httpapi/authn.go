package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"orbistack.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	apiKeyHeader = "X-API-Key"
	bearer       = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/",
}

// withAuth authenticates protected paths via a bearer access token or an API
// key. Both resolve to the owning user, which is attached to the request
// context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if rawKey := r.Header.Get(apiKeyHeader); rawKey != "" {
			key, err := a.keys.Validate(r.Context(), rawKey)
			if err != nil {
				respondUnauthorized(w, "invalid api key")
				return
			}
			user, err := a.auth.GetUser(r.Context(), key.CreatedBy)
			if err != nil || !user.Enabled {
				respondUnauthorized(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondUnauthorized(w, err.Error())
			return
		}
		claims, err := a.auth.ValidateToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				respondUnauthorized(w, "token expired")
				return
			}
			respondUnauthorized(w, "invalid token")
			return
		}

		// Claims carry the full identity, so no repository round trip is
		// needed on the hot path.
		user := &auth.User{
			ID:       claims.UserID,
			Username: claims.Username,
			Email:    claims.Email,
			Role:     claims.Role,
			Enabled:  true,
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="orbistack"`)
	writeError(w, http.StatusUnauthorized, msg)
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
