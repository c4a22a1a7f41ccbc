package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/prn-tf/imagevault/internal/domain"
)

// Config contains configuration for the auth middleware.
type Config struct {
	// Secret is the HMAC key tokens are signed with.
	Secret string

	// Issuer, when set, must match the iss claim.
	Issuer string

	// PrivilegedRoles are the roles that may manage any image.
	PrivilegedRoles []string

	// SkipPaths are paths that skip authentication.
	SkipPaths []string

	// QueryParam, when set, is read for the token on GET requests that
	// carry no Authorization header. Image tags cannot send headers.
	QueryParam string
}

// DefaultConfig returns the default auth configuration.
func DefaultConfig() Config {
	return Config{
		PrivilegedRoles: []string{"admin"},
		SkipPaths:       []string{"/health", "/metrics"},
		QueryParam:      "token",
	}
}

// Middleware creates an authentication middleware. Requests without a valid
// bearer token are rejected with 401; accepted requests carry a domain.Caller.
func Middleware(config Config) func(http.Handler) http.Handler {
	privileged := make(map[string]struct{}, len(config.PrivilegedRoles))
	for _, role := range config.PrivilegedRoles {
		privileged[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Check if path should skip authentication
			for _, path := range config.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := bearerToken(r, config.QueryParam)
			if token == "" {
				writeAuthError(w, ErrMissingToken)
				return
			}

			claims, err := ParseToken(token, config.Secret, config.Issuer)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Bearer authentication failed")
				writeAuthError(w, err)
				return
			}

			_, isPrivileged := privileged[claims.Role]
			caller := domain.Caller{
				ID:         claims.Subject,
				Role:       claims.Role,
				Privileged: isPrivileged,
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the query parameter for GET requests.
func bearerToken(r *http.Request, queryParam string) string {
	header := r.Header.Get(AuthorizationHeader)
	if strings.HasPrefix(header, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	}
	if queryParam != "" && r.Method == http.MethodGet {
		return r.URL.Query().Get(queryParam)
	}
	return ""
}

// RequirePrivileged rejects callers without a privileged role.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeAuthError(w, ErrMissingToken)
			return
		}
		if !caller.Privileged {
			writeAuthError(w, ErrPrivilegeRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeAuthError writes the JSON error envelope.
func writeAuthError(w http.ResponseWriter, err error) {
	authErr := NewAuthError(err)

	w.Header().Set("Content-Type", "application/json")
	if authErr.HTTPStatus == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="imagevault"`)
	}
	w.WriteHeader(authErr.HTTPStatus)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    authErr.Code,
			"message": authErr.Message,
		},
	})
}

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, CallerContextKey, caller)
}

// CallerFromContext retrieves the authenticated caller.
func CallerFromContext(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(CallerContextKey).(domain.Caller)
	return caller, ok
}

// RequireAuth is a helper to get the caller or return an error.
func RequireAuth(ctx context.Context) (domain.Caller, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.Caller{}, ErrMissingToken
	}
	return caller, nil
}
