// Package auth provides bearer token authentication for imagevault.
// Tokens are HMAC-signed JWTs issued by the surrounding application; the
// subject claim is the caller id and the role claim decides privilege.
package auth

// =============================================================================
// Constants
// =============================================================================

const (
	// AuthorizationHeader carries the bearer token.
	AuthorizationHeader = "Authorization"

	// BearerPrefix precedes the token in AuthorizationHeader.
	BearerPrefix = "Bearer "
)

// contextKey is the type of context keys defined here.
type contextKey string

// CallerContextKey stores the authenticated domain.Caller.
const CallerContextKey contextKey = "imagevault.caller"
