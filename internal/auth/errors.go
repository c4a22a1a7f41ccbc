package auth

import (
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingToken indicates the request has no bearer token.
	ErrMissingToken = errors.New("authentication required")

	// ErrInvalidToken indicates the token is malformed or its signature is wrong.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates the token's exp claim has passed.
	ErrTokenExpired = errors.New("token has expired")

	// ErrMissingSubject indicates the token does not name a caller.
	ErrMissingSubject = errors.New("token has no subject")

	// ErrPrivilegeRequired indicates the route needs a privileged role.
	ErrPrivilegeRequired = errors.New("privileged role required")
)

// AuthError is an authentication failure ready to be written to the client.
type AuthError struct {
	// Code is a stable machine-readable identifier.
	Code string

	// Message is the error message.
	Message string

	// HTTPStatus is the HTTP status code.
	HTTPStatus int
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthError maps an error to its response form.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrMissingToken):
		return &AuthError{Code: "UNAUTHORIZED", Message: err.Error(), HTTPStatus: http.StatusUnauthorized}
	case errors.Is(err, ErrTokenExpired):
		return &AuthError{Code: "TOKEN_EXPIRED", Message: ErrTokenExpired.Error(), HTTPStatus: http.StatusUnauthorized}
	case errors.Is(err, ErrPrivilegeRequired):
		return &AuthError{Code: "FORBIDDEN", Message: err.Error(), HTTPStatus: http.StatusForbidden}
	default:
		return &AuthError{Code: "INVALID_TOKEN", Message: ErrInvalidToken.Error(), HTTPStatus: http.StatusUnauthorized}
	}
}
