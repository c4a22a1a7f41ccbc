package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/domain"
)

const testSecret = "test-secret"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Issuer = "tickets"
	return cfg
}

func mustToken(t *testing.T, secret, issuer, user, role string, ttl time.Duration) string {
	t.Helper()
	tok, err := GenerateToken(secret, issuer, user, role, ttl)
	require.NoError(t, err)
	return tok
}

func TestParseToken(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		claims, err := ParseToken(mustToken(t, testSecret, "tickets", "u1", "agent", time.Hour), testSecret, "tickets")
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.Subject)
		assert.Equal(t, "agent", claims.Role)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := ParseToken(mustToken(t, "other", "tickets", "u1", "agent", time.Hour), testSecret, "tickets")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := ParseToken(mustToken(t, testSecret, "elsewhere", "u1", "agent", time.Hour), testSecret, "tickets")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = ParseToken(tok, testSecret, "")
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("no subject", func(t *testing.T) {
		_, err := ParseToken(mustToken(t, testSecret, "", "", "agent", 0), testSecret, "")
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseToken("not.a.token", testSecret, "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	var got domain.Caller
	var seen bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, seen = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(testConfig())(next)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCaller *domain.Caller
	}{
		{
			name:       "skip path",
			path:       "/health",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "missing token",
			path:       "/images/my/images",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			path:       "/images/my/images",
			header:     "Bearer nope",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "regular caller",
			path:       "/images/my/images",
			header:     "Bearer " + mustToken(t, testSecret, "tickets", "u1", "agent", time.Hour),
			wantStatus: http.StatusNoContent,
			wantCaller: &domain.Caller{ID: "u1", Role: "agent"},
		},
		{
			name:       "privileged caller",
			path:       "/images/my/images",
			header:     "Bearer " + mustToken(t, testSecret, "tickets", "root", "admin", time.Hour),
			wantStatus: http.StatusNoContent,
			wantCaller: &domain.Caller{ID: "root", Role: "admin", Privileged: true},
		},
		{
			name:       "query token",
			path:       "/images/abc?token=" + mustToken(t, testSecret, "tickets", "u2", "agent", time.Hour),
			wantStatus: http.StatusNoContent,
			wantCaller: &domain.Caller{ID: "u2", Role: "agent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, seen = domain.Caller{}, false
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"success":false`)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
			if tt.wantCaller != nil {
				require.True(t, seen)
				assert.Equal(t, *tt.wantCaller, got)
			}
		})
	}
}

func TestRequirePrivileged(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequirePrivileged(next)

	tests := []struct {
		name   string
		caller *domain.Caller
		want   int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"regular", &domain.Caller{ID: "u1"}, http.StatusForbidden},
		{"privileged", &domain.Caller{ID: "root", Privileged: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/images/admin/cleanup", nil)
			if tt.caller != nil {
				req = req.WithContext(WithCaller(req.Context(), *tt.caller))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
