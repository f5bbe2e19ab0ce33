package middleware

import (
	"net/http"
	"strings"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httputil"
	"github.com/siraat/companion/pkg/logger"
)

// Claims are the verified token fields a TokenValidator returns.
type Claims struct {
	Subject string
	Email   string
	Role    string
}

// TokenValidator verifies a bearer token.
type TokenValidator func(token string) (*Claims, error)

// Bearer rejects requests without a valid "Authorization: Bearer" token with
// 401 and records the token subject in the context (logger.SubjectFromContext).
func Bearer(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing bearer token"), nil)
				return
			}

			claims, err := validate(token)
			if err != nil {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired token"), nil)
				return
			}

			ctx := logger.WithSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
