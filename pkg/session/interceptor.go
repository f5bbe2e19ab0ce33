package session

import (
	"log/slog"
	"net/http"
)

// RequestInterceptor attaches the current access token to outgoing requests.
// It never waits for a refresh in progress; callers that must have a token
// up front use Coordinator.EnsureValidToken.
type RequestInterceptor struct {
	store  *TokenStore
	logger *slog.Logger
}

// NewRequestInterceptor creates a RequestInterceptor reading from store.
func NewRequestInterceptor(store *TokenStore, logger *slog.Logger) *RequestInterceptor {
	return &RequestInterceptor{store: store, logger: logger}
}

// Intercept returns a copy of req carrying "Authorization: Bearer <token>"
// when an access token is stored, along with the token used. A store error
// is logged and the request goes out unauthenticated.
func (i *RequestInterceptor) Intercept(req *http.Request) (*http.Request, string) {
	out := req.Clone(req.Context())

	tokens, err := i.store.Get(req.Context())
	if err != nil {
		i.logger.WarnContext(req.Context(), "read session tokens failed, sending request unauthenticated",
			slog.String("error", err.Error()),
			slog.String("url", req.URL.Redacted()),
		)
		return out, ""
	}

	if tokens.AccessToken != "" {
		out.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}
	return out, tokens.AccessToken
}
