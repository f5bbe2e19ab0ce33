package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/siraat/companion/pkg/httpclient"
	"github.com/siraat/companion/pkg/httputil"
)

// DefaultRefreshPath is appended to the API base URL for refresh calls.
const DefaultRefreshPath = "/auth/refresh"

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

// HTTPRefresher calls the backend refresh endpoint. It must be given a client
// that does not go through Transport, or a refresh answered with 401 would
// recurse into the coordinator.
type HTTPRefresher struct {
	client httpclient.Doer
	url    string
}

// NewHTTPRefresher creates an HTTPRefresher posting to baseURL+path.
func NewHTTPRefresher(client httpclient.Doer, baseURL, path string) *HTTPRefresher {
	if path == "" {
		path = DefaultRefreshPath
	}
	return &HTTPRefresher{
		client: client,
		url:    strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"),
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse accepts both key spellings the backend has used.
type refreshResponse struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshTokenSnake string `json:"refresh_token"`
}

func (r refreshResponse) tokens() Tokens {
	t := Tokens{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if t.AccessToken == "" {
		t.AccessToken = r.AccessTokenSnake
	}
	if t.RefreshToken == "" {
		t.RefreshToken = r.RefreshTokenSnake
	}
	return t
}

// Refresh posts the refresh token and decodes the new tokens from either the
// wrapped {"data":{...}} or the flat response shape. A refresh token missing
// from the response means it was not rotated.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Tokens{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return Tokens{}, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Tokens{}, httpclient.ParseResponseError(resp, "auth")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Tokens{}, fmt.Errorf("read refresh response: %w", err)
	}

	decoded, err := httputil.Unwrap[refreshResponse](body)
	if err != nil {
		return Tokens{}, err
	}
	tokens := decoded.tokens()
	if tokens.AccessToken == "" {
		return Tokens{}, errors.New("refresh response has no access token")
	}
	return tokens, nil
}
