// Package siraat is the typed client for the Siraat REST API. Every call goes
// through the session layer, so credentials are attached and expired access
// tokens are refreshed and the call replayed without the caller noticing.
package siraat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httpclient"
	"github.com/siraat/companion/pkg/httputil"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/storage"
)

// ServiceName labels errors and the circuit breaker of the API client.
const ServiceName = "siraat-api"

const maxResponseBody = 8 << 20

// Config configures the API client and its session.
type Config struct {
	BaseURL        string
	HTTP           httpclient.Config
	Breaker        httpclient.CircuitBreakerConfig
	RefreshPath    string
	RefreshTimeout time.Duration
	KeyPrefix      string
}

// DefaultConfig returns defaults for the API at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		HTTP:           httpclient.DefaultConfig(),
		Breaker:        httpclient.DefaultCircuitBreakerConfig(ServiceName),
		RefreshPath:    session.DefaultRefreshPath,
		RefreshTimeout: session.DefaultCoordinatorConfig().RefreshTimeout,
	}
}

// NewSession builds the coordinator for the session persisted in kv. The
// refresher gets its own plain client, outside the session transport.
func NewSession(kv storage.Store, cfg Config, logger *slog.Logger) *session.Coordinator {
	store := session.NewTokenStore(kv, cfg.KeyPrefix)
	refresher := session.NewHTTPRefresher(httpclient.New(cfg.HTTP), cfg.BaseURL, cfg.RefreshPath)
	return session.NewCoordinator(store, refresher, session.CoordinatorConfig{
		RefreshTimeout: cfg.RefreshTimeout,
	}, logger)
}

// Client calls the Siraat API on behalf of one session.
type Client struct {
	baseURL     string
	coordinator *session.Coordinator
	authed      *httpclient.CircuitBreakerClient
	anon        *httpclient.CircuitBreakerClient
	logger      *slog.Logger
}

// NewClient creates a Client bound to coordinator. Sign-in calls use a
// separate client without credentials, so a rejected password is never
// mistaken for an expired token.
func NewClient(coordinator *session.Coordinator, cfg Config, logger *slog.Logger) *Client {
	interceptor := session.NewRequestInterceptor(coordinator.Store(), logger)
	base := httpclient.New(cfg.HTTP, session.Wrapper(interceptor, coordinator))

	breaker := httpclient.NewCircuitBreakerClient(base, cfg.Breaker, logger)
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		coordinator: coordinator,
		authed:      breaker,
		anon:        httpclient.NewCircuitBreakerClient(httpclient.New(cfg.HTTP), cfg.Breaker, logger),
		logger:      logger,
	}
}

// Coordinator returns the session coordinator the client uses.
func (c *Client) Coordinator() *session.Coordinator {
	return c.coordinator
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// call sends a JSON request and decodes the (optionally enveloped) response
// into T. Non-2xx responses become AppErrors.
func call[T any](ctx context.Context, doer httpclient.Doer, method, endpoint string, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return zero, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := doer.Do(ctx, req)
	if err != nil {
		return zero, translate(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, httpclient.ParseResponseError(resp, ServiceName)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return zero, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return zero, nil
	}
	return httputil.Unwrap[T](data)
}

func translate(err error) error {
	if errors.Is(err, httpclient.ErrCircuitOpen) || errors.Is(err, httpclient.ErrTooManyProbes) {
		return fmt.Errorf("%w: %w", apperrors.ServiceUnavailable(ServiceName+": circuit open"), err)
	}
	return httpclient.AsAppError(err, ServiceName)
}

func (c *Client) raw(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	return call[json.RawMessage](ctx, c.authed, method, c.endpoint(path, query), body)
}
