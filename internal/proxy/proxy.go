// Package proxy forwards front-end API calls to the Siraat backend under the
// companion's session.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"time"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httpclient"
	"github.com/siraat/companion/pkg/httputil"
	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/middleware"
	"github.com/siraat/companion/pkg/session"
)

// Proxy is a reverse proxy to the backend API. Credentials supplied by the
// caller are dropped; the session transport attaches the companion's own.
type Proxy struct {
	target *url.URL
	rp     *stdhttputil.ReverseProxy
	logger *slog.Logger
}

// New creates a Proxy to baseURL over transport, which is expected to be a
// session.Transport.
func New(baseURL string, transport http.RoundTripper, logger *slog.Logger) (*Proxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("proxy target must be an absolute URL")
	}

	p := &Proxy{target: target, logger: logger}
	p.rp = &stdhttputil.ReverseProxy{
		Rewrite:       p.rewrite,
		Transport:     transport,
		ErrorHandler:  p.errorHandler,
		FlushInterval: -1,
	}
	return p, nil
}

// ServeHTTP proxies r. The caller strips any mount prefix first.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) rewrite(pr *stdhttputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.SetXForwarded()

	pr.Out.Header.Del("Authorization")
	pr.Out.Header.Del("Cookie")
	if id := logger.CorrelationIDFromContext(pr.In.Context()); id != "" {
		pr.Out.Header.Set(middleware.CorrelationIDHeader, id)
	}
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, session.ErrRefreshFailed):
		appErr = apperrors.Unauthorized("session expired, sign in again")
	case errors.Is(err, httpclient.ErrCircuitOpen), errors.Is(err, httpclient.ErrTooManyProbes):
		appErr = apperrors.ServiceUnavailable("backend unavailable")
	case errors.Is(err, context.Canceled):
		// The front-end went away; nobody reads the answer.
		p.logger.DebugContext(r.Context(), "proxy request cancelled", slog.String("path", r.URL.Path))
		w.WriteHeader(499)
		return
	case errors.Is(err, context.DeadlineExceeded):
		appErr = &apperrors.AppError{
			Code:    "GATEWAY_TIMEOUT",
			Message: "backend did not answer in time",
			Status:  http.StatusGatewayTimeout,
			Err:     err,
		}
	default:
		appErr = &apperrors.AppError{
			Code:    "BAD_GATEWAY",
			Message: "backend unreachable",
			Status:  http.StatusBadGateway,
			Err:     err,
		}
	}

	p.logger.WarnContext(r.Context(), "proxy error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
		slog.Int("status", appErr.Status),
	)
	httputil.WriteError(w, r, appErr, p.logger)
}

// NewTransport builds the proxy's round tripper: the session layer on top
// of a circuit breaker on top of the pooled base transport.
func NewTransport(httpCfg httpclient.Config, breaker httpclient.CircuitBreakerConfig,
	coordinator *session.Coordinator, logger *slog.Logger,
) http.RoundTripper {
	base := httpclient.NewTransport(httpCfg)
	base.ResponseHeaderTimeout = responseHeaderTimeout(httpCfg.Timeout)

	interceptor := session.NewRequestInterceptor(coordinator.Store(), logger)
	return session.NewTransport(
		httpclient.NewBreakerTransport(base, breaker, logger),
		interceptor,
		coordinator,
	)
}

func responseHeaderTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
