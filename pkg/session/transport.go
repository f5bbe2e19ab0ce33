package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/siraat/companion/pkg/httpclient"
)

// MaxReplays is how many times a request may be replayed after a refresh.
const MaxReplays = 1

// RequestMeta travels with one logical request across its attempts.
type RequestMeta struct {
	RetryCount int
}

// CanRetry reports whether the request may still be replayed.
func (m RequestMeta) CanRetry() bool {
	return m.RetryCount < MaxReplays
}

// Transport is an http.RoundTripper that attaches the session token, and on a
// 401 waits for the shared refresh and replays the request once.
type Transport struct {
	base        http.RoundTripper
	interceptor *RequestInterceptor
	coordinator *Coordinator
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, interceptor *RequestInterceptor, coordinator *Coordinator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, interceptor: interceptor, coordinator: coordinator}
}

// Wrapper returns a function that wraps a RoundTripper with a Transport, in
// the shape httpclient.New accepts.
func Wrapper(interceptor *RequestInterceptor, coordinator *Coordinator) func(http.RoundTripper) http.RoundTripper {
	return func(base http.RoundTripper) http.RoundTripper {
		return NewTransport(base, interceptor, coordinator)
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	meta := MetaFromContext(req.Context())
	attempt := req
	for {
		out, usedToken := t.interceptor.Intercept(attempt)
		if getBody != nil {
			body, err := getBody()
			if err != nil {
				return nil, httpclient.Permanent(fmt.Errorf("rewind request body: %w", err))
			}
			out.Body = body
			out.GetBody = getBody
		}

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || usedToken == "" || !meta.CanRetry() {
			return resp, nil
		}

		drain(resp)
		if _, err := t.coordinator.OnUnauthorized(req.Context(), meta, usedToken); err != nil {
			// The session is gone; resending would only go out unauthenticated.
			return nil, httpclient.Permanent(err)
		}
		meta.RetryCount++
		ReplayTotal.Inc()
		// The interceptor picks the refreshed token up from the store.
		attempt = req.WithContext(contextWithMeta(req.Context(), meta))
	}
}

// replayableBody returns a function producing fresh copies of the request
// body, or nil for a request without one.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		// Every attempt reads a fresh copy, so the original is done with.
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

type metaKey struct{}

func contextWithMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext returns the RequestMeta of a replayed request. A request
// that already carries one is not replayed past MaxReplays again, even when
// it passes through a second Transport.
func MetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(metaKey{}).(RequestMeta)
	return meta
}
