package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siraat/companion/internal/fakebackend"
	"github.com/siraat/companion/pkg/httpclient"
	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/siraat"
	"github.com/siraat/companion/pkg/storage"
)

const (
	email    = "omar@example.com"
	password = "password123"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	backend *fakebackend.Server
	coord   *session.Coordinator
	proxy   http.Handler
}

func setup(t *testing.T, handler http.Handler) (*httptest.Server, siraat.Config) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := siraat.DefaultConfig(srv.URL + "/api/v1")
	cfg.HTTP = httpclient.Config{
		Timeout:         5 * time.Second,
		MaxRetries:      1,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 20,
	}
	cfg.Breaker = httpclient.DefaultCircuitBreakerConfig(t.Name())
	return srv, cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := fakebackend.New(fakebackend.DefaultConfig(), nil)
	backend.AddUser("Omar", email, password)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", backend.Handler()))
	_, cfg := setup(t, mux)

	coord := siraat.NewSession(storage.NewMemoryStore(), cfg, testLogger())
	client := siraat.NewClient(coord, cfg, testLogger())
	_, err := client.Login(context.Background(), siraat.LoginRequest{Email: email, Password: password})
	require.NoError(t, err)

	p, err := New(cfg.BaseURL, NewTransport(cfg.HTTP, cfg.Breaker, coord, testLogger()), testLogger())
	require.NoError(t, err)

	return &fixture{
		backend: backend,
		coord:   coord,
		proxy:   http.StripPrefix("/api", p),
	}
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.proxy.ServeHTTP(rec, req)
	return rec
}

func TestNew_RejectsRelativeTarget(t *testing.T) {
	_, err := New("/api/v1", http.DefaultTransport, testLogger())
	assert.Error(t, err)
}

func TestProxy_AttachesSessionCredentials(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/names", "", http.Header{"Authorization": {"Bearer forged"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Merciful")
}

func TestProxy_RefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.backend.ExpireAccessTokens()

	rec := f.do(http.MethodGet, "/api/quran/surahs/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Al-Fatiha")
	assert.Equal(t, 1, f.backend.RefreshCalls())
}

func TestProxy_ReplaysBodyAfterRefresh(t *testing.T) {
	f := newFixture(t)
	f.backend.ExpireAccessTokens()

	rec := f.do(http.MethodPut, "/api/users/me/preferences", `{"language":"ur"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"language":"ur"`)
}

func TestProxy_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	f.backend.SetRefreshDelay(50 * time.Millisecond)
	f.backend.ExpireAccessTokens()

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = f.do(http.MethodGet, "/api/feelings", "", nil).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "request %d", i)
	}
	assert.Equal(t, 1, f.backend.RefreshCalls())
}

func TestProxy_RefreshFailureAnswers401AndEndsSession(t *testing.T) {
	f := newFixture(t)
	f.backend.ExpireAccessTokens()
	f.backend.RevokeRefreshTokens()

	rec := f.do(http.MethodGet, "/api/dhikr", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	assert.Contains(t, rec.Body.String(), "sign in again")

	tokens, err := f.coord.Store().Get(context.Background())
	require.NoError(t, err)
	assert.True(t, tokens.Empty())
}

func TestProxy_BackendErrorsPassThrough(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/quran/surahs/50", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestProxy_ForwardsCorrelationIDAndStripsCredentials(t *testing.T) {
	var mu sync.Mutex
	var got http.Header
	_, cfg := setup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Clone()
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))

	coord := siraat.NewSession(storage.NewMemoryStore(), cfg, testLogger())
	require.NoError(t, coord.Store().Set(context.Background(), "session-token", "refresh"))

	p, err := New(cfg.BaseURL, NewTransport(cfg.HTTP, cfg.Breaker, coord, testLogger()), testLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/names", nil)
	req.Header.Set("Authorization", "Bearer forged")
	req.Header.Set("Cookie", "sid=abc")
	req = req.WithContext(logger.WithCorrelationID(req.Context(), "corr-123"))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer session-token", got.Get("Authorization"))
	assert.Empty(t, got.Get("Cookie"))
	assert.Equal(t, "corr-123", got.Get("X-Correlation-ID"))
	assert.NotEmpty(t, got.Get("X-Forwarded-For"))
}

func TestProxy_UnreachableBackend(t *testing.T) {
	srv, cfg := setup(t, http.NotFoundHandler())
	srv.Close()

	coord := siraat.NewSession(storage.NewMemoryStore(), cfg, testLogger())
	p, err := New(cfg.BaseURL, NewTransport(cfg.HTTP, cfg.Breaker, coord, testLogger()), testLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/names", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "BAD_GATEWAY")
}

func TestProxy_OpenBreakerAnswers503(t *testing.T) {
	_, cfg := setup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	cfg.Breaker.MinRequests = 2
	cfg.Breaker.Timeout = time.Minute

	coord := siraat.NewSession(storage.NewMemoryStore(), cfg, testLogger())
	p, err := New(cfg.BaseURL, NewTransport(cfg.HTTP, cfg.Breaker, coord, testLogger()), testLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/names", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code, "upstream 5xx passes through")
	}

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/names", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
}
