package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siraat/companion/internal/config"
	"github.com/siraat/companion/internal/fakebackend"
	"github.com/siraat/companion/pkg/health"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Environment:         "development",
		LogLevel:            "info",
		APIBaseURL:          baseURL,
		HTTPTimeout:         5 * time.Second,
		MaxRetries:          1,
		RetryWaitMin:        time.Millisecond,
		RetryWaitMax:        time.Millisecond,
		RefreshTimeout:      5 * time.Second,
		RefreshPath:         "/auth/refresh",
		TokenStore:          storage.BackendMemory,
		HTTPPort:            0,
		RateLimitRPS:        1000,
		RateLimitBurst:      1000,
		MetricsAllowedCIDRs: []string{"127.0.0.0/8"},
		BreakerTimeout:      time.Second,
		BreakerFailureRatio: 0.5,
		BreakerMinRequests:  5,
	}
}

func newBackend(t *testing.T) (*fakebackend.Server, string) {
	t.Helper()
	backend := fakebackend.New(fakebackend.DefaultConfig(), nil)
	backend.AddUser("Maryam", "maryam@example.com", "password123")
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, srv.URL
}

// start runs the app in the background and returns its base URL and a stop
// function that waits for Run to return.
func start(t *testing.T, a *App) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("app exited before listening: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("app did not start listening")
	}

	base := "http://" + a.Addr().String()
	return base, func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return fmt.Errorf("app did not stop")
		}
	}
}

func TestApp_LoginProxyAndShutdown(t *testing.T) {
	backend, url := newBackend(t)
	a, err := NewApp(context.Background(), testConfig(url), testLogger(), "test")
	require.NoError(t, err)
	assert.Nil(t, a.Addr())

	base, stop := start(t, a)

	resp, err := http.Get(base + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := json.Marshal(map[string]string{"email": "maryam@example.com", "password": "password123"})
	resp, err = http.Post(base+"/session/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	backend.ExpireAccessTokens()

	resp, err = http.Get(base + "/api/auth/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, backend.RefreshCalls())

	var me struct {
		Data struct {
			Email string `json:"email"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "maryam@example.com", me.Data.Email)

	require.NoError(t, stop())

	_, err = http.Get(base + "/health/live")
	assert.Error(t, err)
}

func TestApp_ReadinessFollowsRedis(t *testing.T) {
	_, url := newBackend(t)
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := testConfig(url)
	cfg.TokenStore = storage.BackendRedis
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = port

	a, err := NewApp(context.Background(), cfg, testLogger(), "test")
	require.NoError(t, err)
	base, stop := start(t, a)
	defer func() { _ = stop() }()

	resp, err := http.Get(base + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mr.Close()

	resp, err = http.Get(base + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var out health.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, health.StatusDown, out.Status)
	assert.Equal(t, health.StatusDown, out.Checks["token_store"].Status)
	assert.Equal(t, health.StatusUp, out.Checks["backend"].Status)
}

func TestApp_RedisUnavailable(t *testing.T) {
	_, url := newBackend(t)
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	host := mr.Host()
	mr.Close()

	cfg := testConfig(url)
	cfg.TokenStore = storage.BackendRedis
	cfg.RedisHost = host
	cfg.RedisPort = port

	_, err := NewApp(context.Background(), cfg, testLogger(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open token store")
}

func TestCore_Close(t *testing.T) {
	_, url := newBackend(t)
	core, err := NewCore(context.Background(), testConfig(url), testLogger())
	require.NoError(t, err)
	assert.Nil(t, core.Producer)
	require.NoError(t, core.KV.Ping(context.Background()))
	assert.NoError(t, core.Close(context.Background()))
}

func TestApp_RestoresStoredRefreshToken(t *testing.T) {
	backend, url := newBackend(t)
	_, refresh, err := backend.IssueTokens("maryam@example.com")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	fs, err := storage.NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.SetMany(context.Background(), map[string]string{session.RefreshTokenKey: refresh}))

	cfg := testConfig(url)
	cfg.TokenStore = storage.BackendFile
	cfg.TokenFile = path
	a, err := NewApp(context.Background(), cfg, testLogger(), "test")
	require.NoError(t, err)

	base, stop := start(t, a)
	defer func() { require.NoError(t, stop()) }()
	assert.Equal(t, 1, backend.RefreshCalls())

	resp, err := http.Get(base + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Authenticated bool   `json:"authenticated"`
			Email         string `json:"email"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Data.Authenticated)
	assert.Equal(t, "maryam@example.com", out.Data.Email)
}
