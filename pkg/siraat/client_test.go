package siraat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siraat/companion/internal/fakebackend"
	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httpclient"
	"github.com/siraat/companion/pkg/pagination"
	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/storage"
)

const (
	testEmail    = "omar@example.com"
	testPassword = "password123"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	backend *fakebackend.Server
	server  *httptest.Server
	kv      *storage.MemoryStore
	client  *Client
}

func testConfig(t *testing.T, baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.HTTP = httpclient.Config{
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 20,
	}
	cfg.Breaker = httpclient.DefaultCircuitBreakerConfig(t.Name())
	cfg.RefreshTimeout = 5 * time.Second
	return cfg
}

func newHarness(t *testing.T, bcfg fakebackend.Config) *harness {
	t.Helper()
	backend := fakebackend.New(bcfg, nil)
	backend.AddUser("Omar", testEmail, testPassword)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	kv := storage.NewMemoryStore()
	cfg := testConfig(t, srv.URL)
	coord := NewSession(kv, cfg, testLogger())
	return &harness{
		backend: backend,
		server:  srv,
		kv:      kv,
		client:  NewClient(coord, cfg, testLogger()),
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	_, err := h.client.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
}

func (h *harness) tokens(t *testing.T) session.Tokens {
	t.Helper()
	tokens, err := h.client.Coordinator().Store().Get(context.Background())
	require.NoError(t, err)
	return tokens
}

func TestLogin_StoresTokens(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())

	res, err := h.client.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Contains(t, string(res.User), testEmail)

	tokens := h.tokens(t)
	assert.Equal(t, res.AccessToken, tokens.AccessToken)
	assert.Equal(t, res.RefreshToken, tokens.RefreshToken)

	me, err := h.client.Me(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(me), testEmail)
}

func TestLogin_InvalidInputNeverHitsBackend(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())

	_, err := h.client.Login(context.Background(), LoginRequest{Email: "not-an-email"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}

func TestLogin_WrongPasswordKeepsExistingSession(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	before := h.tokens(t)

	_, err := h.client.Login(context.Background(), LoginRequest{Email: testEmail, Password: "wrong-password"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	assert.Equal(t, before, h.tokens(t))
	assert.Zero(t, h.backend.RefreshCalls(), "a rejected password must not look like an expired token")
}

func TestRegister(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())

	res, err := h.client.Register(context.Background(), RegisterRequest{
		Name: "Maryam", Email: "maryam@example.com", Password: "long-enough",
	})
	require.NoError(t, err)
	assert.Equal(t, res.AccessToken, h.tokens(t).AccessToken)

	_, err = h.client.Register(context.Background(), RegisterRequest{
		Name: "Maryam", Email: "maryam@example.com", Password: "long-enough",
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = h.client.Register(context.Background(), RegisterRequest{Name: "x", Email: "x@example.com", Password: "short"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExpiredAccessToken_RefreshedTransparently(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	before := h.tokens(t)

	h.backend.ExpireAccessTokens()

	names, err := h.client.Names(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(names), "Merciful")

	after := h.tokens(t)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken, "refresh token rotated")
	assert.Equal(t, 1, h.backend.RefreshCalls())
}

func TestExpiredAccessToken_ConcurrentCallsShareOneRefresh(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	h.backend.SetRefreshDelay(50 * time.Millisecond)
	h.backend.ExpireAccessTokens()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.client.Surahs(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "call %d", i)
	}
	assert.Equal(t, 1, h.backend.RefreshCalls())
}

func TestRevokedRefreshToken_EndsSession(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	h.backend.ExpireAccessTokens()
	h.backend.RevokeRefreshTokens()

	_, err := h.client.Feelings(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrRefreshFailed)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	assert.True(t, h.tokens(t).Empty())

	// Signed out now: the next call goes out without credentials.
	_, err = h.client.Feelings(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Equal(t, 1, h.backend.RefreshCalls())
}

func TestFlatRefreshResponse(t *testing.T) {
	cfg := fakebackend.DefaultConfig()
	cfg.RotateRefreshTokens = false
	h := newHarness(t, cfg)
	h.backend.SetFlatRefresh(true)
	h.login(t)
	before := h.tokens(t)
	h.backend.ExpireAccessTokens()

	_, err := h.client.DhikrList(context.Background())
	require.NoError(t, err)

	after := h.tokens(t)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken, "refresh token kept when not rotated")
}

func TestTransientRefreshFailureIsRetried(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	h.backend.FailRefreshes(1)
	h.backend.ExpireAccessTokens()

	_, err := h.client.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.backend.RefreshCalls())
}

func TestLogout(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	refresh := h.tokens(t).RefreshToken

	require.NoError(t, h.client.Logout(context.Background()))
	assert.True(t, h.tokens(t).Empty())

	// The backend revoked the refresh token as well.
	h.backend.ExpireAccessTokens()
	coord := NewSession(h.kv, testConfig(t, h.server.URL), testLogger())
	require.NoError(t, coord.Store().Set(context.Background(), "", refresh))
	_, err := coord.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, session.ErrRefreshFailed)
}

func TestLogout_BackendDownStillClears(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	h.server.Close()

	require.NoError(t, h.client.Logout(context.Background()))
	assert.True(t, h.tokens(t).Empty())
}

func TestContent(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	ctx := context.Background()
	lat, lng := 21.4225, 39.8262

	tests := []struct {
		name string
		call func() (json.RawMessage, error)
		want string
	}{
		{"prayer times by city", func() (json.RawMessage, error) {
			return h.client.PrayerTimes(ctx, PrayerTimesQuery{City: "Makkah", Date: "2026-03-01"})
		}, `"date":"2026-03-01"`},
		{"prayer times by coordinates", func() (json.RawMessage, error) {
			return h.client.PrayerTimes(ctx, PrayerTimesQuery{Latitude: &lat, Longitude: &lng})
		}, `"lat":21.4225`},
		{"surah", func() (json.RawMessage, error) { return h.client.Surah(ctx, 1) }, "Al-Fatiha"},
		{"ayah", func() (json.RawMessage, error) { return h.client.Ayah(ctx, 112, 4) }, `"112:4"`},
		{"increment dhikr", func() (json.RawMessage, error) { return h.client.IncrementDhikr(ctx, "subhanallah") }, `"count":1`},
		{"hijri month", func() (json.RawMessage, error) { return h.client.HijriCalendar(ctx, 1447, 9) }, `"month":9`},
		{"calendar events", func() (json.RawMessage, error) { return h.client.CalendarEvents(ctx, 1447) }, "Ramadan"},
		{"qibla", func() (json.RawMessage, error) {
			return h.client.Qibla(ctx, Coordinates{Latitude: 51.5, Longitude: -0.12})
		}, "bearing"},
		{"name", func() (json.RawMessage, error) { return h.client.Name(ctx, 3) }, "King"},
		{"duas by category", func() (json.RawMessage, error) { return h.client.Duas(ctx, DuaQuery{Category: "morning"}) }, "morning-1"},
		{"dua", func() (json.RawMessage, error) { return h.client.Dua(ctx, "travel-1") }, "journey"},
		{"feeling", func() (json.RawMessage, error) { return h.client.Feeling(ctx, "grateful") }, "Grateful"},
		{"feeling by title", func() (json.RawMessage, error) { return h.client.Feeling(ctx, "Anxious") }, "anxious"},
		{"duas second page", func() (json.RawMessage, error) {
			return h.client.Duas(ctx, DuaQuery{Params: pagination.Params{Page: 2, PerPage: 1}})
		}, `"has_prev":true`},
		{"update preferences", func() (json.RawMessage, error) {
			return h.client.UpdatePreferences(ctx, map[string]any{"language": "ar"})
		}, `"language":"ar"`},
		{"preferences", func() (json.RawMessage, error) { return h.client.Preferences(ctx) }, `"language":"ar"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.call()
			require.NoError(t, err)
			assert.Contains(t, string(raw), tt.want)
			assert.NotContains(t, string(raw), `"data"`, "envelope is unwrapped")
		})
	}
}

func TestContent_Errors(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())
	h.login(t)
	ctx := context.Background()
	lat := 21.4

	_, err := h.client.PrayerTimes(ctx, PrayerTimesQuery{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.client.PrayerTimes(ctx, PrayerTimesQuery{Latitude: &lat})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "longitude missing")
	_, err = h.client.PrayerTimes(ctx, PrayerTimesQuery{City: "Makkah", Date: "01/03/2026"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = h.client.Surah(ctx, 115)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.client.HijriCalendar(ctx, 1447, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.client.Qibla(ctx, Coordinates{Latitude: 91})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.client.UpdatePreferences(ctx, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.client.Duas(ctx, DuaQuery{Params: pagination.Params{PerPage: 101}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.client.Feeling(ctx, "!!")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = h.client.Surah(ctx, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))

	_, err = h.client.Dua(ctx, "does-not-exist")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUnauthenticatedCallSurfaces401(t *testing.T) {
	h := newHarness(t, fakebackend.DefaultConfig())

	_, err := h.client.Names(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Zero(t, h.backend.RefreshCalls())
}

func TestCircuitOpen_MapsToServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.HTTP.MaxRetries = 0
	cfg.Breaker.MinRequests = 2
	cfg.Breaker.Timeout = time.Minute
	client := NewClient(NewSession(storage.NewMemoryStore(), cfg, testLogger()), cfg, testLogger())

	for i := 0; i < 2; i++ {
		_, err := client.Names(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, httpclient.ErrCircuitOpen))
	}

	_, err := client.Names(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, httpclient.ErrCircuitOpen)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))
}
