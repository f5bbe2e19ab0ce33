package siraat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siraat/companion/pkg/session"
	"github.com/siraat/companion/pkg/storage"
)

// rejectingAPI answers 401 to everything and counts requests with and
// without credentials.
type rejectingAPI struct {
	authed atomic.Int32
	anon   atomic.Int32
}

func (a *rejectingAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		a.anon.Add(1)
	} else {
		a.authed.Add(1)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"expired"}}`))
}

type failingRefreshEnv struct {
	api       *rejectingAPI
	client    *Client
	refreshes *atomic.Int32
	ended     *atomic.Int32
}

func newFailingRefreshEnv(t *testing.T, refresh session.RefresherFunc, timeout time.Duration) *failingRefreshEnv {
	t.Helper()
	api := &rejectingAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	var refreshes, ended atomic.Int32
	store := session.NewTokenStore(storage.NewMemoryStore(), "")
	require.NoError(t, store.Set(context.Background(), "old", "refresh-1"))
	coord := session.NewCoordinator(store, session.RefresherFunc(func(ctx context.Context, token string) (session.Tokens, error) {
		refreshes.Add(1)
		return refresh(ctx, token)
	}), session.CoordinatorConfig{RefreshTimeout: timeout}, testLogger())
	coord.Observe(session.ObserverFuncs{OnEnded: func(context.Context, error) { ended.Add(1) }})

	return &failingRefreshEnv{
		api:       api,
		client:    NewClient(coord, testConfig(t, srv.URL), testLogger()),
		refreshes: &refreshes,
		ended:     &ended,
	}
}

func TestRefreshFailure_SurfacesThroughClient(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name    string
		refresh session.RefresherFunc
		cause   func(t *testing.T, err error)
	}{
		{
			name: "network error",
			refresh: func(context.Context, string) (session.Tokens, error) {
				return session.Tokens{}, dialErr
			},
			cause: func(t *testing.T, err error) {
				var opErr *net.OpError
				assert.ErrorAs(t, err, &opErr)
			},
		},
		{
			name: "refresh timeout",
			refresh: func(ctx context.Context, _ string) (session.Tokens, error) {
				<-ctx.Done()
				return session.Tokens{}, ctx.Err()
			},
			cause: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newFailingRefreshEnv(t, tt.refresh, 50*time.Millisecond)

			_, err := env.client.Surahs(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, session.ErrRefreshFailed)
			tt.cause(t, err)

			assert.Equal(t, int32(1), env.api.authed.Load())
			assert.Zero(t, env.api.anon.Load(), "nothing is resent once the session is gone")
			assert.Equal(t, int32(1), env.refreshes.Load())

			tokens, err := env.client.Coordinator().Store().Get(context.Background())
			require.NoError(t, err)
			assert.True(t, tokens.Empty())
		})
	}
}

func TestLogout_RefreshFailureEndsSessionOnce(t *testing.T) {
	env := newFailingRefreshEnv(t, func(context.Context, string) (session.Tokens, error) {
		return session.Tokens{}, errors.New("refresh token revoked")
	}, time.Second)

	require.NoError(t, env.client.Logout(context.Background()))

	// Observers run after waiters are released.
	require.Eventually(t, func() bool { return env.ended.Load() == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return env.ended.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(1), env.refreshes.Load())
}
