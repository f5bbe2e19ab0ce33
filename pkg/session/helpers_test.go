package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siraat/companion/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAPI accepts only "Bearer <valid>" and records the Authorization header
// of every request per path.
type fakeAPI struct {
	valid        atomic.Value
	unauthorized atomic.Int32

	mu     sync.Mutex
	seen   map[string][]string
	bodies map[string][]string
}

func newFakeAPI(valid string) *fakeAPI {
	f := &fakeAPI{seen: make(map[string][]string), bodies: make(map[string][]string)}
	f.valid.Store(valid)
	return f
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.seen[r.URL.Path] = append(f.seen[r.URL.Path], auth)
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], string(body))
	f.mu.Unlock()

	if auth != "Bearer "+f.valid.Load().(string) {
		f.unauthorized.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"token expired"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
}

func (f *fakeAPI) headers(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen[path]...)
}

func (f *fakeAPI) requestBodies(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies[path]...)
}

// stubRefresher counts calls and, when release is set, blocks until it is
// closed.
type stubRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	tokens  Tokens
	err     error
	seen    atomic.Value
}

func (s *stubRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	s.calls.Add(1)
	s.seen.Store(refreshToken)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return Tokens{}, ctx.Err()
		}
	}
	return s.tokens, s.err
}

type testSession struct {
	store       *TokenStore
	coordinator *Coordinator
	refresher   *stubRefresher
	api         *fakeAPI
	server      *httptest.Server
	client      *http.Client
}

func newTestSession(t *testing.T, refresher *stubRefresher, cfg CoordinatorConfig) *testSession {
	t.Helper()
	store := NewTokenStore(storage.NewMemoryStore(), "")
	require.NoError(t, store.Set(context.Background(), "oldToken", "refresh-1"))

	api := newFakeAPI("newToken")
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	coord := NewCoordinator(store, refresher, cfg, testLogger())
	transport := NewTransport(http.DefaultTransport, NewRequestInterceptor(store, testLogger()), coord)

	return &testSession{
		store:       store,
		coordinator: coord,
		refresher:   refresher,
		api:         api,
		server:      server,
		client:      &http.Client{Transport: transport},
	}
}

func pendingLen(c *Coordinator) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// failingKV is a storage.Store whose every call fails.
type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingKV) SetMany(context.Context, map[string]string) error  { return f.err }
func (f failingKV) Delete(context.Context, ...string) error           { return f.err }
func (f failingKV) Ping(context.Context) error                        { return f.err }
func (f failingKV) Close() error                                      { return nil }
