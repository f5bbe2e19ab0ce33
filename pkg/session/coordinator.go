package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/siraat/companion/pkg/logger"
)

const tracerName = "github.com/siraat/companion/pkg/session"

// State is the refresh state of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CoordinatorConfig tunes a Coordinator.
type CoordinatorConfig struct {
	// RefreshTimeout bounds a single refresh, independent of the callers
	// waiting on it.
	RefreshTimeout time.Duration
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{RefreshTimeout: 15 * time.Second}
}

type result struct {
	token string
	err   error
}

// Coordinator serializes token refreshes for one session. However many
// requests fail with 401 at once, at most one refresh is in flight; the rest
// wait in a FIFO queue and are handed its outcome.
type Coordinator struct {
	store     *TokenStore
	refresher Refresher
	cfg       CoordinatorConfig
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	queue      []chan result
	generation uint64
	observers  []Observer
}

// NewCoordinator creates a Coordinator in the idle state.
func NewCoordinator(store *TokenStore, refresher Refresher, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultCoordinatorConfig().RefreshTimeout
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Store returns the TokenStore the coordinator manages.
func (c *Coordinator) Store() *TokenStore {
	return c.store
}

// Observe registers o for lifecycle callbacks.
func (c *Coordinator) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the current refresh state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnUnauthorized is called after a request sent with usedToken was answered
// with 401. It returns the access token to replay the request with.
//
// A request that was already replayed gets ErrRetryExhausted. If another
// request has refreshed since usedToken was attached, the stored token is
// returned at once. Otherwise the caller starts or joins the single refresh
// and blocks until it completes or ctx is done.
func (c *Coordinator) OnUnauthorized(ctx context.Context, meta RequestMeta, usedToken string) (string, error) {
	if !meta.CanRetry() {
		return "", ErrRetryExhausted
	}

	c.mu.Lock()
	if c.state == StateIdle {
		tokens, err := c.store.Get(ctx)
		if err == nil {
			switch {
			case tokens.Empty():
				// Already ended, typically by a refresh that failed a moment ago.
				c.mu.Unlock()
				return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoSession)
			case usedToken != "" && tokens.AccessToken != "" && tokens.AccessToken != usedToken:
				c.mu.Unlock()
				return tokens.AccessToken, nil
			}
		}
	}
	ch := c.enqueueLocked(ctx)
	c.mu.Unlock()

	return c.wait(ctx, ch)
}

// EnsureValidToken returns an access token to send, waiting for a refresh in
// flight. When only a refresh token is stored it refreshes first. It returns
// ErrNoSession when nothing is stored.
func (c *Coordinator) EnsureValidToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state == StateRefreshing {
		ch := c.enqueueLocked(ctx)
		c.mu.Unlock()
		return c.wait(ctx, ch)
	}

	tokens, err := c.store.Get(ctx)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("read session: %w", err)
	}
	if tokens.AccessToken != "" {
		c.mu.Unlock()
		return tokens.AccessToken, nil
	}
	if tokens.RefreshToken == "" {
		c.mu.Unlock()
		return "", ErrNoSession
	}

	ch := c.enqueueLocked(ctx)
	c.mu.Unlock()
	return c.wait(ctx, ch)
}

// SignIn stores freshly issued tokens. A refresh still in flight is
// superseded and its outcome discarded.
func (c *Coordinator) SignIn(ctx context.Context, tokens Tokens) error {
	c.mu.Lock()
	c.generation++
	err := c.store.Set(ctx, tokens.AccessToken, tokens.RefreshToken)
	observers := c.observers
	c.mu.Unlock()

	if err != nil {
		return err
	}

	claims, cerr := ParseClaims(tokens.AccessToken)
	if cerr != nil {
		c.logger.DebugContext(ctx, "access token claims unreadable", slog.String("error", cerr.Error()))
	}
	for _, o := range observers {
		o.SignedIn(ctx, claims)
	}
	return nil
}

// SignOut clears the stored tokens and supersedes any refresh in flight.
// Observers hear Ended only if a session was stored.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	ctx = c.withSubjectLocked(ctx)
	held, getErr := c.store.Get(ctx)
	err := c.store.Clear(ctx)
	observers := c.observers
	c.mu.Unlock()

	if err != nil {
		return err
	}
	// Already signed out, e.g. by a failed refresh that reported Ended.
	if getErr == nil && held.Empty() {
		return nil
	}
	for _, o := range observers {
		o.Ended(ctx, ErrNoSession)
	}
	return nil
}

// enqueueLocked appends a waiter and, when idle, starts the refresh. c.mu
// must be held.
func (c *Coordinator) enqueueLocked(ctx context.Context) chan result {
	ch := make(chan result, 1)
	c.queue = append(c.queue, ch)
	QueuedRequests.Inc()

	if c.state == StateIdle {
		c.state = StateRefreshing
		Refreshing.Set(1)
		// The refresh outlives any single caller: it keeps the caller's
		// values (trace, correlation ID) but not its cancellation.
		go c.refresh(context.WithoutCancel(ctx), c.generation)
	}
	return ch
}

func (c *Coordinator) wait(ctx context.Context, ch <-chan result) (string, error) {
	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.refresh",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	c.mu.Lock()
	ctx = c.withSubjectLocked(ctx)
	c.mu.Unlock()

	start := time.Now()
	tokens, err := c.callRefresher(ctx)
	RefreshDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	outcome, res := c.settleLocked(ctx, gen, tokens, err)
	waiters := c.queue
	c.queue = nil
	for _, w := range waiters {
		w <- res
	}
	c.state = StateIdle
	Refreshing.Set(0)
	observers := c.observers
	c.mu.Unlock()

	RefreshTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("session.refresh.outcome", outcome),
		attribute.Int("session.refresh.waiters", len(waiters)),
	)

	switch outcome {
	case "success":
		span.SetStatus(codes.Ok, "")
		c.logger.InfoContext(ctx, "session refreshed", slog.Int("waiters", len(waiters)))
		claims, _ := ParseClaims(res.token)
		for _, o := range observers {
			o.Refreshed(ctx, claims)
		}
	case "failure":
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		c.logger.WarnContext(ctx, "session refresh failed, session cleared",
			slog.String("error", res.err.Error()),
			slog.Int("waiters", len(waiters)),
		)
		for _, o := range observers {
			o.Ended(ctx, res.err)
		}
	default:
		c.logger.InfoContext(ctx, "session refresh superseded", slog.Int("waiters", len(waiters)))
	}
}

// withSubjectLocked tags ctx with the subject of the stored access token so
// logs and the Ended callback can name the session. c.mu must be held.
func (c *Coordinator) withSubjectLocked(ctx context.Context) context.Context {
	if logger.SubjectFromContext(ctx) != "" {
		return ctx
	}
	tokens, err := c.store.Get(ctx)
	if err != nil || tokens.AccessToken == "" {
		return ctx
	}
	claims, err := ParseClaims(tokens.AccessToken)
	if err != nil || claims.Subject == "" {
		return ctx
	}
	return logger.WithSubject(ctx, claims.Subject)
}

func (c *Coordinator) callRefresher(ctx context.Context) (Tokens, error) {
	current, err := c.store.Get(ctx)
	if err != nil {
		return Tokens{}, err
	}
	if current.RefreshToken == "" {
		return Tokens{}, ErrNoSession
	}
	tokens, err := c.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return Tokens{}, err
	}
	if tokens.AccessToken == "" {
		return Tokens{}, errors.New("refresh returned no access token")
	}
	return tokens, nil
}

// settleLocked applies the refresh outcome to the store and builds the result
// handed to every waiter. c.mu must be held.
func (c *Coordinator) settleLocked(ctx context.Context, gen uint64, tokens Tokens, err error) (string, result) {
	if gen != c.generation {
		// Signed in or out meanwhile: waiters get whatever session exists now.
		current, gerr := c.store.Get(ctx)
		if gerr == nil && current.AccessToken != "" {
			return "superseded", result{token: current.AccessToken}
		}
		return "superseded", result{err: fmt.Errorf("%w: %w", ErrRefreshFailed, ErrSessionReplaced)}
	}

	if err == nil {
		err = c.store.Set(ctx, tokens.AccessToken, tokens.RefreshToken)
		if err == nil {
			return "success", result{token: tokens.AccessToken}
		}
	}

	if cerr := c.store.Clear(ctx); cerr != nil {
		c.logger.ErrorContext(ctx, "clear session after failed refresh", slog.String("error", cerr.Error()))
	}
	return "failure", result{err: fmt.Errorf("%w: %w", ErrRefreshFailed, err)}
}
