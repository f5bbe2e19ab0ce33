package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig configures a breaker in front of one backend.
type CircuitBreakerConfig struct {
	// Name labels the breaker's metrics and logs.
	Name string

	// MaxRequests is how many probes the half-open state lets through.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureRatio trips the breaker once MinRequests have been counted.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig returns sensible defaults for a circuit breaker.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siraat_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// BreakerRejected counts calls refused without reaching the backend.
	BreakerRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siraat_circuit_breaker_rejected_total",
			Help: "Total number of calls rejected by an open or saturated circuit breaker",
		},
		[]string{"name"},
	)
)

var (
	// ErrCircuitOpen is returned while the breaker is open.
	ErrCircuitOpen = gobreaker.ErrOpenState
	// ErrTooManyProbes is returned in the half-open state once MaxRequests probes are in flight.
	ErrTooManyProbes = gobreaker.ErrTooManyRequests
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// breaker is a gobreaker instance plus the name its metrics are kept under.
type breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[*http.Response]
}

func newBreaker(cfg CircuitBreakerConfig, logger *slog.Logger) *breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// A cancelled caller says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)
	return &breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker[*http.Response](settings)}
}

func (b *breaker) execute(fn func() (*http.Response, error)) (*http.Response, error) {
	resp, err := b.cb.Execute(fn)
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyProbes) {
		BreakerRejected.WithLabelValues(b.name).Inc()
	}
	return resp, err
}

// drainServerError turns a 5xx response into a *ServerError so the breaker
// counts it as a failure.
func drainServerError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		body = []byte{}
	}
	_ = resp.Body.Close()
	return &ServerError{StatusCode: resp.StatusCode, Body: body}
}

// CircuitBreakerClient puts a breaker in front of a Client. 5xx responses
// count as failures and are returned as *ServerError.
type CircuitBreakerClient struct {
	client  *Client
	breaker *breaker
}

// NewCircuitBreakerClient wraps client with a breaker configured by cfg.
func NewCircuitBreakerClient(client *Client, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	return &CircuitBreakerClient{client: client, breaker: newBreaker(cfg, logger)}
}

// Do executes req through the breaker.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.breaker.execute(func() (*http.Response, error) {
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, drainServerError(resp)
		}
		return resp, nil
	})
}

// State returns the current state of the circuit breaker.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.cb.State()
}

// BreakerTransport is the RoundTripper form of the breaker, for callers such
// as a reverse proxy that need the raw response. 5xx responses are handed
// back intact but still count as failures.
type BreakerTransport struct {
	base    http.RoundTripper
	breaker *breaker
}

// NewBreakerTransport wraps base with a circuit breaker.
func NewBreakerTransport(base http.RoundTripper, cfg CircuitBreakerConfig, logger *slog.Logger) *BreakerTransport {
	return &BreakerTransport{base: base, breaker: newBreaker(cfg, logger)}
}

// RoundTrip implements http.RoundTripper.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var upstream *http.Response
	_, err := t.breaker.execute(func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		upstream = resp
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if upstream != nil {
		return upstream, nil
	}
	return nil, err
}

// State returns the current state of the circuit breaker.
func (t *BreakerTransport) State() gobreaker.State {
	return t.breaker.cb.State()
}
