package session

import "errors"

var (
	// ErrNoSession is returned when no tokens are stored.
	ErrNoSession = errors.New("no active session")

	// ErrRefreshFailed wraps every error delivered to callers waiting on a
	// refresh that did not produce a new access token.
	ErrRefreshFailed = errors.New("session refresh failed")

	// ErrRetryExhausted is returned by OnUnauthorized for a request that was
	// already replayed once.
	ErrRetryExhausted = errors.New("request already retried")

	// ErrSessionReplaced is the refresh outcome when the session was signed
	// out while the refresh was in flight.
	ErrSessionReplaced = errors.New("session changed during refresh")
)
