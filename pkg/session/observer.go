package session

import "context"

// Observer is notified of session lifecycle changes. Callbacks run
// synchronously on the goroutine that caused the change and must not block.
type Observer interface {
	SignedIn(ctx context.Context, claims Claims)
	Refreshed(ctx context.Context, claims Claims)
	Ended(ctx context.Context, reason error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnSignedIn  func(ctx context.Context, claims Claims)
	OnRefreshed func(ctx context.Context, claims Claims)
	OnEnded     func(ctx context.Context, reason error)
}

func (f ObserverFuncs) SignedIn(ctx context.Context, claims Claims) {
	if f.OnSignedIn != nil {
		f.OnSignedIn(ctx, claims)
	}
}

func (f ObserverFuncs) Refreshed(ctx context.Context, claims Claims) {
	if f.OnRefreshed != nil {
		f.OnRefreshed(ctx, claims)
	}
}

func (f ObserverFuncs) Ended(ctx context.Context, reason error) {
	if f.OnEnded != nil {
		f.OnEnded(ctx, reason)
	}
}
