package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/siraat/companion/pkg/session"
)

// NewLoggingObserver logs session lifecycle changes.
func NewLoggingObserver(logger *slog.Logger) session.Observer {
	return session.ObserverFuncs{
		OnSignedIn: func(ctx context.Context, c session.Claims) {
			logger.InfoContext(ctx, "session signed in",
				slog.String("subject", c.Subject),
				slog.String("email", c.Email),
			)
		},
		OnRefreshed: func(ctx context.Context, c session.Claims) {
			logger.DebugContext(ctx, "session refreshed",
				slog.String("subject", c.Subject),
				slog.Time("expires_at", c.ExpiresAt),
			)
		},
		OnEnded: func(ctx context.Context, reason error) {
			if errors.Is(reason, session.ErrNoSession) {
				logger.InfoContext(ctx, "session signed out")
				return
			}
			logger.WarnContext(ctx, "session ended", slog.String("reason", reason.Error()))
		},
	}
}
