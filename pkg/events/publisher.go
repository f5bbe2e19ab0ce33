package events

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/siraat/companion/pkg/logger"
	"github.com/siraat/companion/pkg/session"
)

// Publisher is a session.Observer that turns lifecycle callbacks into events.
// Publish failures are logged; they never affect the session.
type Publisher struct {
	producer *Producer
	source   string
	host     string
	logger   *slog.Logger
}

var _ session.Observer = (*Publisher)(nil)

// NewPublisher creates a Publisher stamping events with source.
func NewPublisher(producer *Producer, source string, logger *slog.Logger) *Publisher {
	host, _ := os.Hostname()
	return &Publisher{producer: producer, source: source, host: host, logger: logger}
}

// ClaimsData is the payload of signed_in and refreshed events.
type ClaimsData struct {
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// EndedData is the payload of ended events.
type EndedData struct {
	Reason string `json:"reason"`
}

func (p *Publisher) SignedIn(ctx context.Context, claims session.Claims) {
	p.publish(ctx, TypeSignedIn, claims.Subject, toClaimsData(claims))
}

func (p *Publisher) Refreshed(ctx context.Context, claims session.Claims) {
	p.publish(ctx, TypeRefreshed, claims.Subject, toClaimsData(claims))
}

func (p *Publisher) Ended(ctx context.Context, reason error) {
	data := EndedData{Reason: "signed_out"}
	if reason != nil {
		data.Reason = reason.Error()
	}
	p.publish(ctx, TypeEnded, logger.SubjectFromContext(ctx), data)
}

func (p *Publisher) publish(ctx context.Context, eventType, subject string, data any) {
	event, err := NewEvent(eventType, subject, p.source, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "build session event", slog.String("error", err.Error()))
		return
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if p.host != "" {
		event.WithMetadata("host", p.host)
	}
	_ = p.producer.Publish(ctx, event)
}

func toClaimsData(c session.Claims) ClaimsData {
	d := ClaimsData{Email: c.Email, Role: c.Role}
	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt.UTC()
		d.ExpiresAt = &exp
	}
	return d
}
